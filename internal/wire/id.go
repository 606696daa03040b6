// Package wire defines the IPC protocol's data model: the request id,
// envelope, and the closed sets of request/response/notification variants
// carried over the wire between the UI process and the daemon.
package wire

import "github.com/google/uuid"

// RequestID is the 128-bit correlation key used for every request,
// response, and cancellation on a connection.
type RequestID uuid.UUID

// NewRequestID allocates a fresh, universally unique request id.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// String renders the canonical UUID text form.
func (id RequestID) String() string { return uuid.UUID(id).String() }

// ZeroRequestID is the nil request id; never produced by NewRequestID.
var ZeroRequestID RequestID
