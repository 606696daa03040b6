package ipcserver

import (
	"context"

	"github.com/atom-ide/atomd/internal/wire"
)

// Request bundles everything a Handler needs to service one request body:
// the deserialized body itself, the connection's cached workspace root,
// and a hook the handler may use to push a Notification on its own
// connection outside of the request/response cycle.
type Request struct {
	Body          wire.RequestBody
	WorkspaceRoot string
	Notify        func(wire.NotificationBody)
}

// Handler executes one request variant and returns its terminal response.
// Implementations must be cancel-safe: ctx is cancelled the
// instant a matching Cancel envelope arrives, and the server abandons the
// call at that point without waiting for it to return. GetStats never
// reaches a Handler; the server answers it directly from internal/metrics.
type Handler interface {
	Handle(ctx context.Context, req Request) wire.ResponseBody
}
