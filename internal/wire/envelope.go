package wire

// payload tags, one byte on the wire, in variant order: Request, Response,
// Notification, Cancel.
const (
	tagRequest byte = iota
	tagResponse
	tagNotification
	tagCancel
)

// Payload is the closed set of top-level envelope bodies. The set is fixed
// for protocol version 1; there are no other implementers.
type Payload interface{ payloadTag() byte }

// Request carries one of the closed RequestBody variants.
type Request struct{ Body RequestBody }

func (Request) payloadTag() byte { return tagRequest }

// Response carries one of the closed ResponseBody variants.
type Response struct{ Body ResponseBody }

func (Response) payloadTag() byte { return tagResponse }

// Notification carries one of the closed NotificationBody variants.
type Notification struct{ Body NotificationBody }

func (Notification) payloadTag() byte { return tagNotification }

// Cancel targets a previously issued request for cancellation. The
// envelope's own ID is a fresh id; TargetID names the request to abort.
type Cancel struct{ TargetID RequestID }

func (Cancel) payloadTag() byte { return tagCancel }

// Envelope is the logical unit carried by one frame.
type Envelope struct {
	ID             RequestID
	DeadlineMillis uint64
	Payload        Payload
}

// NewRequestEnvelope builds a Request envelope with a fresh id and the given
// absolute deadline (0 means unset).
func NewRequestEnvelope(body RequestBody, deadlineMillis uint64) Envelope {
	return Envelope{ID: NewRequestID(), DeadlineMillis: deadlineMillis, Payload: Request{Body: body}}
}

// NewResponseEnvelope echoes id, the originating request's id, which is the
// sole correlation key between a response and its request.
func NewResponseEnvelope(id RequestID, body ResponseBody) Envelope {
	return Envelope{ID: id, Payload: Response{Body: body}}
}

// NewNotificationEnvelope builds a Notification envelope with a fresh id;
// notifications are not correlated to any request.
func NewNotificationEnvelope(body NotificationBody) Envelope {
	return Envelope{ID: NewRequestID(), Payload: Notification{Body: body}}
}

// NewCancelEnvelope builds a Cancel envelope targeting target, with its own
// fresh id and short wire-bookkeeping deadline.
func NewCancelEnvelope(target RequestID, deadlineMillis uint64) Envelope {
	return Envelope{ID: NewRequestID(), DeadlineMillis: deadlineMillis, Payload: Cancel{TargetID: target}}
}
