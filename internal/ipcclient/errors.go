package ipcclient

import "errors"

// Sentinel errors returned by Client methods.
var (
	ErrConnectionFailed = errors.New("ipcclient: connection failed")
	ErrChannelClosed    = errors.New("ipcclient: connection closed")
	ErrTimeout          = errors.New("ipcclient: request timed out")
	ErrBackpressure     = errors.New("ipcclient: too many pending requests")
	ErrCancelled        = errors.New("ipcclient: cancelled")
)
