package ipcclient

import (
	"context"
	"fmt"
	"time"

	"github.com/atom-ide/atomd/internal/metrics"
	"github.com/atom-ide/atomd/internal/wire"
)

// StartRequest admits a request against the pending-table cap, sends it,
// and returns its id plus a one-shot result channel. Callers that need
// cancellation support should hold onto the id and call Cancel; Request
// wraps this for the common call-and-wait case.
func (c *Client) StartRequest(body wire.RequestBody) (wire.RequestID, <-chan Result, error) {
	id := wire.NewRequestID()
	resultCh := make(chan Result, 1)

	c.pendingMu.Lock()
	if len(c.pending) >= c.cfg.MaxPendingRequests {
		c.pendingMu.Unlock()
		metrics.IncClientBackpressure()
		return id, nil, ErrBackpressure
	}
	c.pending[id] = resultCh
	c.pendingMu.Unlock()

	deadline := uint64(time.Now().Add(c.cfg.RequestTimeout).UnixMilli())
	env := wire.Envelope{ID: id, DeadlineMillis: deadline, Payload: wire.Request{Body: body}}

	select {
	case c.sendCh <- env:
	case <-c.closed:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return id, nil, ErrChannelClosed
	}
	return id, resultCh, nil
}

// Request sends body and blocks until a response arrives, ctx is done, or
// the configured request timeout elapses, whichever comes first.
func (c *Client) Request(ctx context.Context, body wire.RequestBody) (wire.ResponseBody, error) {
	id, resultCh, err := c.StartRequest(body)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.Body, res.Err
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ErrTimeout
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrChannelClosed
	}
}

// Ping verifies the connection is alive end to end.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Request(ctx, wire.Ping{})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.Pong); !ok {
		return fmt.Errorf("ipcclient: unexpected response to ping: %T", resp)
	}
	return nil
}

// Cancel aborts a previously started request: it resolves the waiter
// locally first (so callers observe the cancellation immediately and do
// not wait on a response that may never arrive) and then notifies the
// daemon so it can abandon the in-flight task.
func (c *Client) Cancel(id wire.RequestID) error {
	c.pendingMu.Lock()
	resultCh, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case resultCh <- Result{Err: ErrCancelled}:
		default:
		}
	}

	env := wire.NewCancelEnvelope(id, uint64(time.Now().Add(cancelConfirmWindow).UnixMilli()))
	select {
	case c.sendCh <- env:
	case <-c.closed:
		return ErrChannelClosed
	}
	return nil
}
