package ipcserver

import (
	"context"
	"time"

	"github.com/atom-ide/atomd/internal/metrics"
	"github.com/atom-ide/atomd/internal/wire"
)

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// dispatch admits one Request envelope: it checks the deadline, then the
// per-connection in-flight cap, then runs the handler (or answers GetStats
// directly) in its own goroutine so a slow or cancelled call never blocks
// the read loop.
func (c *conn) dispatch(ctx context.Context, id wire.RequestID, deadlineMillis uint64, body wire.RequestBody) {
	if deadlineMillis != 0 && deadlineMillis < nowMillis() {
		metrics.IncDeadlines()
		c.reply(id, wire.Error{Message: "Deadline exceeded"})
		return
	}

	if gpf, ok := body.(wire.GetProjectFiles); ok {
		c.setWorkspaceRoot(gpf.RootPath)
	}

	c.inflightMu.Lock()
	if len(c.inflight) >= c.cfg.MaxInFlightPerConn {
		c.inflightMu.Unlock()
		metrics.IncBackpressure()
		c.reply(id, wire.Error{Message: "Backpressure: too many in-flight requests"})
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	c.inflight[id] = cancel
	c.inflightMu.Unlock()

	metrics.IncInFlight()
	c.tasks.Add(1)
	go c.runTask(taskCtx, cancel, id, body)
}

func (c *conn) runTask(ctx context.Context, cancel context.CancelFunc, id wire.RequestID, body wire.RequestBody) {
	defer c.tasks.Done()
	defer metrics.DecInFlight()
	defer cancel()

	var resp wire.ResponseBody
	if _, ok := body.(wire.GetStats); ok {
		snap := metrics.Snap()
		resp = wire.Stats{Cancels: snap.Cancels, Deadlines: snap.Deadlines, Backpressure: snap.Backpressure}
	} else {
		resp = c.handler.Handle(ctx, Request{
			Body:          body,
			WorkspaceRoot: c.getWorkspaceRoot(),
			Notify:        c.notify,
		})
	}

	c.inflightMu.Lock()
	_, stillPending := c.inflight[id]
	if stillPending {
		delete(c.inflight, id)
	}
	c.inflightMu.Unlock()

	// If the entry is gone, a Cancel already removed it and sent its own
	// confirmation envelope; this response is stale and must not be sent.
	if !stillPending {
		return
	}
	c.reply(id, resp)
}

// handleCancel aborts an in-flight task (if any) and always replies with a
// confirmation carrying the Cancel envelope's own id: a Cancel for an
// unknown id is a no-op server-side, but it is still confirmed rather than
// going silent.
func (c *conn) handleCancel(envelopeID, targetID wire.RequestID) {
	metrics.IncCancels()

	c.inflightMu.Lock()
	cancel, ok := c.inflight[targetID]
	if ok {
		delete(c.inflight, targetID)
	}
	c.inflightMu.Unlock()

	if ok {
		cancel()
	}
	c.reply(envelopeID, wire.Error{Message: "Cancelled"})
}

func (c *conn) reply(id wire.RequestID, body wire.ResponseBody) {
	select {
	case c.out <- wire.NewResponseEnvelope(id, body):
	case <-c.closed:
	}
}
