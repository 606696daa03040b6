package ipcserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/atom-ide/atomd/internal/framecodec"
	"github.com/atom-ide/atomd/internal/metrics"
	"github.com/atom-ide/atomd/internal/wire"
)

// conn tracks the per-connection state needed to dispatch requests
// concurrently while keeping all writes to the socket serialized through a
// single writer goroutine fed by the reader and the handler tasks.
type conn struct {
	id      uint64
	nc      net.Conn
	codec   *framecodec.Codec
	cfg     Config
	handler Handler
	logger  *slog.Logger

	out       chan wire.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	inflightMu sync.Mutex
	inflight   map[wire.RequestID]context.CancelFunc

	workspaceMu   sync.RWMutex
	workspaceRoot string

	tasks sync.WaitGroup
}

func newConn(id uint64, nc net.Conn, codec *framecodec.Codec, cfg Config, h Handler, logger *slog.Logger) *conn {
	return &conn{
		id:       id,
		nc:       nc,
		codec:    codec,
		cfg:      cfg,
		handler:  h,
		logger:   logger,
		out:      make(chan wire.Envelope, cfg.MaxInFlightPerConn+8),
		closed:   make(chan struct{}),
		inflight: make(map[wire.RequestID]context.CancelFunc),
	}
}

func (c *conn) stop() { c.closeOnce.Do(func() { close(c.closed) }) }

func (c *conn) notify(body wire.NotificationBody) {
	select {
	case c.out <- wire.NewNotificationEnvelope(body):
	case <-c.closed:
	}
}

func (c *conn) setWorkspaceRoot(root string) {
	c.workspaceMu.Lock()
	c.workspaceRoot = root
	c.workspaceMu.Unlock()
}

func (c *conn) getWorkspaceRoot() string {
	c.workspaceMu.RLock()
	defer c.workspaceMu.RUnlock()
	return c.workspaceRoot
}

// writeLoop serializes every outbound envelope (responses, notifications,
// and cancel confirmations all share the same channel) onto the socket.
func (s *Server) writeLoop(ctx context.Context, c *conn) {
	defer s.wg.Done()
	for {
		select {
		case env := <-c.out:
			if err := c.codec.EncodeTo(c.nc, env); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				s.setError(wrap)
				c.logger.Warn("conn_write_error", "error", wrap)
				c.stop()
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop decodes frames off the socket and dispatches each envelope.
// A fatal decode error or clean EOF ends the connection: every in-flight
// handler task is cancelled, since nothing will ever read its response.
func (s *Server) readLoop(ctx context.Context, c *conn) {
	defer s.wg.Done()
	defer func() {
		c.stop()
		_ = c.nc.Close()
		c.inflightMu.Lock()
		for id, cancel := range c.inflight {
			cancel()
			delete(c.inflight, id)
		}
		c.inflightMu.Unlock()
		c.tasks.Wait()
		metrics.DecConnectionActive()
		c.logger.Info("client_disconnected")
	}()

	for {
		if c.cfg.ReadDeadline > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.cfg.ReadDeadline))
		}
		env, err := c.codec.Decode(c.nc)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.recordFrameError(err)
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			s.setError(wrap)
			c.logger.Warn("conn_read_error", "error", wrap)
			return
		}

		switch p := env.Payload.(type) {
		case wire.Request:
			c.dispatch(ctx, env.ID, env.DeadlineMillis, p.Body)
		case wire.Cancel:
			c.handleCancel(env.ID, p.TargetID)
		default:
			c.logger.Debug("unexpected_payload_from_client", "type", fmt.Sprintf("%T", p))
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func frameErrorLabel(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "bad magic"):
		return metrics.ErrBadMagic
	case strings.Contains(msg, "unsupported version"):
		return metrics.ErrBadVersion
	case strings.Contains(msg, "Message too large"):
		return metrics.ErrOversizeFrame
	case strings.Contains(msg, "Checksum mismatch"):
		return metrics.ErrChecksumMismatch
	case strings.Contains(msg, "unknown"):
		return metrics.ErrUnknownVariant
	default:
		return metrics.ErrMalformedPayload
	}
}

func (s *Server) recordFrameError(err error) {
	metrics.IncFrameError(frameErrorLabel(err))
}
