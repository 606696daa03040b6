// Package ipcserver hosts one side of the request/response multiplexing
// fabric: it accepts connections, decodes frames, admits requests against
// deadline and backpressure checks, and dispatches each to a Handler on
// its own goroutine so slow or cancelled calls never stall the others.
package ipcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atom-ide/atomd/internal/framecodec"
	"github.com/atom-ide/atomd/internal/logging"
	"github.com/atom-ide/atomd/internal/metrics"
)

// Config bounds per-connection resource usage.
type Config struct {
	MaxInFlightPerConn int
	MaxFrameSize       uint32
	ReadDeadline       time.Duration
}

const (
	DefaultMaxInFlightPerConn = 64
	defaultReadDeadline       = 60 * time.Second
)

// DefaultConfig returns the configuration used when no Option overrides it.
func DefaultConfig() Config {
	return Config{
		MaxInFlightPerConn: DefaultMaxInFlightPerConn,
		MaxFrameSize:       framecodec.DefaultMaxFrameSize,
		ReadDeadline:       defaultReadDeadline,
	}
}

// Server owns the TCP listener and coordinates per-connection lifecycle.
type Server struct {
	mu      sync.RWMutex
	addr    string
	handler Handler
	cfg     Config
	logger  *slog.Logger

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	listener   net.Listener
	connsMu    sync.Mutex
	conns      map[uint64]*conn
	wg         sync.WaitGroup
	nextConnID uint64

	totalAccepted atomic.Uint64
}

// Option configures a Server at construction time.
type Option func(*Server)

// NewServer builds a Server; Handler must be set via WithHandler before
// Serve is called, or every request will panic on a nil interface call.
func NewServer(opts ...Option) *Server {
	s := &Server{
		cfg:     DefaultConfig(),
		readyCh: make(chan struct{}),
		errCh:   make(chan error, 1),
		conns:   make(map[uint64]*conn),
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(addr string) Option { return func(s *Server) { s.addr = addr } }
func WithHandler(h Handler) Option      { return func(s *Server) { s.handler = h } }
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		if cfg.MaxInFlightPerConn > 0 {
			s.cfg.MaxInFlightPerConn = cfg.MaxInFlightPerConn
		}
		if cfg.MaxFrameSize > 0 {
			s.cfg.MaxFrameSize = cfg.MaxFrameSize
		}
		if cfg.ReadDeadline > 0 {
			s.cfg.ReadDeadline = cfg.ReadDeadline
		}
	}
}
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve accepts connections until ctx is cancelled or a fatal listener
// error occurs.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	addr := s.addr
	s.mu.RUnlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	nc, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if errors.Is(err, net.ErrClosed) {
			return context.Canceled
		}
		if _, ok := err.(net.Error); ok { // transient
			s.logger.Warn("accept_error", "error", err)
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		s.setError(wrap)
		return wrap
	}

	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	s.totalAccepted.Add(1)
	metrics.IncConnectionAccepted()
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", nc.RemoteAddr().String())

	c := newConn(connID, nc, framecodec.New(s.cfg.MaxFrameSize), s.cfg, s.handler, connLogger)
	s.connsMu.Lock()
	s.conns[connID] = c
	s.connsMu.Unlock()
	connLogger.Info("client_connected")

	s.wg.Add(2)
	go s.writeLoop(ctx, c)
	go func() {
		s.readLoop(ctx, c)
		s.connsMu.Lock()
		delete(s.conns, connID)
		s.connsMu.Unlock()
	}()
	return nil
}

// Shutdown closes the listener and every open connection, then waits for
// all reader/writer goroutines and in-flight handler tasks to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.stop()
		_ = c.nc.Close()
	}
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load())
		return nil
	}
}
