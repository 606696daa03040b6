// Package ipcclient implements the initiating side of the request/response
// multiplexing fabric: it dials the daemon with bounded retry, correlates
// responses to requests by id, supports cooperative cancellation, and
// delivers out-of-band notifications on a dedicated channel. The reader
// and writer run as separate goroutines against the same connection.
package ipcclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/atom-ide/atomd/internal/framecodec"
	"github.com/atom-ide/atomd/internal/logging"
	"github.com/atom-ide/atomd/internal/wire"
)

// Config bounds client-side resource usage.
type Config struct {
	RequestTimeout     time.Duration
	MaxPendingRequests int
	MaxFrameSize       uint32
	ConnectRetries     int
}

const (
	DefaultRequestTimeout     = 30 * time.Second
	DefaultMaxPendingRequests = 1024
	defaultConnectRetries     = 3
	handshakePingTimeout      = 5 * time.Second
	cancelConfirmWindow       = 5 * time.Second
)

// DefaultConfig returns the configuration used when no Option overrides it.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     DefaultRequestTimeout,
		MaxPendingRequests: DefaultMaxPendingRequests,
		MaxFrameSize:       framecodec.DefaultMaxFrameSize,
		ConnectRetries:     defaultConnectRetries,
	}
}

// Result is the outcome of a request: either a response body or an error
// (ErrCancelled after Cancel, or ErrChannelClosed on transport failure).
// Timeouts and context cancellation are returned by Request directly.
type Result struct {
	Body wire.ResponseBody
	Err  error
}

// Client is a single connection to the daemon. All methods are safe for
// concurrent use.
type Client struct {
	nc     net.Conn
	codec  *framecodec.Codec
	cfg    Config
	logger *slog.Logger

	sendCh    chan wire.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[wire.RequestID]chan Result

	notifyMu sync.Mutex
	notifyCh chan wire.NotificationBody

	wg sync.WaitGroup
}

// Option configures a Client at Dial time.
type Option func(*Config, *Client)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config, _ *Client) {
		if d > 0 {
			c.RequestTimeout = d
		}
	}
}

func WithMaxPendingRequests(n int) Option {
	return func(c *Config, _ *Client) {
		if n > 0 {
			c.MaxPendingRequests = n
		}
	}
}

func WithMaxFrameSize(n uint32) Option {
	return func(c *Config, _ *Client) {
		if n > 0 {
			c.MaxFrameSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(_ *Config, cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// Dial connects to addr, retrying with bounded exponential backoff, then
// confirms the connection with a Ping under a short deadline before
// returning.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	c := &Client{
		logger:  logging.L(),
		closed:  make(chan struct{}),
		pending: make(map[wire.RequestID]chan Result),
	}
	for _, o := range opts {
		o(&cfg, c)
	}
	c.cfg = cfg
	c.codec = framecodec.New(cfg.MaxFrameSize)
	// Sized so enqueueing never blocks a caller: the pending-table cap
	// bounds outstanding requests, and each may contribute one Cancel
	// envelope on top of its Request.
	c.sendCh = make(chan wire.Envelope, 2*cfg.MaxPendingRequests+16)

	nc, err := dialWithRetry(ctx, addr, cfg.ConnectRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}
	c.nc = nc

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	pingCtx, cancel := context.WithTimeout(ctx, handshakePingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: ping failed: %v", ErrConnectionFailed, err)
	}
	return c, nil
}

func dialWithRetry(ctx context.Context, addr string, maxRetries int) (net.Conn, error) {
	var nc net.Conn
	dialer := net.Dialer{Timeout: 5 * time.Second}
	op := func() error {
		var err error
		nc, err = dialer.DialContext(ctx, "tcp", addr)
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 5 * time.Second

	// maxRetries counts total attempts; backoff.WithMaxRetries counts
	// retries after the first, so subtract one.
	var b backoff.BackOff = eb
	if maxRetries > 1 {
		b = backoff.WithMaxRetries(eb, uint64(maxRetries-1))
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return nc, nil
}

// Done is closed once the client disconnects, whether by Close or by a
// transport failure noticed by the reader or writer.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Close tears down the connection and fails every still-pending request
// with ErrChannelClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.nc.Close()
	})
	c.wg.Wait()
	return nil
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case env := <-c.sendCh:
			if err := c.codec.EncodeTo(c.nc, env); err != nil {
				c.logger.Warn("ipc_write_error", "error", err)
				c.closeOnce.Do(func() { close(c.closed); _ = c.nc.Close() })
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.failAllPending(ErrChannelClosed)
	for {
		env, err := c.codec.Decode(c.nc)
		if err != nil {
			c.closeOnce.Do(func() { close(c.closed); _ = c.nc.Close() })
			return
		}
		switch p := env.Payload.(type) {
		case wire.Response:
			c.pendingMu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				select {
				case ch <- Result{Body: p.Body}:
				default:
				}
			}
		case wire.Notification:
			// The send happens under notifyMu so a concurrent Notifications()
			// call cannot close the channel out from under it.
			c.notifyMu.Lock()
			if c.notifyCh != nil {
				select {
				case c.notifyCh <- p.Body:
				default:
				}
			}
			c.notifyMu.Unlock()
		default:
			c.logger.Debug("unexpected_payload_from_server", "type", fmt.Sprintf("%T", p))
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[wire.RequestID]chan Result)
	c.pendingMu.Unlock()
	for _, ch := range pending {
		select {
		case ch <- Result{Err: err}:
		default:
		}
	}

	c.notifyMu.Lock()
	if c.notifyCh != nil {
		close(c.notifyCh)
		c.notifyCh = nil
	}
	c.notifyMu.Unlock()
}

// Notifications returns a channel of inbound notifications. Calling it
// again replaces the previous subscription: the old channel is closed so a
// stale subscriber observes closure instead of silently stalling, and only
// the most recent caller keeps receiving.
func (c *Client) Notifications() <-chan wire.NotificationBody {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.notifyCh != nil {
		close(c.notifyCh)
	}
	ch := make(chan wire.NotificationBody, 64)
	c.notifyCh = ch
	return ch
}
