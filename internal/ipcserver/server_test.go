package ipcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/atom-ide/atomd/internal/framecodec"
	"github.com/atom-ide/atomd/internal/wire"
)

// slowEchoHandler answers Ping immediately and blocks on Sleep until ctx is
// cancelled or the requested duration elapses, so tests can exercise both
// the happy path and cancellation.
type slowEchoHandler struct{}

func (slowEchoHandler) Handle(ctx context.Context, req Request) wire.ResponseBody {
	switch b := req.Body.(type) {
	case wire.Ping:
		return wire.Pong{}
	case wire.Sleep:
		select {
		case <-time.After(time.Duration(b.Millis) * time.Millisecond):
			return wire.Success{}
		case <-ctx.Done():
			return wire.Error{Message: "aborted"}
		}
	default:
		return wire.Error{Message: "unsupported"}
	}
}

func startTestServer(t *testing.T, cfg Config) (*Server, net.Conn, *framecodec.Codec, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	srv := NewServer(WithListenAddr(":0"), WithHandler(slowEchoHandler{}), WithConfig(cfg))
	go func() { _ = srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not become ready")
	}

	d := net.Dialer{Timeout: time.Second}
	nc, err := d.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = nc.Close(); cancel() })

	return srv, nc, framecodec.New(0), cancel
}

func TestPingPong(t *testing.T) {
	_, nc, codec, _ := startTestServer(t, DefaultConfig())

	req := wire.NewRequestEnvelope(wire.Ping{}, 0)
	if err := codec.EncodeTo(nc, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := codec.Decode(nc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != req.ID {
		t.Fatalf("response id mismatch")
	}
	if _, ok := resp.Payload.(wire.Response).Body.(wire.Pong); !ok {
		t.Fatalf("expected Pong, got %#v", resp.Payload)
	}
}

func TestCancelAbortsSleepAndConfirms(t *testing.T) {
	_, nc, codec, _ := startTestServer(t, DefaultConfig())

	req := wire.NewRequestEnvelope(wire.Sleep{Millis: 60_000}, 0)
	if err := codec.EncodeTo(nc, req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	cancelEnv := wire.NewCancelEnvelope(req.ID, 0)
	if err := codec.EncodeTo(nc, cancelEnv); err != nil {
		t.Fatalf("encode cancel: %v", err)
	}

	resp, err := codec.Decode(nc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != cancelEnv.ID {
		t.Fatalf("expected confirmation to echo the Cancel envelope's own id, got %v want %v", resp.ID, cancelEnv.ID)
	}
	errBody, ok := resp.Payload.(wire.Response).Body.(wire.Error)
	if !ok || errBody.Message != "Cancelled" {
		t.Fatalf("expected Error{Cancelled}, got %#v", resp.Payload)
	}
}

func TestDeadlineExceededRejectedWithoutDispatch(t *testing.T) {
	_, nc, codec, _ := startTestServer(t, DefaultConfig())

	past := uint64(time.Now().Add(-time.Minute).UnixMilli())
	req := wire.NewRequestEnvelope(wire.Ping{}, past)
	if err := codec.EncodeTo(nc, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := codec.Decode(nc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	errBody, ok := resp.Payload.(wire.Response).Body.(wire.Error)
	if !ok || errBody.Message != "Deadline exceeded" {
		t.Fatalf("expected Error{Deadline exceeded}, got %#v", resp.Payload)
	}
}

func TestBackpressureRejectsBeyondCap(t *testing.T) {
	_, nc, codec, _ := startTestServer(t, Config{MaxInFlightPerConn: 1, MaxFrameSize: framecodec.DefaultMaxFrameSize, ReadDeadline: 5 * time.Second})

	first := wire.NewRequestEnvelope(wire.Sleep{Millis: 500}, 0)
	if err := codec.EncodeTo(nc, first); err != nil {
		t.Fatalf("encode first: %v", err)
	}
	// Give the server a moment to admit the first request before sending
	// the second, so the cap is actually exercised rather than racing.
	time.Sleep(20 * time.Millisecond)

	second := wire.NewRequestEnvelope(wire.Ping{}, 0)
	if err := codec.EncodeTo(nc, second); err != nil {
		t.Fatalf("encode second: %v", err)
	}

	resp, err := codec.Decode(nc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != second.ID {
		t.Fatalf("expected the rejection to answer the second request first, got id %v", resp.ID)
	}
	errBody, ok := resp.Payload.(wire.Response).Body.(wire.Error)
	if !ok {
		t.Fatalf("expected Error, got %#v", resp.Payload)
	}
	if errBody.Message == "" {
		t.Fatalf("expected a backpressure message")
	}
}

func TestGetStatsAnsweredWithoutHandler(t *testing.T) {
	_, nc, codec, _ := startTestServer(t, DefaultConfig())

	req := wire.NewRequestEnvelope(wire.GetStats{}, 0)
	if err := codec.EncodeTo(nc, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := codec.Decode(nc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp.Payload.(wire.Response).Body.(wire.Stats); !ok {
		t.Fatalf("expected Stats, got %#v", resp.Payload)
	}
}
