package ipcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/atom-ide/atomd/internal/framecodec"
	"github.com/atom-ide/atomd/internal/wire"
)

// fakeServer is a minimal hand-driven peer used to exercise the client
// without depending on internal/ipcserver.
type fakeServer struct {
	ln    net.Listener
	codec *framecodec.Codec
}

func startFakeServer(t *testing.T, handle func(nc net.Conn, codec *framecodec.Codec)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{ln: ln, codec: framecodec.New(0)}
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		handle(nc, fs.codec)
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return fs
}

// echoPingServer answers every Ping with Pong and nothing else, enough to
// satisfy Dial's handshake.
func echoPingServer(nc net.Conn, codec *framecodec.Codec) {
	defer nc.Close()
	for {
		env, err := codec.Decode(nc)
		if err != nil {
			return
		}
		req, ok := env.Payload.(wire.Request)
		if !ok {
			continue
		}
		switch req.Body.(type) {
		case wire.Ping:
			_ = codec.EncodeTo(nc, wire.NewResponseEnvelope(env.ID, wire.Pong{}))
		case wire.Sleep:
			// never respond: used to exercise client-side cancel/backpressure.
		}
	}
}

func TestDialPingSucceeds(t *testing.T) {
	fs := startFakeServer(t, echoPingServer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, fs.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
}

func TestRequestRoundTrip(t *testing.T) {
	fs := startFakeServer(t, echoPingServer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, fs.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestCancelResolvesLocallyWithoutServerResponse(t *testing.T) {
	fs := startFakeServer(t, echoPingServer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, fs.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	id, resultCh, err := c.StartRequest(wire.Sleep{Millis: 60_000})
	if err != nil {
		t.Fatalf("start request: %v", err)
	}
	if err := c.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.Err != ErrCancelled {
			t.Fatalf("expected ErrCancelled, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancel did not resolve the waiter locally")
	}
}

func TestPendingRequestBackpressure(t *testing.T) {
	fs := startFakeServer(t, echoPingServer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, fs.ln.Addr().String(), WithMaxPendingRequests(1))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, _, err := c.StartRequest(wire.Sleep{Millis: 60_000}); err != nil {
		t.Fatalf("first request should be admitted: %v", err)
	}
	if _, _, err := c.StartRequest(wire.Sleep{Millis: 60_000}); err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}

func TestNotificationsDelivered(t *testing.T) {
	fs := startFakeServer(t, func(nc net.Conn, codec *framecodec.Codec) {
		defer nc.Close()
		for {
			env, err := codec.Decode(nc)
			if err != nil {
				return
			}
			req, ok := env.Payload.(wire.Request)
			if !ok {
				continue
			}
			if _, ok := req.Body.(wire.Ping); ok {
				_ = codec.EncodeTo(nc, wire.NewResponseEnvelope(env.ID, wire.Pong{}))
				_ = codec.EncodeTo(nc, wire.NewNotificationEnvelope(wire.DiagnosticsUpdate{URI: "file:///a.rs"}))
			}
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, fs.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	notifications := c.Notifications()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	select {
	case n := <-notifications:
		d, ok := n.(wire.DiagnosticsUpdate)
		if !ok || d.URI != "file:///a.rs" {
			t.Fatalf("unexpected notification: %#v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a notification to arrive")
	}
}
