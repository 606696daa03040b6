// Command atomctl is a thin CLI driver for internal/ipcclient: it dials
// atomd, runs a ping, demonstrates a sleep/cancel round trip, and prints
// the daemon's metrics snapshot. It exists to give the client library a
// runnable composition root.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/atom-ide/atomd/internal/ipcclient"
	"github.com/atom-ide/atomd/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8877", "atomd IPC address")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := ipcclient.Dial(ctx, *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer client.Close()

	if err := runPing(ctx, client); err != nil {
		log.Fatalf("ping: %v", err)
	}
	if err := runSleepAndCancel(client); err != nil {
		log.Fatalf("sleep/cancel demo: %v", err)
	}
	if err := runStats(ctx, client); err != nil {
		log.Fatalf("stats: %v", err)
	}
}

func runPing(ctx context.Context, c *ipcclient.Client) error {
	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("ping: ok (%s)\n", time.Since(start))
	return nil
}

func runSleepAndCancel(c *ipcclient.Client) error {
	id, resultCh, err := c.StartRequest(wire.Sleep{Millis: 30_000})
	if err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	if err := c.Cancel(id); err != nil {
		return err
	}
	select {
	case res := <-resultCh:
		fmt.Printf("sleep/cancel: resolved locally with %v\n", res.Err)
	case <-time.After(2 * time.Second):
		return fmt.Errorf("cancel did not resolve within 2s")
	}
	return nil
}

func runStats(ctx context.Context, c *ipcclient.Client) error {
	resp, err := c.Request(ctx, wire.GetStats{})
	if err != nil {
		return err
	}
	stats, ok := resp.(wire.Stats)
	if !ok {
		return fmt.Errorf("unexpected response to GetStats: %T", resp)
	}
	fmt.Printf("stats: cancels=%d deadlines=%d backpressure=%d\n", stats.Cancels, stats.Deadlines, stats.Backpressure)
	return nil
}
