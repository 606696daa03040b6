// Command atomd is the IPC multiplexing daemon: it accepts connections on
// a TCP socket, frames and routes requests, and answers them through the
// reference Handler (internal/handler).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/atom-ide/atomd/internal/handler"
	"github.com/atom-ide/atomd/internal/ipcserver"
	"github.com/atom-ide/atomd/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("atomd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	srv := ipcserver.NewServer(
		ipcserver.WithListenAddr(cfg.listenAddr),
		ipcserver.WithHandler(handler.New()),
		ipcserver.WithLogger(l),
		ipcserver.WithConfig(ipcserver.Config{
			MaxInFlightPerConn: cfg.maxInFlight,
			MaxFrameSize:       uint32(cfg.maxFrameSize),
			ReadDeadline:       cfg.readTimeout,
		}),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			serveErr <- err
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := portFromAddr(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case err := <-serveErr:
		l.Error("ipc_server_error", "error", err)
		exitCode = 1
	}
	cancel()
	_ = srv.Shutdown(context.Background())
	wg.Wait()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func portFromAddr(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, err := strconv.Atoi(p); err == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, err := strconv.Atoi(addr[i+1:]); err == nil {
			return pn
		}
	}
	return 0
}
