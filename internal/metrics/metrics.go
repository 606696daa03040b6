// Package metrics tracks the IPC fabric's monotonic counters (cancels,
// deadlines, backpressure) plus a few operational gauges, exported both
// as Prometheus series and as a cheap in-process snapshot used to answer
// the GetStats request.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/atom-ide/atomd/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	Cancels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipc_cancels_total",
		Help: "Total requests cancelled by a client.",
	})
	Deadlines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipc_deadlines_total",
		Help: "Total requests rejected because their deadline had already passed.",
	})
	Backpressure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipc_backpressure_total",
		Help: "Total requests rejected because the in-flight cap was reached.",
	})
	ClientBackpressure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipc_client_backpressure_total",
		Help: "Total requests rejected client-side because the pending-request cap was reached.",
	})
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipc_connections_accepted_total",
		Help: "Total TCP connections accepted by the server.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipc_connections_active",
		Help: "Current number of open connections.",
	})
	InFlightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipc_inflight_requests",
		Help: "Current number of requests being handled across all connections.",
	})
	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipc_frame_errors_total",
		Help: "Total fatal frame decode errors, by reason.",
	}, []string{"reason"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Frame-error label constants (stable label values bound cardinality).
const (
	ErrBadMagic         = "bad_magic"
	ErrBadVersion       = "bad_version"
	ErrOversizeFrame    = "oversize"
	ErrChecksumMismatch = "checksum_mismatch"
	ErrMalformedPayload = "malformed_payload"
	ErrUnknownVariant   = "unknown_variant"
	ErrTransport        = "transport"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local atomic mirrors back the GetStats response without touching
// Prometheus's registry on every request.
var (
	localCancels      uint64
	localDeadlines    uint64
	localBackpressure uint64
)

// Snapshot is the relaxed-atomics view returned by GetStats.
type Snapshot struct {
	Cancels      uint64
	Deadlines    uint64
	Backpressure uint64
}

// Snap returns the current counter values.
func Snap() Snapshot {
	return Snapshot{
		Cancels:      atomic.LoadUint64(&localCancels),
		Deadlines:    atomic.LoadUint64(&localDeadlines),
		Backpressure: atomic.LoadUint64(&localBackpressure),
	}
}

// IncCancels records a server-side cancellation (Cancel envelope received).
func IncCancels() {
	Cancels.Inc()
	atomic.AddUint64(&localCancels, 1)
}

// IncDeadlines records a deadline-expired rejection.
func IncDeadlines() {
	Deadlines.Inc()
	atomic.AddUint64(&localDeadlines, 1)
}

// IncBackpressure records a server-side in-flight-cap rejection.
func IncBackpressure() {
	Backpressure.Inc()
	atomic.AddUint64(&localBackpressure, 1)
}

// IncClientBackpressure records a client-side pending-cap rejection. This
// is a distinct counter from IncBackpressure: the client's admission cap
// and the server's in-flight cap are two different backpressure
// mechanisms.
func IncClientBackpressure() { ClientBackpressure.Inc() }

// IncConnectionAccepted records a newly accepted TCP connection.
func IncConnectionAccepted() {
	ConnectionsAccepted.Inc()
	ConnectionsActive.Inc()
}

// DecConnectionActive records a connection tearing down.
func DecConnectionActive() { ConnectionsActive.Dec() }

// IncInFlight/DecInFlight track the aggregate in-flight gauge across all
// connections (the per-connection cap enforcement lives in ipcserver).
func IncInFlight() { InFlightRequests.Inc() }
func DecInFlight() { InFlightRequests.Dec() }

// IncFrameError records a fatal frame decode error under label.
func IncFrameError(label string) { FrameErrors.WithLabelValues(label).Inc() }

// InitBuildInfo sets the build info gauge and pre-registers frame-error
// label series so the first error doesn't pay Prometheus registration
// latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrBadMagic, ErrBadVersion, ErrOversizeFrame, ErrChecksumMismatch,
		ErrMalformedPayload, ErrUnknownVariant, ErrTransport,
	} {
		FrameErrors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
