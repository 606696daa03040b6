package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr      string
	maxInFlight     int
	maxFrameSize    int
	requestTimeout  time.Duration
	readTimeout     time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	mdnsEnable      bool
	mdnsName        string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", "127.0.0.1:8877", "TCP listen address")
	maxInFlight := flag.Int("max-inflight", 64, "Maximum in-flight requests per connection")
	maxFrameSize := flag.Int("max-frame-size", 1<<20, "Maximum frame payload size in bytes")
	requestTimeout := flag.Duration("request-timeout", 30*time.Second, "Default client request timeout")
	readTimeout := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the IPC port")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default atomd-<hostname>)")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.maxInFlight = *maxInFlight
	cfg.maxFrameSize = *maxFrameSize
	cfg.requestTimeout = *requestTimeout
	cfg.readTimeout = *readTimeout
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to bind the listener - only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.maxInFlight <= 0 {
		return fmt.Errorf("max-inflight must be > 0 (got %d)", c.maxInFlight)
	}
	if c.maxFrameSize <= 0 {
		return fmt.Errorf("max-frame-size must be > 0 (got %d)", c.maxFrameSize)
	}
	if c.requestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be > 0")
	}
	if c.readTimeout <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps ATOMD_* environment variables to config fields
// unless a corresponding flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("ATOMD_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["max-inflight"]; !ok {
		if v, ok := get("ATOMD_IPC_MAX_INFLIGHT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxInFlight = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ATOMD_IPC_MAX_INFLIGHT: %w", err)
			}
		}
	}
	if _, ok := set["max-frame-size"]; !ok {
		if v, ok := get("ATOMD_IPC_MAX_FRAME"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxFrameSize = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ATOMD_IPC_MAX_FRAME: %w", err)
			}
		}
	}
	if _, ok := set["request-timeout"]; !ok {
		if v, ok := get("ATOMD_IPC_REQ_TIMEOUT_MS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.requestTimeout = time.Duration(n) * time.Millisecond
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ATOMD_IPC_REQ_TIMEOUT_MS: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("ATOMD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("ATOMD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("ATOMD_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("ATOMD_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("ATOMD_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
