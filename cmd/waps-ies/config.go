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

// appConfig is the configuration surface of spec.md §6: IP, port,
// tcp_timeout, output path, catalog path, log path, log level, image
// timeout, memory-slot-change detection, and the EC address/position table.
type appConfig struct {
	ip                  string
	port                int
	tcpTimeout          time.Duration
	outputPath          string
	catalogPath         string
	logPath             string
	logFormat           string
	logLevel            string
	imageTimeout        time.Duration // 0 disables the outdated sweep
	slotChangeDetection bool
	ecTablePath         string
	metricsAddr         string
	logMetricsEvery     time.Duration
}

func (c *appConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.ip, c.port)
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	ip := flag.String("ip", "", "Telemetry source IP address (required)")
	port := flag.Int("port", 0, "Telemetry source TCP port (required)")
	tcpTimeout := flag.Float64("tcp-timeout", 2.1, "Connect timeout and per-read deadline, in seconds")
	output := flag.String("output", "./images", "Root directory for reconstructed image artefacts")
	catalogPath := flag.String("catalog", "./waps-ies.db", "SQLite catalog file path")
	logPath := flag.String("log-path", "", "Directory for rotated log files; empty logs to stderr only")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG|INFO|WARNING|ERROR")
	imageTimeoutMin := flag.Float64("image-timeout", 30, "Minutes before an incomplete image is dropped as outdated; 0 disables")
	slotChangeDetection := flag.Bool("slot-change-detection", true, "Track the BIOLAB current-slot pointer to detect onboard overwrites")
	ecTable := flag.String("ec-table", "", "Path to the EC address/position/column YAML table; empty uses positions \"?\"")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log the counter snapshot")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.ip = *ip
	cfg.port = *port
	cfg.tcpTimeout = time.Duration(*tcpTimeout * float64(time.Second))
	cfg.outputPath = *output
	cfg.catalogPath = *catalogPath
	cfg.logPath = *logPath
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.imageTimeout = time.Duration(*imageTimeoutMin * float64(time.Minute))
	cfg.slotChangeDetection = *slotChangeDetection
	cfg.ecTablePath = *ecTable
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, false
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, false
	}
	return cfg, true
}

// validate performs semantic validation only; it never touches the network
// or filesystem.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.ip == "" {
		return errors.New("ip is required")
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("port must be in 1-65535 (got %d)", c.port)
	}
	if c.tcpTimeout <= 0 {
		return errors.New("tcp-timeout must be > 0")
	}
	switch strings.ToUpper(c.logLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if c.imageTimeout < 0 {
		return errors.New("image-timeout must be >= 0")
	}
	if c.outputPath == "" {
		return errors.New("output path is required")
	}
	if c.catalogPath == "" {
		return errors.New("catalog path is required")
	}
	return nil
}

// applyEnvOverrides maps WAPS_IES_* environment variables onto cfg, unless
// the corresponding flag was explicitly set (flags win).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["ip"]; !ok {
		if v, ok := get("WAPS_IES_IP"); ok && v != "" {
			c.ip = v
		}
	}
	if _, ok := set["port"]; !ok {
		if v, ok := get("WAPS_IES_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.port = n
			} else {
				firstErr = firstErrOf(firstErr, fmt.Errorf("invalid WAPS_IES_PORT: %w", err))
			}
		}
	}
	if _, ok := set["tcp-timeout"]; !ok {
		if v, ok := get("WAPS_IES_TCP_TIMEOUT"); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				c.tcpTimeout = time.Duration(f * float64(time.Second))
			} else if err != nil {
				firstErr = firstErrOf(firstErr, fmt.Errorf("invalid WAPS_IES_TCP_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["output"]; !ok {
		if v, ok := get("WAPS_IES_OUTPUT"); ok && v != "" {
			c.outputPath = v
		}
	}
	if _, ok := set["catalog"]; !ok {
		if v, ok := get("WAPS_IES_CATALOG"); ok && v != "" {
			c.catalogPath = v
		}
	}
	if _, ok := set["log-path"]; !ok {
		if v, ok := get("WAPS_IES_LOG_PATH"); ok {
			c.logPath = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("WAPS_IES_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("WAPS_IES_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["image-timeout"]; !ok {
		if v, ok := get("WAPS_IES_IMAGE_TIMEOUT"); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
				c.imageTimeout = time.Duration(f * float64(time.Minute))
			} else if err != nil {
				firstErr = firstErrOf(firstErr, fmt.Errorf("invalid WAPS_IES_IMAGE_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["slot-change-detection"]; !ok {
		if v, ok := get("WAPS_IES_SLOT_CHANGE_DETECTION"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.slotChangeDetection = true
			case "0", "false", "no", "off":
				c.slotChangeDetection = false
			}
		}
	}
	if _, ok := set["ec-table"]; !ok {
		if v, ok := get("WAPS_IES_EC_TABLE"); ok && v != "" {
			c.ecTablePath = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("WAPS_IES_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("WAPS_IES_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil {
				firstErr = firstErrOf(firstErr, fmt.Errorf("invalid WAPS_IES_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	return firstErr
}

func firstErrOf(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}
