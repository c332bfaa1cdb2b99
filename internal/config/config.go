// SPDX-License-Identifier: MIT

// Package config loads the Access Decision Core's runtime configuration
// from environment variables with safe defaults, following the teacher's
// ENV > File > Defaults precedence pattern (here: ENV > Defaults, since
// this core has no YAML surface — SPEC_FULL.md §1 explicitly carves the
// admin config UI out of scope).
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultDBDriver selects the embedded single-file store.
	DefaultDBDriver = "sqlite"

	defaultDBURL           = "file:access-core.db?_pragma=busy_timeout(5000)"
	defaultTCPAddr         = ":7000"
	defaultHWPort          = 5005
	defaultDebounceSeconds = 20
	defaultLogLevel        = "info"
	defaultMetricsAddr     = ":9090"
	defaultAdminAddr       = ":8080"
	defaultRedisAddr       = ""
	defaultHardwareDialMS  = 2000
	defaultRateLimitRPS    = 10
	defaultRateLimitBurst  = 20
	defaultTracingEndpoint = "localhost:4317"
	defaultTracingSample   = 0.1
)

// AppConfig holds every environment-resolved setting the daemon needs to
// wire up the persistence adapter, TCP ingress, hardware sender, admin
// HTTP surface, and ambient observability stack.
type AppConfig struct {
	// DBDriver selects the persistence.Store implementation: "sqlite" or
	// "postgres" (spec.md §6 / SPEC_FULL.md §4.8).
	DBDriver string
	// DBURL is the driver-specific connection string: a sqlite DSN
	// (optionally with _pragma query params) or a postgres DSN.
	DBURL string

	// TCPAddr is the scan-ingress listen address (spec.md §6: port 7000).
	TCPAddr string
	// DebounceWindow is the duplicate-scan suppression window (spec.md
	// §4.2: 20 seconds per (gate, credential)).
	DebounceWindow time.Duration

	// HardwareDialTimeout bounds the outbound "open" command's
	// connect+send round trip (spec.md §6: 2-second overall timeout).
	HardwareDialTimeout time.Duration
	// DefaultHardwarePort is the fallback device port (spec.md §6: 5005)
	// used when a Device row's own port column is unset.
	DefaultHardwarePort int

	// AdminAddr is the admin HTTP surface's listen address
	// (SPEC_FULL.md §6).
	AdminAddr string
	// RateLimitRPS/RateLimitBurst configure the router-wide token bucket
	// (internal/ratelimit) guarding the admin HTTP surface.
	RateLimitRPS   int
	RateLimitBurst int

	// MetricsEnabled/MetricsAddr control the Prometheus metrics server.
	MetricsEnabled bool
	MetricsAddr    string

	// RedisAddr, if set, switches the debounce cache from the in-memory
	// implementation to internal/cache.NewRedisCache. Empty disables Redis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LogLevel is the zerolog level name ("debug", "info", "warn", "error").
	LogLevel string

	// TracingEnabled/TracingEndpoint/TracingSampleRate configure OTLP/gRPC
	// span export for the admin HTTP surface. Disabled by default: this
	// core has no collector deployed in every environment, so tracing is
	// opt-in rather than assumed (SPEC_FULL.md's ambient observability
	// stack carries it, but does not mandate it be on).
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// Load resolves AppConfig from the process environment, applying defaults
// for anything unset. It never reads a file: unlike the teacher's YAML+ENV
// layering, this core's external configuration surface is ENV-only
// (SPEC_FULL.md §6), so there is no merge-precedence step to perform beyond
// ParseString/ParseInt/ParseBool/ParseDuration's own ENV-vs-default choice.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		DBDriver:            strings.ToLower(ParseString("ACCESS_CORE_DB_DRIVER", DefaultDBDriver)),
		DBURL:               ParseString("ACCESS_CORE_DB_URL", defaultDBURL),
		TCPAddr:             ParseString("ACCESS_CORE_TCP_ADDR", defaultTCPAddr),
		DebounceWindow:      time.Duration(ParseInt("ACCESS_CORE_DEBOUNCE_SECONDS", defaultDebounceSeconds)) * time.Second,
		HardwareDialTimeout: time.Duration(ParseInt("ACCESS_CORE_HW_DIAL_MS", defaultHardwareDialMS)) * time.Millisecond,
		AdminAddr:           ParseString("ACCESS_CORE_ADMIN_ADDR", defaultAdminAddr),
		RateLimitRPS:        ParseInt("ACCESS_CORE_RATE_LIMIT_RPS", defaultRateLimitRPS),
		RateLimitBurst:      ParseInt("ACCESS_CORE_RATE_LIMIT_BURST", defaultRateLimitBurst),
		MetricsEnabled:      ParseBool("ACCESS_CORE_METRICS_ENABLED", true),
		MetricsAddr:         ParseString("ACCESS_CORE_METRICS_ADDR", defaultMetricsAddr),
		RedisAddr:           ParseString("ACCESS_CORE_REDIS_ADDR", defaultRedisAddr),
		RedisPassword:       ParseString("ACCESS_CORE_REDIS_PASSWORD", ""),
		RedisDB:             ParseInt("ACCESS_CORE_REDIS_DB", 0),
		LogLevel:            strings.ToLower(ParseString("ACCESS_CORE_LOG_LEVEL", defaultLogLevel)),
		TracingEnabled:      ParseBool("ACCESS_CORE_TRACING_ENABLED", false),
		TracingEndpoint:     ParseString("ACCESS_CORE_TRACING_ENDPOINT", defaultTracingEndpoint),
		TracingSampleRate:   ParseFloat("ACCESS_CORE_TRACING_SAMPLE_RATE", defaultTracingSample),
	}

	// ACCESS_CORE_HW_PORT (spec.md §6 default 5005) is consulted per-device
	// from the Device row's own port column, not a single global port; it
	// only supplies the fallback default.Device rows with port 0 fall back
	// to this configured value at wiring time, so it lives on AppConfig
	// rather than being baked into internal/hardware.
	cfg.DefaultHardwarePort = ParseInt("ACCESS_CORE_HW_PORT", defaultHWPort)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: ACCESS_CORE_DB_DRIVER must be \"sqlite\" or \"postgres\", got %q", c.DBDriver)
	}
	if c.DBURL == "" {
		return fmt.Errorf("config: ACCESS_CORE_DB_URL must not be empty")
	}
	if c.TCPAddr == "" {
		return fmt.Errorf("config: ACCESS_CORE_TCP_ADDR must not be empty")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("config: ACCESS_CORE_DEBOUNCE_SECONDS must be positive, got %s", c.DebounceWindow)
	}
	return nil
}

// String redacts userinfo from the DSN before returning a loggable summary.
func (c AppConfig) String() string {
	return fmt.Sprintf(
		"AppConfig{DBDriver:%s DBURL:%s TCPAddr:%s DebounceWindow:%s AdminAddr:%s MetricsEnabled:%v MetricsAddr:%s LogLevel:%s}",
		c.DBDriver, maskDSN(c.DBURL), c.TCPAddr, c.DebounceWindow, c.AdminAddr, c.MetricsEnabled, c.MetricsAddr, c.LogLevel,
	)
}

func maskDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i != -1 {
		if j := strings.Index(dsn, "://"); j != -1 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}
