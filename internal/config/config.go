// Package config loads the presence plane's environment-variable
// configuration surface, the way the ancestor service's deployment
// scripts configured it directly from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the presence plane's core environment variables. The
// commands read a few deployment-specific variables (DIRECTORY_PREFIX,
// CLUSTER_NAME) directly rather than through Config.
type Config struct {
	NodeID            string
	AssignedVnodes    []int
	CoordinatorPort   int
	WSPort            int
	VnodeCount        int
	KafkaBrokers      []string
	RedisURL          string
	JWTSecret         string
	HeartbeatInterval time.Duration
	LogLevel          string
}

// Load reads the configuration from the process environment, applying
// sane defaults where a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{
		CoordinatorPort:   envInt("COORDINATOR_PORT", 8080),
		WSPort:            envInt("WS_PORT", 8081),
		VnodeCount:        envInt("VNODE_COUNT", 1024),
		RedisURL:          envString("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:          envString("LOG_LEVEL", "info"),
		NodeID:            os.Getenv("NODE_ID"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		HeartbeatInterval: envDuration("HEARTBEAT_INTERVAL", 30*time.Second),
	}

	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = splitCSV(raw)
	}

	if raw := os.Getenv("ASSIGNED_VNODES"); raw != "" {
		vnodes, err := parseIntCSV(raw)
		if err != nil {
			return nil, fmt.Errorf("config: ASSIGNED_VNODES: %w", err)
		}
		cfg.AssignedVnodes = vnodes
	}

	return cfg, nil
}

// Validate fails fast on the loudest invariant violations: an unknown
// vnode id in ASSIGNED_VNODES, or a presence node started with no
// identity.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: NODE_ID is required")
	}
	for _, v := range c.AssignedVnodes {
		if v < 0 || v >= c.VnodeCount {
			return fmt.Errorf("config: ASSIGNED_VNODES contains out-of-range vnode %d (VNODE_COUNT=%d)", v, c.VnodeCount)
		}
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: HEARTBEAT_INTERVAL must be greater than 0")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntCSV(raw string) ([]int, error) {
	parts := splitCSV(raw)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid vnode id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
