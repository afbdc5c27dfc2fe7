package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the automation control plane.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Cache     CacheConfig
	AI        AIConfig
	Worker    WorkerConfig
	Tier      TierConfig
	Sweep     SweepConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

type CacheConfig struct {
	RedisURL      string
	RedisPassword string
	NetworkTTL    time.Duration
}

type AIConfig struct {
	Provider  string // openai | anthropic | ollama
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

type WorkerConfig struct {
	StopGracePeriod   time.Duration
	HeartbeatInterval time.Duration
	MaxRestarts       int
	RestartWindow     time.Duration
}

// TierConfig overrides the slot counts of the built-in tier table.
type TierConfig struct {
	StandardSlots     int
	ProfessionalSlots int
	EnterpriseSlots   int
}

type SweepConfig struct {
	Interval        time.Duration
	PresenceWindow  time.Duration
	InactivityLimit time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("SETTER_PORT", 8080),
		Version: envStr("SETTER_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Cache: CacheConfig{
			RedisURL:      envStr("REDIS_URL", ""),
			RedisPassword: envStr("REDIS_PASSWORD", ""),
			NetworkTTL:    envDur("NETWORK_CACHE_TTL", 30*time.Second),
		},
		AI: AIConfig{
			Provider:  envStr("AI_PROVIDER", "openai"),
			Endpoint:  envStr("AI_ENDPOINT", ""),
			APIKey:    envStr("AI_API_KEY", ""),
			Model:     envStr("AI_MODEL", "gpt-4o-mini"),
			MaxTokens: envInt("AI_MAX_TOKENS", 512),
			Timeout:   envDur("AI_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			StopGracePeriod:   envDur("WORKER_STOP_GRACE", 10*time.Second),
			HeartbeatInterval: envDur("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
			MaxRestarts:       envInt("WORKER_MAX_RESTARTS", 5),
			RestartWindow:     envDur("WORKER_RESTART_WINDOW", 10*time.Minute),
		},
		Tier: TierConfig{
			StandardSlots:     envInt("TIER_STANDARD_SLOTS", 25),
			ProfessionalSlots: envInt("TIER_PROFESSIONAL_SLOTS", 25),
			EnterpriseSlots:   envInt("TIER_ENTERPRISE_SLOTS", 50),
		},
		Sweep: SweepConfig{
			Interval:        envDur("SWEEP_INTERVAL", time.Minute),
			PresenceWindow:  envDur("PRESENCE_WINDOW", 10*time.Minute),
			InactivityLimit: envDur("INACTIVITY_LIMIT", 36*time.Hour),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "setter-control-plane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
