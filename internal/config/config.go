package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures the tunables of the engine API process.
type ServerConfig struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	CORSOrigins       []string

	AIProxyURL       string
	AIRequestTimeout time.Duration
	SessionIdleTTL   time.Duration

	DatabaseURL string
	RedisURL    string
	KVPrefix    string

	KafkaBrokers    []string
	KafkaAlertTopic string

	SnapshotFile string

	LogLevel  string
	LogPretty bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		CORSOrigins:       []string{"*"},
		AIProxyURL:        "http://localhost:8787",
		SessionIdleTTL:    2 * time.Hour,
		KVPrefix:          "fleetintel:",
		KafkaAlertTopic:   "fleet.risk-alerts",
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadHeaderTimeout, "HTTP_READ_HEADER_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}

	setStringFromEnv(&cfg.AIProxyURL, "AI_PROXY_URL")
	setDurationFromEnv(&cfg.AIRequestTimeout, "AI_REQUEST_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SessionIdleTTL, "SESSION_IDLE_TTL", &errs)

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	setStringFromEnv(&cfg.KVPrefix, "KV_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaAlertTopic, "KAFKA_ALERT_TOPIC")

	cfg.SnapshotFile = strings.TrimSpace(os.Getenv("SNAPSHOT_FILE"))

	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	setBoolFromEnv(&cfg.LogPretty, "LOG_PRETTY", &errs)

	if cfg.AIRequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("AI_REQUEST_TIMEOUT must be >= 0"))
	}
	if cfg.SessionIdleTTL < 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TTL must be >= 0"))
	}
	if !strings.HasPrefix(cfg.AIProxyURL, "http://") && !strings.HasPrefix(cfg.AIProxyURL, "https://") {
		errs = append(errs, fmt.Errorf("AI_PROXY_URL must be an http(s) URL, got %q", cfg.AIProxyURL))
	}

	return cfg, errors.Join(errs...)
}

// ProxyConfig captures the tunables of the AI proxy process.
type ProxyConfig struct {
	Addr             string
	APIKey           string
	UpstreamURL      string
	AnthropicVersion string
	DefaultModel     string
	DefaultMaxTokens int
	UpstreamTimeout  time.Duration

	LogLevel  string
	LogPretty bool
}

func defaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Addr:             ":8787",
		UpstreamURL:      "https://api.anthropic.com/v1/messages",
		AnthropicVersion: "2023-06-01",
		DefaultModel:     "claude-sonnet-4-6",
		DefaultMaxTokens: 2000,
		UpstreamTimeout:  2 * time.Minute,
		LogLevel:         "info",
	}
}

// LoadProxyConfig reads proxy settings. A missing API key is not an error:
// the proxy still starts and answers 503 so callers get an actionable message.
func LoadProxyConfig() (ProxyConfig, error) {
	cfg := defaultProxyConfig()
	var errs []error

	setStringFromEnv(&cfg.Addr, "PROXY_ADDR")
	cfg.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	setStringFromEnv(&cfg.UpstreamURL, "ANTHROPIC_API_URL")
	setStringFromEnv(&cfg.AnthropicVersion, "ANTHROPIC_VERSION")
	setStringFromEnv(&cfg.DefaultModel, "DEFAULT_MODEL")
	setIntFromEnv(&cfg.DefaultMaxTokens, "DEFAULT_MAX_TOKENS", &errs)
	setDurationFromEnv(&cfg.UpstreamTimeout, "UPSTREAM_TIMEOUT", &errs)

	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	setBoolFromEnv(&cfg.LogPretty, "LOG_PRETTY", &errs)

	if cfg.DefaultMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_MAX_TOKENS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
