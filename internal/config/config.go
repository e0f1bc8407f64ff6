package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretBytes = 32

type Config struct {
	Env         string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string

	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers       []string
	SessionEventsTopic string
	KafkaGroupID       string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SessionTTL    time.Duration
	StoreTimeout  time.Duration
	// TouchInterval throttles last-activity writes during verification.
	TouchInterval time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For is believed when
	// keying the rate limiter. Empty means the header is ignored.
	TrustedProxies  []netip.Prefix

	// RefreshClaimsFromSource re-reads role/verification flags from the user
	// store on every rotation instead of carrying the session snapshot over.
	RefreshClaimsFromSource bool

	OTLPEndpoint string
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:                os.Getenv("APP_ENV"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		MetricsAddr:        getenv("METRICS_ADDR", ":9090"),
		PostgresDSN:        getenv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=auth sslmode=disable"),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		SessionEventsTopic: getenv("SESSION_EVENTS_TOPIC", "session-events"),
		KafkaGroupID:       getenv("KAFKA_GROUP_ID", "auth-service-audit"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTIssuer:          getenv("JWT_ISSUER", "auth-service"),
		JWTAudience:        getenv("JWT_AUDIENCE", "auth-service"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if brokers := os.Getenv("KAFKA_BROKER"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = getInt("RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.AccessTTL, err = getDuration("ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = getDuration("REFRESH_TTL", 168*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", cfg.RefreshTTL); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = getDuration("STORE_TIMEOUT", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.TouchInterval, err = getDuration("TOUCH_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.TrustedProxies, err = getPrefixes("TRUSTED_PROXIES"); err != nil {
		return nil, err
	}
	if v := os.Getenv("REFRESH_CLAIMS_FROM_SOURCE"); v != "" {
		if cfg.RefreshClaimsFromSource, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("config: REFRESH_CLAIMS_FROM_SOURCE: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"env", cfg.Env,
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"access_ttl", cfg.AccessTTL,
		"refresh_ttl", cfg.RefreshTTL,
		"session_ttl", cfg.SessionTTL)
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("config: JWT_SECRET must be set")
		}
		slog.Warn("JWT_SECRET not set, using development secret")
		c.JWTSecret = "development-secret-do-not-use-in-prod"
	}
	if !c.IsDevelopment() && len(c.JWTSecret) < minSecretBytes {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes", minSecretBytes)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("config: ttl and timeout values must be positive")
	}
	if c.TouchInterval < 0 {
		return fmt.Errorf("config: TOUCH_INTERVAL must not be negative")
	}
	if c.AccessTTL > c.RefreshTTL {
		return fmt.Errorf("config: ACCESS_TTL (%s) must not exceed REFRESH_TTL (%s)", c.AccessTTL, c.RefreshTTL)
	}
	// a session key that expires before its refresh token would reject
	// legitimate rotations
	if c.SessionTTL < c.RefreshTTL {
		return fmt.Errorf("config: SESSION_TTL (%s) must be >= REFRESH_TTL (%s)", c.SessionTTL, c.RefreshTTL)
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: RATE_LIMIT and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// getPrefixes parses a comma-separated list of CIDRs or bare IPs.
func getPrefixes(key string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, item := range strings.Split(os.Getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("config: %s: %w", key, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", key, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
