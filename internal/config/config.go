package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName            = "CustodyGateway"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultShutdownDelay      = 10 * time.Second
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultMonitorInterval    = 10 * time.Second
	defaultMonitorConcurrency = 4
	defaultChainCallTimeout   = 15 * time.Second
	defaultSendLockTTL        = 2 * time.Minute
	defaultDust               = "0.000001"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName     string `valid:"required"`
	AppEnv      string `valid:"required"`
	Port        string `valid:"required"`
	LogLevel    string `valid:"in(debug|info|warn|error)~LOG_LEVEL must be debug, info, warn or error"`
	LogFormat   string `valid:"in(json|text)~LOG_FORMAT must be json or text"`
	DatabaseURL string `valid:"required~DATABASE_URL must be set"`
	RedisURL    string `valid:"required~REDIS_URL must be set"`
	// WalletMasterKey is the base64url encoded 32-byte key sealing signing keys.
	WalletMasterKey string `valid:"required~WALLET_MASTER_KEY must be set"`
	// NetworksFile optionally points at a YAML file overriding the built-in networks.
	NetworksFile string `valid:"-"`

	ShutdownPeriod     time.Duration   `valid:"-"`
	IdempotencyTTL     time.Duration   `valid:"-"`
	MonitorInterval    time.Duration   `valid:"-"`
	MonitorConcurrency int             `valid:"-"`
	ChainCallTimeout   time.Duration   `valid:"-"`
	SendLockTTL        time.Duration   `valid:"-"`
	DustThreshold      decimal.Decimal `valid:"-"`
	MigrateOnStart     bool            `valid:"-"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		WalletMasterKey: os.Getenv("WALLET_MASTER_KEY"),
		NetworksFile:    os.Getenv("NETWORKS_FILE"),
	}

	durations := []struct {
		dst      *time.Duration
		name     string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.MonitorInterval, "MONITOR_INTERVAL", defaultMonitorInterval},
		{&cfg.ChainCallTimeout, "CHAIN_CALL_TIMEOUT", defaultChainCallTimeout},
		{&cfg.SendLockTTL, "SEND_LOCK_TTL", defaultSendLockTTL},
	}
	for _, d := range durations {
		v, err := durationEnv(d.name, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	cfg.MonitorConcurrency = defaultMonitorConcurrency
	if v := os.Getenv("MONITOR_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid MONITOR_CONCURRENCY: %q", v)
		}
		cfg.MonitorConcurrency = n
	}

	dust, err := decimal.NewFromString(getEnv("DUST_THRESHOLD", defaultDust))
	if err != nil || dust.IsNegative() {
		return Config{}, fmt.Errorf("invalid DUST_THRESHOLD: %q", os.Getenv("DUST_THRESHOLD"))
	}
	cfg.DustThreshold = dust

	if v := os.Getenv("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MIGRATE_ON_START: %w", err)
		}
		cfg.MigrateOnStart = b
	}

	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// durationEnv reads <name>_SECONDS as whole seconds, falling back to <name>
// as a Go duration string.
func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(name + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", name, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
