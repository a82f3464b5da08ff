package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

const (
	envLogLevel        = "IAP_LOG_LEVEL"
	envStore           = "IAP_STORE"
	envRequestTimeout  = "IAP_REQUEST_TIMEOUT"
	envSweepInterval   = "IAP_SWEEP_INTERVAL"
	envProductCacheTTL = "IAP_PRODUCT_CACHE_TTL"
	envLedger          = "IAP_LEDGER"
	envPostgresDSN     = "IAP_POSTGRES_DSN"
	envRedisAddr       = "IAP_REDIS_ADDR"
	envLoopBuffer      = "IAP_LOOP_BUFFER"
)

// Config carries the environment driven settings of the iapd process.
type Config struct {
	LogLevel        zapcore.Level
	Store           string
	RequestTimeout  time.Duration
	SweepInterval   time.Duration
	ProductCacheTTL time.Duration
	Ledger          string
	PostgresDSN     string
	RedisAddr       string
	LoopBuffer      int
}

func Default() Config {
	return Config{
		LogLevel:        zapcore.InfoLevel,
		Store:           "FakeStore",
		RequestTimeout:  5 * time.Minute,
		SweepInterval:   30 * time.Second,
		ProductCacheTTL: time.Hour,
		Ledger:          LedgerMemory,
		RedisAddr:       "localhost:6379",
		LoopBuffer:      256,
	}
}

// Load reads the environment, after loading the given dotenv files. Without
// files, a .env file in the working directory is loaded if there is one.
// Variables already set in the environment take precedence over dotenv files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrap(err, "failed to load .env")
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, errors.Wrap(err, "failed to load dotenv files")
	}

	return FromEnv()
}

// FromEnv reads the environment, applies defaults, and validates the result.
func FromEnv() (Config, error) {
	cfg := Default()

	if raw := env(envLogLevel); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid %s", envLogLevel)
		}
		cfg.LogLevel = level
	}

	if raw := env(envStore); raw != "" {
		cfg.Store = raw
	}

	var err error
	if cfg.RequestTimeout, err = duration(envRequestTimeout, cfg.RequestTimeout, true); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = duration(envSweepInterval, cfg.SweepInterval, false); err != nil {
		return Config{}, err
	}
	if cfg.ProductCacheTTL, err = duration(envProductCacheTTL, cfg.ProductCacheTTL, false); err != nil {
		return Config{}, err
	}

	if raw := env(envLoopBuffer); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			return Config{}, errors.Errorf("%s must be a non-negative integer", envLoopBuffer)
		}
		cfg.LoopBuffer = size
	}

	if raw := env(envLedger); raw != "" {
		cfg.Ledger = strings.ToLower(raw)
	}
	cfg.PostgresDSN = env(envPostgresDSN)
	if raw := env(envRedisAddr); raw != "" {
		cfg.RedisAddr = raw
	}

	switch cfg.Ledger {
	case LedgerMemory, LedgerRedis:
	case LedgerPostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, errors.Errorf("%s is required for the %s ledger", envPostgresDSN, LedgerPostgres)
		}
	default:
		return Config{}, errors.Errorf("unknown %s %q", envLedger, cfg.Ledger)
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// duration parses key as a Go duration. Zero is only accepted when allowZero
// is set.
func duration(key string, fallback time.Duration, allowZero bool) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, errors.Errorf("%s must be positive", key)
	}
	return d, nil
}
