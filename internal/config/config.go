// Package config loads runtime configuration from a .env file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Listing ListingConfig
	Auth    AuthConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	// Driver is one of memory, leveldb, sqlite, postgres, redis.
	Driver string
	// Path is the leveldb directory or sqlite data directory.
	Path string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// RateLimit caps store calls per second; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

type ListingConfig struct {
	FetchConcurrency int
	MaxListings      int
	// Permissive skips the prior-status check on transitions.
	Permissive bool
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver:      "leveldb",
			Path:        "data/repairnet.ldb",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "repairnet:",
			RateBurst:   1,
		},
		Listing: ListingConfig{
			FetchConcurrency: 8,
			MaxListings:      500,
		},
		Auth: AuthConfig{
			TokenTTL: 72 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads an optional .env file and then the environment. Variables use
// the REPAIRNET_ prefix; PORT, JWT_SECRET and the DB_* set are also honoured
// without it.
func Load() (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return loadFrom(os.Getenv)
}

func loadFrom(getenv func(string) string) (Config, error) {
	cfg := defaults()
	var errs []string

	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(dst *float64, key string) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str(&cfg.Server.Port, "REPAIRNET_PORT", "PORT")
	dur(&cfg.Server.ShutdownTimeout, "REPAIRNET_SHUTDOWN_TIMEOUT")

	str(&cfg.Store.Driver, "REPAIRNET_STORE_DRIVER")
	str(&cfg.Store.Path, "REPAIRNET_STORE_PATH")
	str(&cfg.Store.PostgresDSN, "REPAIRNET_POSTGRES_DSN", "DATABASE_URL")
	if cfg.Store.PostgresDSN == "" && getenv("DB_HOST") != "" {
		cfg.Store.PostgresDSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
			getenv("DB_USER"), getenv("DB_PASSWORD"), getenv("DB_HOST"), getenv("DB_PORT"), getenv("DB_NAME"))
	}
	str(&cfg.Store.RedisAddr, "REPAIRNET_REDIS_ADDRESS", "REDIS_ADDRESS")
	str(&cfg.Store.RedisPassword, "REPAIRNET_REDIS_PASSWORD")
	num(&cfg.Store.RedisDB, "REPAIRNET_REDIS_DB")
	str(&cfg.Store.RedisPrefix, "REPAIRNET_REDIS_PREFIX")
	float(&cfg.Store.RateLimit, "REPAIRNET_STORE_RATE_LIMIT")
	num(&cfg.Store.RateBurst, "REPAIRNET_STORE_RATE_BURST")

	num(&cfg.Listing.FetchConcurrency, "REPAIRNET_FETCH_CONCURRENCY")
	num(&cfg.Listing.MaxListings, "REPAIRNET_MAX_LISTINGS")
	flag(&cfg.Listing.Permissive, "REPAIRNET_PERMISSIVE_TRANSITIONS")

	str(&cfg.Auth.JWTSecret, "REPAIRNET_JWT_SECRET", "JWT_SECRET")
	dur(&cfg.Auth.TokenTTL, "REPAIRNET_TOKEN_TTL")

	str(&cfg.Log.Level, "REPAIRNET_LOG_LEVEL")
	str(&cfg.Log.Format, "REPAIRNET_LOG_FORMAT")

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "leveldb", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres driver requires REPAIRNET_POSTGRES_DSN or DB_* variables")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis driver requires REPAIRNET_REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if (c.Store.Driver == "leveldb" || c.Store.Driver == "sqlite") && c.Store.Path == "" {
		return fmt.Errorf("%s driver requires REPAIRNET_STORE_PATH", c.Store.Driver)
	}
	if c.Listing.FetchConcurrency < 1 {
		return fmt.Errorf("fetch concurrency must be at least 1, got %d", c.Listing.FetchConcurrency)
	}
	if c.Listing.MaxListings < 1 {
		return fmt.Errorf("max listings must be at least 1, got %d", c.Listing.MaxListings)
	}
	if c.Store.RateLimit < 0 {
		return fmt.Errorf("store rate limit must not be negative")
	}
	return nil
}
