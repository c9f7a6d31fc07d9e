package kvstore

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/repairnet/internal/config"
)

// Open builds the backend selected by cfg.Driver and wraps it with
// instrumentation and the configured rate limit.
func Open(ctx context.Context, cfg config.StoreConfig, logger *logrus.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		s = NewMemory()
	case "leveldb", "":
		s, err = OpenLevelDB(cfg.Path)
	case "sqlite":
		s, err = OpenSQLite(cfg.Path)
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.PostgresDSN, logger)
	case "redis":
		s, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"driver":   cfg.Driver,
		"rate_rps": cfg.RateLimit,
	}).Info("key/value store opened")

	return Instrument(s, NewLimiter(cfg.RateLimit, cfg.RateBurst)).(Store), nil
}
