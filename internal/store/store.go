package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/internal/config"
	"github.com/lzyats/im-sentinel/internal/store/jsonfile"
	mysqlstore "github.com/lzyats/im-sentinel/internal/store/mysql"
	pebblestore "github.com/lzyats/im-sentinel/internal/store/pebble"
	redisstore "github.com/lzyats/im-sentinel/internal/store/redis"
	"github.com/lzyats/im-sentinel/internal/store/storeiface"
)

// Stores bundles the three collections of the selected driver.
type Stores struct {
	Seen    storeiface.SeenSet
	Deleted storeiface.DeletionLog
	Creds   storeiface.CredentialStore

	closers []func() error
}

func (s *Stores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the stores for cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case "json":
		seen, err := jsonfile.OpenSeenSet(sc.DataDir)
		if err != nil {
			return nil, err
		}
		del, err := jsonfile.OpenDeletionLog(sc.DataDir)
		if err != nil {
			return nil, err
		}
		creds, err := jsonfile.OpenCredentialStore(sc.AuthDir)
		if err != nil {
			return nil, err
		}
		log.Info("storage ready", zap.String("driver", "json"), zap.String("data_dir", sc.DataDir), zap.String("auth_dir", sc.AuthDir))
		return &Stores{Seen: seen, Deleted: del, Creds: creds}, nil

	case "pebble":
		db, err := pebblestore.Open(pebblestore.Options{Path: sc.Pebble.Path})
		if err != nil {
			return nil, err
		}
		log.Info("storage ready", zap.String("driver", "pebble"), zap.String("path", sc.Pebble.Path))
		return &Stores{Seen: db.SeenSet(), Deleted: db.DeletionLog(), Creds: db.CredentialStore(), closers: []func() error{db.Close}}, nil

	case "redis":
		rs, err := redisstore.New(redisstore.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			Database: sc.Redis.Database,
			Prefix:   sc.Redis.Prefix,
			Timeout:  sc.Redis.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Info("storage ready", zap.String("driver", "redis"), zap.String("addr", sc.Redis.Addr))
		return &Stores{Seen: rs.SeenSet(), Deleted: rs.DeletionLog(), Creds: rs.CredentialStore(), closers: []func() error{rs.Close}}, nil

	case "mysql":
		ms, err := mysqlstore.Open(mysqlstore.Options{
			DSN:          sc.MySQL.DSN,
			MaxOpenConns: sc.MySQL.MaxOpenConns,
			MaxIdleConns: sc.MySQL.MaxIdleConns,
			ConnMaxLife:  sc.MySQL.ConnMaxLife,
			ConnMaxIdle:  sc.MySQL.ConnMaxIdle,
		})
		if err != nil {
			return nil, err
		}
		if err := ms.EnsureSchema(ctx); err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("mysql schema: %w", err)
		}
		log.Info("storage ready", zap.String("driver", "mysql"))
		return &Stores{Seen: ms.SeenSet(), Deleted: ms.DeletionLog(), Creds: ms.CredentialStore(), closers: []func() error{ms.Close}}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
}
