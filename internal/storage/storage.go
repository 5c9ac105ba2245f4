// Package storage selects the alert state backend named in the configuration.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Alias1177/VolumeSpike/internal/alert"
	"github.com/Alias1177/VolumeSpike/internal/config"
	"github.com/Alias1177/VolumeSpike/internal/storage/file"
	"github.com/Alias1177/VolumeSpike/internal/storage/postgres"
	"github.com/Alias1177/VolumeSpike/internal/storage/redis"
	"github.com/Alias1177/VolumeSpike/internal/storage/sqlite"
	"github.com/Alias1177/VolumeSpike/internal/storage/wal"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the configured store. The returned closer releases its
// connections and is never nil.
func Open(ctx context.Context, cfg *config.Config) (alert.Store, io.Closer, error) {
	logger := log.With().Str("component", "storage").Str("backend", cfg.StateBackend).Logger()

	switch cfg.StateBackend {
	case config.BackendMemory:
		logger.Warn().Msg("Alert memory is not persisted, a restart may repeat notifications")
		return alert.NewMemoryStore(), nopCloser{}, nil

	case config.BackendFile:
		store, err := file.NewStore(cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", store.Path()).Msg("Alert state store ready")
		return store, nopCloser{}, nil

	case config.BackendSQLite:
		path := withExt(cfg.StatePath, ".db")
		store, err := sqlite.NewStore(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", path).Msg("Alert state store ready")
		return store, store, nil

	case config.BackendWAL:
		dir := strings.TrimSuffix(cfg.StatePath, filepath.Ext(cfg.StatePath))
		store, err := wal.NewStore(dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("dir", dir).Msg("Alert state store ready")
		return store, store, nil

	case config.BackendPostgres:
		store, err := postgres.New(postgres.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.Name).Msg("Alert state store ready")
		return store, store, nil

	case config.BackendRedis:
		store, err := redis.NewStore(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Alert state store ready")
		return store, store, nil
	}

	return nil, nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
