package storage

import (
	"strings"
	"time"
)

// Option configures a repository. Each driver applies the parts relevant to it
// and ignores the rest, so callers can build one option list regardless of the
// selected driver.
type Option interface {
	applyJSON(*Storage)
	applySQLite(*SQLiteConfig)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	json   func(*Storage)
	sqlite func(*SQLiteConfig)
	pg     func(*PostgresConfig)
}

func (o optionAdapter) applyJSON(store *Storage) {
	if o.json != nil && store != nil {
		o.json(store)
	}
}

func (o optionAdapter) applySQLite(cfg *SQLiteConfig) {
	if o.sqlite != nil && cfg != nil {
		o.sqlite(cfg)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(json func(*Storage), sqlite func(*SQLiteConfig), pg func(*PostgresConfig)) Option {
	return optionAdapter{json: json, sqlite: sqlite, pg: pg}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithClock overrides the time source used for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) Option {
	if now == nil {
		return optionAdapter{}
	}
	return composeOption(
		func(s *Storage) { s.now = now },
		func(cfg *SQLiteConfig) { cfg.Clock = now },
		func(cfg *PostgresConfig) { cfg.Clock = now },
	)
}

// WithQueryTimeout bounds every individual database round trip.
func WithQueryTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		return optionAdapter{}
	}
	return composeOption(
		nil,
		func(cfg *SQLiteConfig) { cfg.QueryTimeout = timeout },
		func(cfg *PostgresConfig) { cfg.QueryTimeout = timeout },
	)
}

// WithFileLock toggles the exclusive lock taken on the JSON datastore.
func WithFileLock(enabled bool) Option {
	return composeOption(func(s *Storage) { s.lockEnabled = enabled }, nil, nil)
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		cfg.ApplicationName = strings.TrimSpace(name)
	})
}
