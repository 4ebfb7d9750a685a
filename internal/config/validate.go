package config

import (
	"errors"
	"fmt"
	"strings"

	"bagurumba/internal/observability/logging"
)

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return errors.New("server.shutdown_timeout_seconds must be positive")
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.Uploads.MaxDurationSeconds <= 0 {
		return errors.New("uploads.max_duration_seconds must be positive")
	}
	if c.Uploads.MaxSizeBytes < 0 {
		return errors.New("uploads.max_size_bytes cannot be negative")
	}
	if c.Reconcile.ProviderTimeoutSeconds <= 0 || c.Reconcile.WriteTimeoutSeconds <= 0 {
		return errors.New("reconcile timeouts must be positive")
	}
	if c.Webhook.ToleranceSeconds <= 0 {
		return errors.New("webhook.tolerance_seconds must be positive")
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.GlobalBurst < 0 || c.RateLimit.UploadLimit < 0 {
		return errors.New("rate_limit values cannot be negative")
	}
	if c.RateLimit.UseRedis && !c.RedisClient().Enabled() {
		return errors.New("rate_limit.use_redis requires redis.addr")
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if c.Sweeper.Enabled {
		if c.Sweeper.IntervalSeconds <= 0 || c.Sweeper.GraceSeconds < 0 || c.Sweeper.BatchSize <= 0 {
			return errors.New("sweeper interval and batch size must be positive")
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverJSON, DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		if c.Storage.PostgresMinConns > 0 && c.Storage.PostgresMaxConns > 0 && c.Storage.PostgresMinConns > c.Storage.PostgresMaxConns {
			return errors.New("storage.postgres_min_conns cannot exceed postgres_max_conns")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.QueryTimeoutSeconds < 0 {
		return errors.New("storage.query_timeout_seconds cannot be negative")
	}
	return nil
}

func (c *Config) validateProvider() error {
	hasAccount := c.Provider.AccountID != ""
	hasToken := c.Provider.APIToken != ""
	if hasAccount != hasToken {
		return errors.New("provider.account_id and provider.api_token must be set together")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return errors.New("provider.timeout_seconds must be positive")
	}
	if c.Provider.MaxAttempts < 1 {
		return errors.New("provider.max_attempts must be at least 1")
	}
	if c.Provider.RetryIntervalMillis < 0 {
		return errors.New("provider.retry_interval_millis cannot be negative")
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Driver {
	case EventsNone, EventsMemory:
		return nil
	case EventsRedis:
		if !c.RedisClient().Enabled() {
			return errors.New("events.driver redis requires redis.addr")
		}
	case EventsAMQP:
		if strings.TrimSpace(c.Events.AMQPURL) == "" {
			return errors.New("events.amqp_url is required for the amqp driver")
		}
	default:
		return fmt.Errorf("unsupported events.driver %q", c.Events.Driver)
	}
	return nil
}
