package config

import (
	"fmt"
	"strconv"
	"strings"
)

const envPrefix = "BAGURUMBA_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from BAGURUMBA_* variables. The unprefixed
// variables of earlier deployments (PORT, CF_ACCOUNT_ID, CF_API_TOKEN,
// JWT_SECRET, FRONTEND_URL) are honoured when the prefixed one is unset.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	env := envReader{lookup: lookup}

	if port := env.str("PORT", "PORT"); port != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	env.setString(&c.Server.Addr, "ADDR")
	env.setString(&c.Server.TLSCertFile, "TLS_CERT")
	env.setString(&c.Server.TLSKeyFile, "TLS_KEY")
	env.setInt(&c.Server.ShutdownTimeoutSeconds, "SHUTDOWN_TIMEOUT_SECONDS")
	env.setList(&c.Server.AllowedOrigins, "ALLOWED_ORIGINS")
	env.setString(&c.Server.FrontendURL, "FRONTEND_URL", "FRONTEND_URL")
	env.setBool(&c.Server.TrustForwardedHeaders, "TRUST_FORWARDED_HEADERS")
	env.setList(&c.Server.TrustedProxies, "TRUSTED_PROXIES")

	env.setString(&c.Logging.Level, "LOG_LEVEL")
	env.setString(&c.Logging.Format, "LOG_FORMAT")

	env.setString(&c.Storage.Driver, "STORAGE_DRIVER")
	env.setString(&c.Storage.Path, "DATA_PATH")
	env.setString(&c.Storage.PostgresDSN, "POSTGRES_DSN", "DATABASE_URL")
	env.setInt32(&c.Storage.PostgresMaxConns, "POSTGRES_MAX_CONNS")
	env.setInt32(&c.Storage.PostgresMinConns, "POSTGRES_MIN_CONNS")
	env.setInt(&c.Storage.QueryTimeoutSeconds, "QUERY_TIMEOUT_SECONDS")

	env.setString(&c.Provider.BaseURL, "PROVIDER_BASE_URL")
	env.setString(&c.Provider.AccountID, "CF_ACCOUNT_ID", "CF_ACCOUNT_ID")
	env.setString(&c.Provider.APIToken, "CF_API_TOKEN", "CF_API_TOKEN")
	env.setInt(&c.Provider.TimeoutSeconds, "PROVIDER_TIMEOUT_SECONDS")
	env.setInt(&c.Provider.MaxAttempts, "PROVIDER_MAX_ATTEMPTS")

	env.setInt(&c.Uploads.MaxDurationSeconds, "UPLOAD_MAX_DURATION_SECONDS")
	env.setInt64(&c.Uploads.MaxSizeBytes, "UPLOAD_MAX_SIZE_BYTES")
	env.setList(&c.Uploads.AllowedOrigins, "UPLOAD_ALLOWED_ORIGINS")

	env.setString(&c.Webhook.Secret, "WEBHOOK_SECRET", "CF_WEBHOOK_SECRET")
	env.setInt(&c.Webhook.ToleranceSeconds, "WEBHOOK_TOLERANCE_SECONDS")
	env.setBool(&c.Webhook.AllowSharedSecret, "WEBHOOK_ALLOW_SHARED_SECRET")

	env.setString(&c.Auth.JWTSecret, "JWT_SECRET", "JWT_SECRET")

	env.setFloat(&c.RateLimit.GlobalRPS, "RATE_LIMIT_GLOBAL_RPS")
	env.setInt(&c.RateLimit.GlobalBurst, "RATE_LIMIT_GLOBAL_BURST")
	env.setInt(&c.RateLimit.UploadLimit, "RATE_LIMIT_UPLOADS")
	env.setInt(&c.RateLimit.UploadWindowSeconds, "RATE_LIMIT_UPLOAD_WINDOW_SECONDS")
	env.setBool(&c.RateLimit.UseRedis, "RATE_LIMIT_USE_REDIS")

	env.setString(&c.Redis.Addr, "REDIS_ADDR")
	env.setList(&c.Redis.Addrs, "REDIS_ADDRS")
	env.setString(&c.Redis.Username, "REDIS_USERNAME")
	env.setString(&c.Redis.Password, "REDIS_PASSWORD")
	env.setString(&c.Redis.MasterName, "REDIS_MASTER_NAME")

	env.setString(&c.Events.Driver, "EVENTS_DRIVER")
	env.setString(&c.Events.RedisStream, "EVENTS_REDIS_STREAM")
	env.setString(&c.Events.AMQPURL, "EVENTS_AMQP_URL", "AMQP_URL")
	env.setString(&c.Events.AMQPQueue, "EVENTS_AMQP_QUEUE")
	env.setString(&c.Events.AMQPExchange, "EVENTS_AMQP_EXCHANGE")

	env.setBool(&c.Sweeper.Enabled, "SWEEPER_ENABLED")
	env.setInt(&c.Sweeper.IntervalSeconds, "SWEEPER_INTERVAL_SECONDS")
	env.setInt(&c.Sweeper.GraceSeconds, "SWEEPER_GRACE_SECONDS")
	env.setInt(&c.Sweeper.BatchSize, "SWEEPER_BATCH_SIZE")

	return env.err
}

// envReader records the first parse failure so ApplyEnv reads linearly.
type envReader struct {
	lookup LookupFunc
	err    error
}

// str returns BAGURUMBA_<name>, falling back to the legacy variable.
func (e *envReader) str(name string, legacy ...string) string {
	if e.lookup == nil {
		return ""
	}
	if value, ok := e.lookup(envPrefix + name); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	for _, key := range legacy {
		if value, ok := e.lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
}

func (e *envReader) setString(dst *string, name string, legacy ...string) {
	if value := e.str(name, legacy...); value != "" {
		*dst = value
	}
}

func (e *envReader) setList(dst *[]string, name string) {
	if value := e.str(name); value != "" {
		*dst = splitAndTrim(value)
	}
}

func (e *envReader) setBool(dst *bool, name string) {
	value := e.str(name)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = parsed
}

func (e *envReader) setInt(dst *int, name string) {
	value := e.str(name)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = parsed
}

func (e *envReader) setInt32(dst *int32, name string) {
	value := e.str(name)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = int32(parsed)
}

func (e *envReader) setInt64(dst *int64, name string) {
	value := e.str(name)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = parsed
}

func (e *envReader) setFloat(dst *float64, name string) {
	value := e.str(name)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = parsed
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
