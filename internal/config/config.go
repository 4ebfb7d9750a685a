// Package config loads service configuration from defaults, an optional TOML
// file and the environment. Constructors receive the resulting struct; no
// other package reads environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"bagurumba/internal/redisclient"
)

// Server configures the HTTP listener.
type Server struct {
	Addr                   string   `toml:"addr"`
	TLSCertFile            string   `toml:"tls_cert_file"`
	TLSKeyFile             string   `toml:"tls_key_file"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	FrontendURL            string   `toml:"frontend_url"`
	TrustForwardedHeaders  bool     `toml:"trust_forwarded_headers"`
	TrustedProxies         []string `toml:"trusted_proxies"`
	MaxBodyBytes           int64    `toml:"max_body_bytes"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Storage selects and configures the video record store.
type Storage struct {
	Driver                        string `toml:"driver"`
	Path                          string `toml:"path"`
	PostgresDSN                   string `toml:"postgres_dsn"`
	PostgresMaxConns              int32  `toml:"postgres_max_conns"`
	PostgresMinConns              int32  `toml:"postgres_min_conns"`
	PostgresAcquireTimeoutSeconds int    `toml:"postgres_acquire_timeout_seconds"`
	QueryTimeoutSeconds           int    `toml:"query_timeout_seconds"`
}

// Provider configures the streaming provider client.
type Provider struct {
	BaseURL             string `toml:"base_url"`
	AccountID           string `toml:"account_id"`
	APIToken            string `toml:"api_token"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	MaxAttempts         int    `toml:"max_attempts"`
	RetryIntervalMillis int    `toml:"retry_interval_millis"`
}

// Uploads configures the constraints attached to every upload session.
type Uploads struct {
	MaxDurationSeconds int      `toml:"max_duration_seconds"`
	MaxSizeBytes       int64    `toml:"max_size_bytes"`
	AllowedOrigins     []string `toml:"allowed_origins"`
}

// Reconcile bounds the detached work done on behalf of status pulls.
type Reconcile struct {
	ProviderTimeoutSeconds int `toml:"provider_timeout_seconds"`
	WriteTimeoutSeconds    int `toml:"write_timeout_seconds"`
}

// Webhook configures push notification authentication.
type Webhook struct {
	Secret            string `toml:"secret"`
	ToleranceSeconds  int    `toml:"tolerance_seconds"`
	AllowSharedSecret bool   `toml:"allow_shared_secret"`
}

// Auth configures bearer token verification.
type Auth struct {
	JWTSecret     string `toml:"jwt_secret"`
	Issuer        string `toml:"issuer"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

// RateLimit configures request throttling. Upload limits apply per client.
type RateLimit struct {
	GlobalRPS           float64 `toml:"global_rps"`
	GlobalBurst         int     `toml:"global_burst"`
	UploadLimit         int     `toml:"upload_limit"`
	UploadWindowSeconds int     `toml:"upload_window_seconds"`
	UseRedis            bool    `toml:"use_redis"`
}

// Redis is shared by the rate limiter and the redis events driver.
type Redis struct {
	Addr               string   `toml:"addr"`
	Addrs              []string `toml:"addrs"`
	Username           string   `toml:"username"`
	Password           string   `toml:"password"`
	MasterName         string   `toml:"master_name"`
	DB                 int      `toml:"db"`
	TimeoutSeconds     int      `toml:"timeout_seconds"`
	PoolSize           int      `toml:"pool_size"`
	TLSCAFile          string   `toml:"tls_ca_file"`
	TLSCertFile        string   `toml:"tls_cert_file"`
	TLSKeyFile         string   `toml:"tls_key_file"`
	TLSServerName      string   `toml:"tls_server_name"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
}

// Events selects the lifecycle event driver.
type Events struct {
	Driver       string `toml:"driver"`
	RedisStream  string `toml:"redis_stream"`
	RedisMaxLen  int64  `toml:"redis_max_len"`
	AMQPURL      string `toml:"amqp_url"`
	AMQPQueue    string `toml:"amqp_queue"`
	AMQPExchange string `toml:"amqp_exchange"`
}

// Sweeper configures the background reconciliation of stale records.
type Sweeper struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
	GraceSeconds    int  `toml:"grace_seconds"`
	BatchSize       int  `toml:"batch_size"`
}

// Config is the full service configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Logging   Logging   `toml:"logging"`
	Storage   Storage   `toml:"storage"`
	Provider  Provider  `toml:"provider"`
	Uploads   Uploads   `toml:"uploads"`
	Reconcile Reconcile `toml:"reconcile"`
	Webhook   Webhook   `toml:"webhook"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	Redis     Redis     `toml:"redis"`
	Events    Events    `toml:"events"`
	Sweeper   Sweeper   `toml:"sweeper"`
}

// Load builds the configuration: defaults, then the TOML file at path (or
// the one named by BAGURUMBA_CONFIG), then the environment. It returns the
// resolved file path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup LookupFunc) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		if value, ok := lookup(envPrefix + "CONFIG"); ok {
			path = strings.TrimSpace(value)
		}
	}
	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = "bagurumba.toml"
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// ShutdownTimeout is the grace period for in-flight requests.
func (c *Config) ShutdownTimeout() time.Duration { return seconds(c.Server.ShutdownTimeoutSeconds) }

// ProviderTimeout is the per-request timeout of the provider client.
func (c *Config) ProviderTimeout() time.Duration { return seconds(c.Provider.TimeoutSeconds) }

// ProviderRetryInterval is the base backoff between provider attempts.
func (c *Config) ProviderRetryInterval() time.Duration {
	return time.Duration(c.Provider.RetryIntervalMillis) * time.Millisecond
}

// QueryTimeout bounds individual store queries.
func (c *Config) QueryTimeout() time.Duration { return seconds(c.Storage.QueryTimeoutSeconds) }

// PostgresAcquireTimeout bounds waiting for a pooled connection.
func (c *Config) PostgresAcquireTimeout() time.Duration {
	return seconds(c.Storage.PostgresAcquireTimeoutSeconds)
}

// ReconcileProviderTimeout bounds the detached provider query of a pull.
func (c *Config) ReconcileProviderTimeout() time.Duration {
	return seconds(c.Reconcile.ProviderTimeoutSeconds)
}

// ReconcileWriteTimeout bounds the detached store write of a pull.
func (c *Config) ReconcileWriteTimeout() time.Duration {
	return seconds(c.Reconcile.WriteTimeoutSeconds)
}

// WebhookTolerance is the accepted clock skew for signed pushes.
func (c *Config) WebhookTolerance() time.Duration { return seconds(c.Webhook.ToleranceSeconds) }

// TokenTTL is the lifetime of tokens minted by the tooling.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// UploadWindow is the per-client upload session rate window.
func (c *Config) UploadWindow() time.Duration { return seconds(c.RateLimit.UploadWindowSeconds) }

// SweepInterval is the period between sweeps.
func (c *Config) SweepInterval() time.Duration { return seconds(c.Sweeper.IntervalSeconds) }

// SweepGrace is the minimum age of a processing record before it is swept.
func (c *Config) SweepGrace() time.Duration { return seconds(c.Sweeper.GraceSeconds) }

// RedisClient converts the Redis section for redisclient.New.
func (c *Config) RedisClient() redisclient.Config {
	timeout := seconds(c.Redis.TimeoutSeconds)
	return redisclient.Config{
		Addr:         c.Redis.Addr,
		Addrs:        c.Redis.Addrs,
		Username:     c.Redis.Username,
		Password:     c.Redis.Password,
		MasterName:   c.Redis.MasterName,
		DB:           c.Redis.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     c.Redis.PoolSize,
		TLS: redisclient.TLSConfig{
			CAFile:             c.Redis.TLSCAFile,
			CertFile:           c.Redis.TLSCertFile,
			KeyFile:            c.Redis.TLSKeyFile,
			ServerName:         c.Redis.TLSServerName,
			InsecureSkipVerify: c.Redis.InsecureSkipVerify,
		},
	}
}
