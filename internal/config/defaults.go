package config

import "bagurumba/internal/provider"

const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	EventsNone   = "none"
	EventsMemory = "memory"
	EventsRedis  = "redis"
	EventsAMQP   = "amqp"
)

// Default returns a configuration that runs locally against a JSON datastore
// with the provider disabled.
func Default() Config {
	return Config{
		Server: Server{
			Addr:                   ":5000",
			ShutdownTimeoutSeconds: 15,
			AllowedOrigins:         []string{"http://localhost:3000"},
			MaxBodyBytes:           1 << 20,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Storage: Storage{
			Driver:                        DriverJSON,
			Path:                          "data/bagurumba.json",
			PostgresAcquireTimeoutSeconds: 5,
			QueryTimeoutSeconds:           5,
		},
		Provider: Provider{
			BaseURL:             provider.DefaultBaseURL,
			TimeoutSeconds:      int(provider.DefaultTimeout.Seconds()),
			MaxAttempts:         provider.DefaultMaxAttempts,
			RetryIntervalMillis: int(provider.DefaultRetryInterval.Milliseconds()),
		},
		Uploads: Uploads{
			MaxDurationSeconds: provider.DefaultMaxDurationSeconds,
			AllowedOrigins:     append([]string(nil), provider.DefaultAllowedOrigins...),
		},
		Reconcile: Reconcile{
			ProviderTimeoutSeconds: 15,
			WriteTimeoutSeconds:    5,
		},
		Webhook: Webhook{
			ToleranceSeconds: 300,
		},
		Auth: Auth{
			Issuer:        "bagurumba",
			TokenTTLHours: 24 * 7,
		},
		RateLimit: RateLimit{
			UploadLimit:         10,
			UploadWindowSeconds: 60,
		},
		Redis: Redis{
			TimeoutSeconds: 2,
		},
		Events: Events{
			Driver:      EventsNone,
			RedisStream: "bagurumba:video-events",
			RedisMaxLen: 10000,
			AMQPQueue:   "bagurumba.video_events",
		},
		Sweeper: Sweeper{
			Enabled:         true,
			IntervalSeconds: 300,
			GraceSeconds:    120,
			BatchSize:       100,
		},
	}
}
