package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit"`

	// PubSubDriver selects the topic service backing presence and
	// broadcasts: "memory" for the in-process broker, "nats" for NATS.
	PubSubDriver string `mapstructure:"pubsub_driver" yaml:"pubsub_driver"`
	NATSURL      string `mapstructure:"nats_url" yaml:"nats_url"`

	// AnonStoreDriver selects where anonymous identities persist across
	// restarts: "file" or "redis". AnonStorePath is the directory holding
	// one JSON file per client device for the file driver.
	AnonStoreDriver string `mapstructure:"anon_store_driver" yaml:"anon_store_driver"`
	AnonStorePath   string `mapstructure:"anon_store_path" yaml:"anon_store_path"`
	RedisAddr       string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db" yaml:"redis_db"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "roomcast.db",
		HistoryLimit:      10,
		PubSubDriver:      "memory",
		NATSURL:           "nats://localhost:4222",
		AnonStoreDriver:   "file",
		AnonStorePath:     "anon_store",
		RedisAddr:         "localhost:6379",
		JWTSecret:         "change-me",
		JWTIssuer:         "roomcast",
		JWTAudience:       "roomcast",
	}
}
