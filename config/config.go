package config

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	LogLevel   string           `mapstructure:"log_level"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Buffer     BufferConfig     `mapstructure:"buffer"`
	Aggregate  AggregateConfig  `mapstructure:"aggregate"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port int
	Host string
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BufferConfig struct {
	// Backend is "redis" or "memory". Memory is only safe for a
	// single-replica deployment.
	Backend       string        `mapstructure:"backend"`
	RedisURL      string        `mapstructure:"redisUrl"`
	FlushInterval time.Duration `mapstructure:"flushInterval"`
	// RunFlushWorker disables the in-process flusher when the
	// standalone worker binary owns draining.
	RunFlushWorker bool `mapstructure:"runFlushWorker"`
}

type AggregateConfig struct {
	WindowInterval time.Duration `mapstructure:"windowInterval"`
}

type BroadcastConfig struct {
	SubscriberBuffer int `mapstructure:"subscriberBuffer"`
	// AMQPURL enables the cross-replica relay when non-empty.
	AMQPURL  string `mapstructure:"amqpUrl"`
	Exchange string `mapstructure:"exchange"`
}

type MonitoringConfig struct {
	PrometheusPort int    `mapstructure:"prometheusPort"`
	MetricsPath    string `mapstructure:"metricsPath"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("mongodb.database", "b2monitor")
	viper.SetDefault("buffer.backend", "redis")
	viper.SetDefault("buffer.redisUrl", "redis://localhost:6379/0")
	viper.SetDefault("buffer.flushInterval", 10*time.Second)
	viper.SetDefault("buffer.runFlushWorker", true)
	viper.SetDefault("aggregate.windowInterval", 2*time.Second)
	viper.SetDefault("broadcast.subscriberBuffer", 64)
	viper.SetDefault("broadcast.exchange", "webhook_broadcast")
	viper.SetDefault("monitoring.prometheusPort", 9090)
	viper.SetDefault("monitoring.metricsPath", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus environment
		// overrides carry a container deployment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if promPort := os.Getenv("PROMETHEUS_PORT"); promPort != "" {
		if p, err := strconv.Atoi(promPort); err == nil {
			cfg.Monitoring.PrometheusPort = p
		}
	}

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.MongoDB.URI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		cfg.MongoDB.Database = db
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Buffer.RedisURL = url
	}
	if backend := os.Getenv("BUFFER_BACKEND"); backend != "" {
		cfg.Buffer.Backend = backend
	}
	if interval := os.Getenv("FLUSH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Buffer.FlushInterval = d
		}
	}
	if window := os.Getenv("AGGREGATION_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			cfg.Aggregate.WindowInterval = d
		}
	}

	// Support both CLOUDAMQP_URL and RABBITMQ_URI for the relay
	if cloudamqpURL := os.Getenv("CLOUDAMQP_URL"); cloudamqpURL != "" {
		cfg.Broadcast.AMQPURL = cloudamqpURL
	} else if rabbitURL := os.Getenv("RABBITMQ_URI"); rabbitURL != "" {
		cfg.Broadcast.AMQPURL = rabbitURL
	}
	if exchange := os.Getenv("RABBITMQ_EXCHANGE"); exchange != "" {
		cfg.Broadcast.Exchange = exchange
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return &cfg, nil
}
