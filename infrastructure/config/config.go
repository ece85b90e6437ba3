package config

import (
	"fmt"
	"time"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Room     RoomConfig     `mapstructure:"room"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Address    string        `mapstructure:"address"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	RankingTTL time.Duration `mapstructure:"ranking_ttl"`
}

type GeminiConfig struct {
	APIKey       string   `mapstructure:"api_key"`
	Models       []string `mapstructure:"models"`
	MaxLogLength int      `mapstructure:"max_log_length"`
}

type PipelineConfig struct {
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout"`
	PersistTimeout    time.Duration `mapstructure:"persist_timeout"`
	ConflictRetries   int           `mapstructure:"conflict_retries"`
}

type RoomConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`
}

func validateConfig(cfg *Config) error {
	switch cfg.Database.Driver {
	case DriverMySQL:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}

	if cfg.RabbitMQ.Enabled && cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq.url is required when rabbitmq is enabled")
	}
	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if cfg.Pipeline.EvaluationTimeout <= 0 {
		return fmt.Errorf("pipeline.evaluation_timeout must be positive")
	}
	return nil
}
