package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Admin      AdminConfig      `mapstructure:"admin"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
}

type AdminConfig struct {
	Addr        string `mapstructure:"addr"`
	TokenSecret string `mapstructure:"token_secret"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	AlertTo  []string `mapstructure:"alert_to"`
}

// PipelineConfig carries the retry and claim tuning. The defaults are
// tunable operational values, not load-bearing constants.
type PipelineConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts"`
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	ClaimLivenessTimeout time.Duration `mapstructure:"claim_liveness_timeout"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	DispatchTimeout      time.Duration `mapstructure:"dispatch_timeout"`
}

type EnrichmentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	DedupeCacheTTL time.Duration `mapstructure:"dedupe_cache_ttl"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("pipeline.max_attempts", 5)
	viper.SetDefault("pipeline.base_delay", 2*time.Second)
	viper.SetDefault("pipeline.claim_liveness_timeout", 2*time.Minute)
	viper.SetDefault("pipeline.poll_interval", 5*time.Second)
	viper.SetDefault("pipeline.dispatch_timeout", 30*time.Second)
	viper.SetDefault("enrichment.request_timeout", 10*time.Second)
	viper.SetDefault("enrichment.rate_per_second", 10.0)
	viper.SetDefault("enrichment.dedupe_cache_ttl", time.Hour)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// WorkerEnv holds per-process settings read from RECORDFLOW_WORKER_*
// environment variables, separate from the shared config file.
type WorkerEnv struct {
	IDPrefix    string `envconfig:"ID_PREFIX" default:"worker"`
	HealthAddr  string `envconfig:"HEALTH_ADDR" default:":8081"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9091"`
}

func LoadWorkerEnv() (*WorkerEnv, error) {
	var env WorkerEnv
	if err := envconfig.Process("RECORDFLOW_WORKER", &env); err != nil {
		return nil, fmt.Errorf("failed to process worker env: %w", err)
	}
	return &env, nil
}
