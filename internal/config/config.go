package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const defaultConfigPath = "./config/config.yaml"

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	Tokens     `yaml:"tokens"`
	Referral   `yaml:"referral"`
	Hasher     `yaml:"hasher"`
	Postgres   `yaml:"postgres"`
	Redis      `yaml:"redis"`
	RabbitMQ   `yaml:"rabbitmq"`
	HTTPServer `yaml:"http_server"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host         string        `yaml:"host" env:"DB_HOST" env-default:"postgres"`
	Port         int           `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User         string        `yaml:"user" env:"DB_USER" env-required:"true"`
	Password     string        `yaml:"password" env:"DB_PASS" env-required:"true"`
	DBName       string        `yaml:"dbname" env:"DB_NAME" env-required:"true"`
	SSLMode      string        `yaml:"sslmode" env-default:"disable"`
	QueryTimeout time.Duration `yaml:"query_timeout" env-default:"3s"`
	SkipMigrate  bool          `yaml:"skip_migrate" env:"DB_SKIP_MIGRATE"`
}

// Redis caches referral lookups by owner email. An empty address disables the cache.
type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RabbitMQ carries referral notifications. An empty url disables publishing.
type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL"`
	QueueName string `yaml:"queue_name" env-default:"referral_notifications"`
}

type Tokens struct {
	Secret         string        `yaml:"secret" env:"TOKEN_SECRET" env-required:"true"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"30m"`
}

type Referral struct {
	CodeLength          int           `yaml:"code_length" env-default:"20"`
	MinTTLDays          int           `yaml:"min_ttl_days" env-default:"1"`
	MaxTTLDays          int           `yaml:"max_ttl_days" env-default:"30"`
	CacheTTL            time.Duration `yaml:"cache_ttl" env-default:"5m"`
	MaxGenerateAttempts int           `yaml:"max_generate_attempts" env-default:"5"`
}

type Hasher struct {
	Cost int `yaml:"cost" env-default:"10"`
}

// MustLoad reads the config from the -config flag or CONFIG_PATH and panics on failure.
func MustLoad() *Config {
	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic(err.Error())
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	}

	// .env is optional, missing file is fine
	_ = godotenv.Load()

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to read config: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Referral.MinTTLDays < 1 || c.Referral.MaxTTLDays < c.Referral.MinTTLDays {
		return errors.New("referral ttl bounds are inconsistent")
	}
	if c.Referral.CodeLength < 1 {
		return errors.New("referral code length must be positive")
	}
	if c.Referral.MaxGenerateAttempts < 1 {
		return errors.New("max_generate_attempts must be positive")
	}
	if c.Tokens.AccessTokenTTL <= 0 {
		return errors.New("access_token_ttl must be positive")
	}

	return nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	if res == "" {
		res = defaultConfigPath
	}

	return res
}
