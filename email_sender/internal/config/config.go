package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const defaultConfigPath = "./config/config.yaml"

type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local"`
	RabbitMQURL string `yaml:"rabbitmq_url" env:"RABBITMQ_URL" env-required:"true"`
	QueueName   string `yaml:"queue_name" env:"QUEUE_NAME" env-default:"referral_notifications"`
	Email       `yaml:"email"`
}

type Email struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-required:"true"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USER" env-required:"true"`
	Password string `yaml:"password" env:"SMTP_PASS" env-required:"true"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

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

	_ = godotenv.Load()

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to read config: %w", op, err)
	}

	return &cfg, nil
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
