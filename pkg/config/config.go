package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/utils"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	Log      Log      `yaml:"log"`
	HTTP     HTTP     `yaml:"http"`
	Metrics  Metrics  `yaml:"metrics"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Gateway  Gateway  `yaml:"gateway"`
	Donation Donation `yaml:"donation"`
	Lock     Lock     `yaml:"lock"`
	Outbox   Outbox   `yaml:"outbox"`
	Janitor  Janitor  `yaml:"janitor"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3005"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9091"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	PaymentTopic  string   `yaml:"payment_topic" env-default:"payment_events"`
	RequestTopic  string   `yaml:"request_topic" env-default:"donation_payment_requests"`
	ConsumerGroup string   `yaml:"consumer_group" env-default:"payment-service-group"`
}

type Gateway struct {
	Name    string        `yaml:"name" env-default:"stripe"`
	BaseURL string        `yaml:"base_url" env:"GATEWAY_URL" env-default:"http://localhost:8091"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type Donation struct {
	BaseURL string        `yaml:"base_url" env:"DONATION_URL" env-default:"http://localhost:8092"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

type Lock struct {
	TTL           time.Duration `yaml:"ttl" env-default:"5m"`
	MaxWait       time.Duration `yaml:"max_wait" env-default:"10s"`
	RetryInterval time.Duration `yaml:"retry_interval" env-default:"100ms"`
	Extension     time.Duration `yaml:"extension" env-default:"2m"`
}

type Outbox struct {
	Interval          time.Duration `yaml:"interval" env-default:"30s"`
	BatchSize         int           `yaml:"batch_size" env-default:"50"`
	MaxRetries        int64         `yaml:"max_retries" env-default:"5"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout" env-default:"5m"`
}

type Janitor struct {
	Interval   time.Duration `yaml:"interval" env-default:"1m"`
	StaleAfter time.Duration `yaml:"stale_after" env-default:"15m"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
