package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	// The Telegram bot is only started when a token is configured.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`

	StoreDriver  string `mapstructure:"STORE_DRIVER"`
	BadgerDBPath string `mapstructure:"BADGERDB_PATH"`
	PostgresDSN  string `mapstructure:"POSTGRES_DSN"`

	Fetcher          string        `mapstructure:"FETCHER"`
	ProxyHost        string        `mapstructure:"PROXY_HOST"`
	ProxyPort        int           `mapstructure:"PROXY_PORT"`
	ProxyUsername    string        `mapstructure:"PROXY_USERNAME"`
	ProxyPassword    string        `mapstructure:"PROXY_PASSWORD"`
	ProxyInsecureTLS bool          `mapstructure:"PROXY_INSECURE_TLS"`
	FetchTimeout     time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FetchRPS         float64       `mapstructure:"FETCH_RPS"`

	BatchConcurrency int           `mapstructure:"BATCH_CONCURRENCY"`
	BatchBudget      time.Duration `mapstructure:"BATCH_BUDGET"`
	ScheduleInterval time.Duration `mapstructure:"SCHEDULE_INTERVAL"`

	DiscountThresholdPercent float64 `mapstructure:"DISCOUNT_THRESHOLD_PERCENT"`

	MailTransport string `mapstructure:"MAIL_TRANSPORT"`
	MailFrom      string `mapstructure:"MAIL_FROM"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUsername  string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	MailQueueURL  string `mapstructure:"MAIL_QUEUE_URL"`

	OTelEndpoint string `mapstructure:"OTEL_ENDPOINT"`
}

// Store drivers, fetchers and mail transports understood by LoadConfig.
const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"

	FetcherHTTP = "http"
	FetcherRod  = "rod"

	MailLog  = "log"
	MailSMTP = "smtp"
	MailSQS  = "sqs"
)

var defaults = map[string]any{
	"LOG_LEVEL":                  "info",
	"HTTP_ADDR":                  ":8080",
	"TELEGRAM_BOT_TOKEN":         "",
	"STORE_DRIVER":               StoreBadger,
	"BADGERDB_PATH":              "./badger_data",
	"POSTGRES_DSN":               "",
	"FETCHER":                    FetcherHTTP,
	"PROXY_HOST":                 "",
	"PROXY_PORT":                 22225,
	"PROXY_USERNAME":             "",
	"PROXY_PASSWORD":             "",
	"PROXY_INSECURE_TLS":         false,
	"FETCH_TIMEOUT":              "30s",
	"FETCH_RPS":                  2.0,
	"BATCH_CONCURRENCY":          4,
	"BATCH_BUDGET":               "5m",
	"SCHEDULE_INTERVAL":          "1h",
	"DISCOUNT_THRESHOLD_PERCENT": 35.0,
	"MAIL_TRANSPORT":             MailLog,
	"MAIL_FROM":                  "",
	"SMTP_HOST":                  "",
	"SMTP_PORT":                  587,
	"SMTP_USERNAME":              "",
	"SMTP_PASSWORD":              "",
	"MAIL_QUEUE_URL":             "",
	"OTEL_ENDPOINT":              "",
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Defaults also register every key, so Unmarshal sees env-only values.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, everything can come from the environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch c.StoreDriver {
	case StoreBadger:
		if c.BadgerDBPath == "" {
			return fmt.Errorf("BADGERDB_PATH is not set")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.Fetcher != FetcherHTTP && c.Fetcher != FetcherRod {
		return fmt.Errorf("unknown FETCHER %q", c.Fetcher)
	}
	if c.ProxyHost != "" && c.ProxyUsername == "" {
		return fmt.Errorf("PROXY_USERNAME is required when PROXY_HOST is set")
	}

	switch c.MailTransport {
	case MailLog:
	case MailSMTP:
		if c.SMTPHost == "" || c.MailFrom == "" {
			return fmt.Errorf("SMTP_HOST and MAIL_FROM are required when MAIL_TRANSPORT=smtp")
		}
	case MailSQS:
		if c.MailQueueURL == "" {
			return fmt.Errorf("MAIL_QUEUE_URL is required when MAIL_TRANSPORT=sqs")
		}
	default:
		return fmt.Errorf("unknown MAIL_TRANSPORT %q", c.MailTransport)
	}

	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if c.FetchTimeout <= 0 || c.BatchBudget <= 0 || c.ScheduleInterval <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT, BATCH_BUDGET and SCHEDULE_INTERVAL must be positive")
	}
	if c.DiscountThresholdPercent <= 0 || c.DiscountThresholdPercent >= 100 {
		return fmt.Errorf("DISCOUNT_THRESHOLD_PERCENT must be between 0 and 100")
	}
	return nil
}

// DiscountThreshold returns the discount threshold as a fraction of the original price.
func (c Config) DiscountThreshold() float64 {
	return c.DiscountThresholdPercent / 100
}
