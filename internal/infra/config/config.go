package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию автопостера.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"autoposter.events"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Generation struct {
		BaseURL     string        `envconfig:"GEN_BASE_URL"`
		Model       string        `envconfig:"GEN_MODEL" default:"gpt-4.1-mini"`
		ImageModel  string        `envconfig:"GEN_IMAGE_MODEL" default:"dall-e-3"`
		Temperature float64       `envconfig:"GEN_TEMPERATURE" default:"0.7"`
		Timeout     time.Duration `envconfig:"GEN_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Scheduler struct {
		Autostart        bool          `envconfig:"BOT_AUTOSTART" default:"true"`
		TickInterval     time.Duration `envconfig:"TICK_INTERVAL" default:"1m"`
		ToleranceMinutes int           `envconfig:"TOLERANCE_MINUTES" default:"2"`
		GenerationDelay  time.Duration `envconfig:"GENERATION_DELAY" default:"2s"`
		PublishTimeout   time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"30s"`
		WatchdogAfter    time.Duration `envconfig:"WATCHDOG_AFTER" default:"60s"`
	} `envconfig:""`

	Limits struct {
		RecentLogs int `envconfig:"RECENT_LOGS_LIMIT" default:"100"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
