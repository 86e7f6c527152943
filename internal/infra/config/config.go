package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// PGDSN пустой только в dev: тогда используется хранилище в памяти.
	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		// Backend: rabbitmq, redis или memory.
		Backend    string `envconfig:"QUEUE_BACKEND" default:"rabbitmq"`
		Generation string `envconfig:"GENERATION_QUEUE_KEY" default:"quiz_generation"`
		Prefetch   int    `envconfig:"GENERATION_PREFETCH" default:"4"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Renderer struct {
		URL     string        `envconfig:"RENDERER_URL"`
		Timeout time.Duration `envconfig:"RENDERER_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Publisher struct {
		// Kind: telegram или graph.
		Kind string `envconfig:"PUBLISHER" default:"telegram"`
	} `envconfig:""`

	Telegram struct {
		Token   string `envconfig:"TG_BOT_TOKEN"`
		Channel string `envconfig:"TG_CHANNEL"`
	} `envconfig:""`

	Graph struct {
		BaseURL     string `envconfig:"GRAPH_BASE_URL"`
		AccountID   string `envconfig:"GRAPH_ACCOUNT_ID"`
		AccessToken string `envconfig:"GRAPH_ACCESS_TOKEN"`
	} `envconfig:""`

	Scheduler struct {
		Spec      string `envconfig:"SCHEDULER_SPEC" default:"@every 1m"`
		BatchSize int    `envconfig:"SCHEDULER_BATCH_SIZE" default:"10"`
	} `envconfig:""`

	Publish struct {
		Concurrency   int           `envconfig:"PUBLISH_CONCURRENCY" default:"4"`
		Timeout       time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"30s"`
		RatePerSecond float64       `envconfig:"PUBLISH_RATE_PER_SECOND" default:"1"`
		Burst         int           `envconfig:"PUBLISH_BURST" default:"3"`
		LockTTL       time.Duration `envconfig:"PUBLISH_LOCK_TTL" default:"55s"`
	} `envconfig:""`

	Limits struct {
		MaxBatch    int `envconfig:"GENERATION_MAX_BATCH" default:"50"`
		HorizonDays int `envconfig:"SLOT_HORIZON_DAYS" default:"14"`
	} `envconfig:""`
}

// Dev сообщает, что сервис запущен в dev-окружении.
func (c AppConfig) Dev() bool {
	return c.AppEnv == "dev"
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse загружает конфиг из окружения и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
