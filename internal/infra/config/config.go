package config

import (
	"errors"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Engagements string `envconfig:"ENGAGEMENT_QUEUE_KEY" default:"engagement_jobs"`
		Backend     string `envconfig:"QUEUE_BACKEND" default:"rabbit"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Ops struct {
		TelegramToken  string `envconfig:"OPS_TG_BOT_TOKEN"`
		TelegramChatID int64  `envconfig:"OPS_TG_CHAT_ID"`
	} `envconfig:""`

	Events struct {
		Secret string `envconfig:"EVENTS_HMAC_SECRET"`
	} `envconfig:""`

	Limits struct {
		FreeDaily    int `envconfig:"LIMIT_FREE_DAILY" default:"3"`
		PremiumDaily int `envconfig:"LIMIT_PREMIUM_DAILY" default:"10"`
		ActiveBonus  int `envconfig:"LIMIT_ACTIVE_BONUS" default:"2"`
		CollabMax    int `envconfig:"LIMIT_COLLAB_PERSONAS" default:"3"`
	} `envconfig:""`

	Engage struct {
		MinEntryAge     time.Duration `envconfig:"ENGAGE_MIN_ENTRY_AGE" default:"5m"`
		MinDelay        time.Duration `envconfig:"ENGAGE_MIN_DELAY" default:"5m"`
		MaxDelay        time.Duration `envconfig:"ENGAGE_MAX_DELAY" default:"1h"`
		FastDelayMin    time.Duration `envconfig:"ENGAGE_FAST_DELAY_MIN" default:"5m"`
		FastDelayMax    time.Duration `envconfig:"ENGAGE_FAST_DELAY_MAX" default:"20m"`
		SlowDelayMin    time.Duration `envconfig:"ENGAGE_SLOW_DELAY_MIN" default:"20m"`
		SlowDelayMax    time.Duration `envconfig:"ENGAGE_SLOW_DELAY_MAX" default:"1h"`
		MinSpacing      time.Duration `envconfig:"ENGAGE_MIN_SPACING" default:"30m"`
		ProviderTimeout time.Duration `envconfig:"ENGAGE_PROVIDER_TIMEOUT" default:"45s"`
		RetryBackoff    time.Duration `envconfig:"ENGAGE_RETRY_BACKOFF" default:"2s"`
		Workers         int           `envconfig:"ENGAGE_WORKERS" default:"8"`
		MaxGenerations  int           `envconfig:"ENGAGE_MAX_GENERATIONS" default:"50"`
		PendingTTL      time.Duration `envconfig:"ENGAGE_PENDING_TTL" default:"24h"`
	} `envconfig:""`

	Pattern struct {
		WindowDays   int           `envconfig:"PATTERN_WINDOW_DAYS" default:"14"`
		MaxEvents    int           `envconfig:"PATTERN_MAX_EVENTS" default:"200"`
		MinPositive  int           `envconfig:"PATTERN_MIN_POSITIVE" default:"2"`
		RecentWindow time.Duration `envconfig:"PATTERN_RECENT_WINDOW" default:"48h"`
	} `envconfig:""`

	Sweeps struct {
		Immediate string `envconfig:"SWEEP_IMMEDIATE_SPEC" default:"@every 1m"`
		Main      string `envconfig:"SWEEP_MAIN_SPEC" default:"@every 10m"`
		Analytics string `envconfig:"SWEEP_ANALYTICS_SPEC" default:"@every 1h"`
		PageSize  int    `envconfig:"SWEEP_PAGE_SIZE" default:"500"`
	} `envconfig:""`

	TestingOverride bool `envconfig:"TESTING_OVERRIDE" default:"false"`
}

// ErrOverrideInProd возвращается, если диагностический режим включён в бою.
var ErrOverrideInProd = errors.New("testing override запрещён при APP_ENV=prod")

// Validate проверяет конфигурацию на фатальные ошибки запуска.
func (c AppConfig) Validate() error {
	if c.TestingOverride && c.AppEnv == "prod" {
		return ErrOverrideInProd
	}
	if c.Engage.MinDelay > c.Engage.MaxDelay {
		return errors.New("ENGAGE_MIN_DELAY больше ENGAGE_MAX_DELAY")
	}
	if c.Engage.Workers <= 0 || c.Engage.MaxGenerations <= 0 {
		return errors.New("число воркеров и предел генераций должны быть положительными")
	}
	return nil
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("некорректная конфигурация: %v", err)
	}
	return cfg
}
