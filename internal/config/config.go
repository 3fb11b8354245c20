package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Redis      `yaml:"redis"`
	RabbitMQ   `yaml:"rabbitmq"`
	Monitor    `yaml:"monitor"`
	Intents    `yaml:"intents"`
	SMTP       `yaml:"smtp"`
	Line       `yaml:"line"`
	Intake     `yaml:"intake"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// RunTimeout caps how long POST /runs may take to answer.
	RunTimeout  time.Duration `yaml:"run_timeout" env-default:"5m"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"postgres"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
	MaxConns int32  `yaml:"max_conns" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env-default:"2"`
}

type Redis struct {
	Addr      string        `yaml:"addr" env:"REDIS_ADDR" env-default:"redis:6379"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	Db        int           `yaml:"db" env-default:"1"`
	LockKey   string        `yaml:"lock_key" env-default:"stock-notifier:run-lock"`
	LockTTL   time.Duration `yaml:"lock_ttl" env-default:"10m"`
	ReportKey string        `yaml:"report_key" env-default:"stock-notifier:last-run"`
	ReportTTL time.Duration `yaml:"report_ttl" env-default:"168h"`
}

// RabbitMQ is optional: an empty URL disables events and queue triggers.
type RabbitMQ struct {
	URL            string `yaml:"url" env:"RABBITMQ_URL"`
	EventsQueue    string `yaml:"events_queue" env-default:"stock_notifications"`
	TriggerQueue   string `yaml:"trigger_queue" env-default:"stock_monitor_triggers"`
	WorkerPoolSize int    `yaml:"worker_pool_size" env-default:"1"`
}

type Monitor struct {
	Schedule       string        `yaml:"schedule" env:"MONITOR_SCHEDULE" env-default:"@every 5m"`
	Timezone       string        `yaml:"timezone" env-default:"Asia/Tokyo"`
	LockWait       time.Duration `yaml:"lock_wait" env-default:"3s"`
	InventoryTable string        `yaml:"inventory_table" env:"INVENTORY_TABLE"`
	SnapshotTable  string        `yaml:"snapshot_table" env-default:"inventory_cache"`
	MappingTable   string        `yaml:"mapping_table" env-default:"user_mappings"`
	StateTable     string        `yaml:"state_table" env-default:"monitor_state"`
}

type Intents struct {
	Arrival  IntentConfig `yaml:"arrival"`
	LowStock IntentConfig `yaml:"low_stock"`
}

// IntentConfig templates are text/template sources rendered with the product view.
type IntentConfig struct {
	WaitlistTable   string `yaml:"waitlist_table"`
	SubjectTemplate string `yaml:"subject_template"`
	BodyTemplate    string `yaml:"body_template"`
	Threshold       int    `yaml:"threshold"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM" env-required:"true"`
}

type Line struct {
	PushEnabled        bool    `yaml:"push_enabled" env-default:"true"`
	ChannelAccessToken string  `yaml:"channel_access_token" env:"LINE_MESSAGING_CHANNEL_ACCESS_TOKEN"`
	PushURL            string  `yaml:"push_url" env-default:"https://api.line.me/v2/bot/message/push"`
	PushRatePerSec     float64 `yaml:"push_rate_per_sec" env-default:"10"`
	Login              `yaml:"login"`
}

type Login struct {
	ChannelID     string        `yaml:"channel_id" env:"LINE_LOGIN_CHANNEL_ID"`
	ChannelSecret string        `yaml:"channel_secret" env:"LINE_LOGIN_CHANNEL_SECRET"`
	RedirectURL   string        `yaml:"redirect_url" env:"LINE_LOGIN_REDIRECT_URL"`
	StateSecret   string        `yaml:"state_secret" env:"LINE_LOGIN_STATE_SECRET"`
	StateTTL      time.Duration `yaml:"state_ttl" env-default:"15m"`
}

type Intake struct {
	APIToken string `yaml:"api_token" env:"INTAKE_API_TOKEN"`
}

func MustLoad(configPath string) *Config {
	// проверка существования файла
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %s", configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config %s: %s", configPath, err)
	}

	return &cfg
}
