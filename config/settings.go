package config

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Settings struct {
	Service  ServiceSettings  `mapstructure:"service"`
	Database DatabaseSettings `mapstructure:"database"`
	Redis    RedisSettings    `mapstructure:"redis"`
	PubSub   PubSubSettings   `mapstructure:"pubsub"`
	Ledger   LedgerSettings   `mapstructure:"ledger"`
}

type ServiceSettings struct {
	Port     string `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=trace debug info warn warning error fatal panic"`
	// CorsAllowedOrigins is comma-separated; empty allows all origins.
	CorsAllowedOrigins string `mapstructure:"cors_allowed_origins"`
}

type DatabaseSettings struct {
	Driver   string `mapstructure:"driver" validate:"required,oneof=mysql postgres sqlite"`
	Host     string `mapstructure:"host" validate:"required_unless=Driver sqlite"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	// SkipMigrations leaves AutoMigrate to a separate job.
	SkipMigrations bool `mapstructure:"skip_migrations"`

	MaxOpenConns           int `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns           int `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds" validate:"gte=0"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds" validate:"gte=0"`
}

// RedisSettings: an empty address disables the distributed share lock.
type RedisSettings struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubSettings: an empty topic disables ledger event publishing.
type PubSubSettings struct {
	ProjectId       string `mapstructure:"project_id" validate:"required_with=Topic"`
	Topic           string `mapstructure:"topic"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

type LedgerSettings struct {
	// AtomicWorkflows runs purchase and stock trade steps in one DB transaction instead of compensating.
	AtomicWorkflows     bool `mapstructure:"atomic_workflows"`
	ShareLockTTLSeconds int  `mapstructure:"share_lock_ttl_seconds" validate:"gte=1"`
}

var envBindings = map[string]string{
	"service.port":                        "PORT",
	"service.log_level":                   "LOG_LEVEL",
	"service.cors_allowed_origins":        "CORS_ALLOWED_ORIGINS",
	"database.driver":                     "DB_DRIVER",
	"database.host":                       "DB_HOST",
	"database.port":                       "DB_PORT",
	"database.user":                       "DB_USER",
	"database.password":                   "DB_PASSWORD",
	"database.name":                       "DB_NAME",
	"database.skip_migrations":            "SKIP_MIGRATIONS",
	"database.max_open_conns":             "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":             "DB_MAX_IDLE_CONNS",
	"database.conn_max_lifetime_seconds":  "DB_CONN_MAX_LIFETIME_SECONDS",
	"database.conn_max_idle_time_seconds": "DB_CONN_MAX_IDLE_TIME_SECONDS",
	"redis.address":                       "REDIS_ADDRESS",
	"redis.password":                      "REDIS_PASSWORD",
	"redis.db":                            "REDIS_DB",
	"pubsub.project_id":                   "PUBSUB_PROJECT_ID",
	"pubsub.topic":                        "PUBSUB_TOPIC",
	"pubsub.credentials_json":             "PUBSUB_CREDENTIALS_JSON",
	"ledger.atomic_workflows":             "LEDGER_ATOMIC_WORKFLOWS",
	"ledger.share_lock_ttl_seconds":       "LEDGER_SHARE_LOCK_TTL_SECONDS",
}

// LoadSettings reads .env, then an optional <path>/appsettings.yaml, then the environment.
// Environment variables win over the file.
func LoadSettings(path string) (*Settings, error) {
	// Load env from .env
	godotenv.Load()

	v := viper.New()
	v.SetDefault("service.port", "8080")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime_seconds", 300)
	v.SetDefault("database.conn_max_idle_time_seconds", 60)
	v.SetDefault("ledger.share_lock_ttl_seconds", 30)

	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName("appsettings")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}
	settings.Service.LogLevel = strings.ToLower(strings.TrimSpace(settings.Service.LogLevel))
	if err := validator.New().Struct(settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
