package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the credit engine.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Credits  CreditsConfig
	Retry    RetryConfig

	ClassCacheTTL time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// DSN returns a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string
}

// CreditsConfig is the credit pricing and period policy.
type CreditsConfig struct {
	StartingBalance   int64
	BaseCost          int64
	PeakBands         []PeakBand
	PeakSurcharge     int64
	Location          *time.Location
	CancellationHours int
	RolloverCap       int64
	MonthlyAllotment  int64
}

type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var bindings = map[string]string{
	"server.port":      "PORT",
	"server.env":       "APP_ENV",
	"server.log_level": "LOG_LEVEL",

	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	"database.auto_migrate":      "DATABASE_AUTO_MIGRATE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key": "JWT_SECRET_KEY",

	"credits.starting_balance":   "CREDITS_STARTING_BALANCE",
	"credits.base_cost":          "CREDITS_BASE_COST",
	"credits.peak_bands":         "CREDITS_PEAK_BANDS",
	"credits.peak_surcharge":     "CREDITS_PEAK_SURCHARGE",
	"credits.timezone":           "CREDITS_TIMEZONE",
	"credits.cancellation_hours": "BOOKING_CANCELLATION_HOURS",
	"credits.rollover_cap":       "CREDITS_ROLLOVER_CAP",
	"credits.monthly_allotment":  "CREDITS_MONTHLY_ALLOTMENT",

	"retry.max_attempts":     "RETRY_MAX_ATTEMPTS",
	"retry.initial_interval": "RETRY_INITIAL_INTERVAL",
	"retry.max_interval":     "RETRY_MAX_INTERVAL",

	"cache.class_ttl": "CLASS_CACHE_TTL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "fitpass")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Minute*5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("credits.starting_balance", 4)
	v.SetDefault("credits.base_cost", 1)
	v.SetDefault("credits.peak_bands", "06:00-09:00,17:00-20:00")
	v.SetDefault("credits.peak_surcharge", 1)
	v.SetDefault("credits.timezone", "America/Mazatlan")
	v.SetDefault("credits.cancellation_hours", 24)
	v.SetDefault("credits.rollover_cap", 4)
	v.SetDefault("credits.monthly_allotment", 4)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", 50*time.Millisecond)
	v.SetDefault("retry.max_interval", time.Second)

	v.SetDefault("cache.class_ttl", 30*time.Second)
}

// Load reads an optional .env file and the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// missing .env files are fine, real env vars still apply
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	bands, err := ParsePeakBands(v.GetString("credits.peak_bands"))
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(v.GetString("credits.timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid CREDITS_TIMEZONE: %w", err)
	}

	cfg := &Config{
		Port:     v.GetString("server.port"),
		Env:      v.GetString("server.env"),
		LogLevel: v.GetString("server.log_level"),
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{SecretKey: v.GetString("jwt.secret_key")},
		Credits: CreditsConfig{
			StartingBalance:   v.GetInt64("credits.starting_balance"),
			BaseCost:          v.GetInt64("credits.base_cost"),
			PeakBands:         bands,
			PeakSurcharge:     v.GetInt64("credits.peak_surcharge"),
			Location:          loc,
			CancellationHours: v.GetInt("credits.cancellation_hours"),
			RolloverCap:       v.GetInt64("credits.rollover_cap"),
			MonthlyAllotment:  v.GetInt64("credits.monthly_allotment"),
		},
		Retry: RetryConfig{
			MaxAttempts:     v.GetUint("retry.max_attempts"),
			InitialInterval: v.GetDuration("retry.initial_interval"),
			MaxInterval:     v.GetDuration("retry.max_interval"),
		},
		ClassCacheTTL: v.GetDuration("cache.class_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Credits.StartingBalance < 0:
		return fmt.Errorf("CREDITS_STARTING_BALANCE must be >= 0")
	case c.Credits.BaseCost < 1:
		return fmt.Errorf("CREDITS_BASE_COST must be >= 1")
	case c.Credits.PeakSurcharge < 0:
		return fmt.Errorf("CREDITS_PEAK_SURCHARGE must be >= 0")
	case c.Credits.CancellationHours < 0:
		return fmt.Errorf("BOOKING_CANCELLATION_HOURS must be >= 0")
	case c.Credits.RolloverCap < 0:
		return fmt.Errorf("CREDITS_ROLLOVER_CAP must be >= 0")
	case c.Credits.MonthlyAllotment < 0:
		return fmt.Errorf("CREDITS_MONTHLY_ALLOTMENT must be >= 0")
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

// CancellationWindow is the minimum lead time for a refundable cancel.
func (c CreditsConfig) CancellationWindow() time.Duration {
	return time.Duration(c.CancellationHours) * time.Hour
}
