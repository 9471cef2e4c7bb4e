package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Environment string
	LogLevel    string
	Timezone    string
	Location    *time.Location
	MetricsAddr string

	Database   DatabaseConfig
	Redis      RedisConfig
	Generation GenerationConfig
	Booking    BookingConfig
	Telegram   TelegramConfig
}

type DatabaseConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// RedisConfig is optional; an empty Addr disables the availability cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type GenerationConfig struct {
	HorizonDays   int
	Interval      time.Duration
	Workers       int
	DoctorTimeout time.Duration
}

type BookingConfig struct {
	InitialStatus           model.BookingStatus
	AllowManualAvailability bool
	MaxRetries              int
	RetryBaseDelay          time.Duration
	NotifyTimeout           time.Duration
}

// TelegramConfig is optional; an empty Token disables booking notifications.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

func Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	d := durations{v: v}

	cfg := &Config{
		Environment: v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Timezone:    v.GetString("TIMEZONE"),
		MetricsAddr: v.GetString("METRICS_ADDR"),
	}

	cfg.Database = DatabaseConfig{
		DSN:      v.GetString("DB_DSN"),
		MaxConns: v.GetInt32("DB_MAX_CONNS"),
		MinConns: v.GetInt32("DB_MIN_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("REDIS_ADDR"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		CacheTTL: d.get("AVAILABILITY_CACHE_TTL"),
	}

	cfg.Generation = GenerationConfig{
		HorizonDays:   v.GetInt("GENERATION_HORIZON_DAYS"),
		Interval:      d.get("GENERATION_INTERVAL"),
		Workers:       v.GetInt("GENERATION_WORKERS"),
		DoctorTimeout: d.get("GENERATION_DOCTOR_TIMEOUT"),
	}

	cfg.Booking = BookingConfig{
		InitialStatus:           model.BookingStatus(strings.ToLower(v.GetString("BOOKING_INITIAL_STATUS"))),
		AllowManualAvailability: v.GetBool("BOOKING_ALLOW_MANUAL_AVAILABILITY"),
		MaxRetries:              v.GetInt("BOOKING_MAX_RETRIES"),
		RetryBaseDelay:          d.get("BOOKING_RETRY_BASE_DELAY"),
		NotifyTimeout:           d.get("BOOKING_NOTIFY_TIMEOUT"),
	}

	cfg.Telegram = TelegramConfig{
		Token:  v.GetString("TELEGRAM_TOKEN"),
		ChatID: v.GetInt64("TELEGRAM_CHAT_ID"),
	}

	if d.err != nil {
		return nil, d.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("METRICS_ADDR", ":9090")

	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "5m")

	v.SetDefault("GENERATION_HORIZON_DAYS", 14)
	v.SetDefault("GENERATION_INTERVAL", "24h")
	v.SetDefault("GENERATION_WORKERS", 4)
	v.SetDefault("GENERATION_DOCTOR_TIMEOUT", "30s")

	v.SetDefault("BOOKING_INITIAL_STATUS", string(model.BookingStatusPending))
	v.SetDefault("BOOKING_ALLOW_MANUAL_AVAILABILITY", false)
	v.SetDefault("BOOKING_MAX_RETRIES", 3)
	v.SetDefault("BOOKING_RETRY_BASE_DELAY", "50ms")
	v.SetDefault("BOOKING_NOTIFY_TIMEOUT", "5s")
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return errors.New("DB_DSN is required but not set")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.Location = loc

	switch c.Booking.InitialStatus {
	case model.BookingStatusPending, model.BookingStatusConfirmed:
	default:
		return fmt.Errorf("invalid BOOKING_INITIAL_STATUS %q: must be pending or confirmed", c.Booking.InitialStatus)
	}

	if c.Generation.HorizonDays <= 0 {
		return fmt.Errorf("GENERATION_HORIZON_DAYS must be positive, got %d", c.Generation.HorizonDays)
	}
	if c.Generation.Workers <= 0 {
		return fmt.Errorf("GENERATION_WORKERS must be positive, got %d", c.Generation.Workers)
	}
	if c.Generation.Interval <= 0 {
		return fmt.Errorf("GENERATION_INTERVAL must be positive, got %s", c.Generation.Interval)
	}
	if c.Generation.DoctorTimeout <= 0 {
		return fmt.Errorf("GENERATION_DOCTOR_TIMEOUT must be positive, got %s", c.Generation.DoctorTimeout)
	}
	if c.Redis.CacheTTL < 0 {
		return fmt.Errorf("AVAILABILITY_CACHE_TTL must not be negative, got %s", c.Redis.CacheTTL)
	}
	if c.Booking.RetryBaseDelay <= 0 {
		return fmt.Errorf("BOOKING_RETRY_BASE_DELAY must be positive, got %s", c.Booking.RetryBaseDelay)
	}
	if c.Booking.NotifyTimeout <= 0 {
		return fmt.Errorf("BOOKING_NOTIFY_TIMEOUT must be positive, got %s", c.Booking.NotifyTimeout)
	}
	if c.Booking.MaxRetries < 0 {
		return fmt.Errorf("BOOKING_MAX_RETRIES must not be negative, got %d", c.Booking.MaxRetries)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// durations reads duration settings and collects every malformed value.
type durations struct {
	v   *viper.Viper
	err error
}

func (d *durations) get(key string) time.Duration {
	raw := d.v.GetString(key)
	dur, err := time.ParseDuration(raw)
	if err != nil {
		d.err = multierr.Append(d.err, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return 0
	}
	return dur
}
