package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage and lock drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	LockLocal       = "local"
	LockRedis       = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Storage       StorageConfig
	Locks         LockConfig
	Registration  RegistrationDefaults
	Waitlist      WaitlistConfig
	Billing       BillingConfig
	Notifications NotificationConfig
	Cache         CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string
}

// LockConfig selects the per-section/per-student lock implementation.
type LockConfig struct {
	Driver         string
	AcquireTimeout time.Duration
	LeaseTTL       time.Duration
}

// RegistrationDefaults seeds registration settings missing from the configuration store.
type RegistrationDefaults struct {
	MaxCreditsPerTerm            int
	MaxWaitlistEntriesPerStudent int
	WaitlistEnabled              bool
	AddDropEnabled               bool
}

// WaitlistConfig tunes the promotion sweep and the seat-freed event workers.
type WaitlistConfig struct {
	SweepInterval time.Duration
	EventWorkers  int
	EventBuffer   int
}

// BillingConfig tunes the overdue invoice sweep.
type BillingConfig struct {
	SweepInterval time.Duration
	GracePeriod   time.Duration
}

// NotificationConfig controls notification fan-out.
type NotificationConfig struct {
	Channel string
	Workers int
}

// CacheConfig governs the read-view cache for section state.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{Driver: strings.ToLower(v.GetString("STORAGE_DRIVER"))}

	cfg.Locks = LockConfig{
		Driver:         strings.ToLower(v.GetString("LOCK_DRIVER")),
		AcquireTimeout: parseDuration(v.GetString("LOCK_ACQUIRE_TIMEOUT"), 2*time.Second),
		LeaseTTL:       parseDuration(v.GetString("LOCK_LEASE_TTL"), 30*time.Second),
	}

	cfg.Registration = RegistrationDefaults{
		MaxCreditsPerTerm:            v.GetInt("REGISTRATION_MAX_CREDITS_PER_TERM"),
		MaxWaitlistEntriesPerStudent: v.GetInt("REGISTRATION_MAX_WAITLIST_ENTRIES"),
		WaitlistEnabled:              v.GetBool("REGISTRATION_WAITLIST_ENABLED"),
		AddDropEnabled:               v.GetBool("REGISTRATION_ADD_DROP_ENABLED"),
	}

	cfg.Waitlist = WaitlistConfig{
		SweepInterval: parseDuration(v.GetString("WAITLIST_SWEEP_INTERVAL"), 5*time.Minute),
		EventWorkers:  v.GetInt("WAITLIST_EVENT_WORKERS"),
		EventBuffer:   v.GetInt("WAITLIST_EVENT_BUFFER"),
	}

	cfg.Billing = BillingConfig{
		SweepInterval: parseDuration(v.GetString("BILLING_SWEEP_INTERVAL"), 24*time.Hour),
		GracePeriod:   parseDuration(v.GetString("BILLING_GRACE_PERIOD"), 72*time.Hour),
	}

	cfg.Notifications = NotificationConfig{
		Channel: v.GetString("NOTIFICATIONS_CHANNEL"),
		Workers: v.GetInt("NOTIFICATIONS_WORKERS"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 30*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "registrar")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DRIVER", StorageMemory)
	v.SetDefault("LOCK_DRIVER", LockLocal)
	v.SetDefault("LOCK_ACQUIRE_TIMEOUT", "2s")
	v.SetDefault("LOCK_LEASE_TTL", "30s")

	v.SetDefault("REGISTRATION_MAX_CREDITS_PER_TERM", 18)
	v.SetDefault("REGISTRATION_MAX_WAITLIST_ENTRIES", 3)
	v.SetDefault("REGISTRATION_WAITLIST_ENABLED", true)
	v.SetDefault("REGISTRATION_ADD_DROP_ENABLED", true)

	v.SetDefault("WAITLIST_SWEEP_INTERVAL", "5m")
	v.SetDefault("WAITLIST_EVENT_WORKERS", 2)
	v.SetDefault("WAITLIST_EVENT_BUFFER", 64)

	v.SetDefault("BILLING_SWEEP_INTERVAL", "24h")
	v.SetDefault("BILLING_GRACE_PERIOD", "72h")

	v.SetDefault("NOTIFICATIONS_CHANNEL", "")
	v.SetDefault("NOTIFICATIONS_WORKERS", 1)

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "30s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
