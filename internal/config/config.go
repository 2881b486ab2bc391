package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full server configuration, read from the environment.
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	CatalogPath    string
	PlaylistsPath  string
	MediaDir       string
	// StaticDir holds a built frontend to serve for unknown routes. Empty
	// disables it.
	StaticDir string

	Jam       JamConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Database  DatabaseConfig
}

type JamConfig struct {
	MaxQueueSize  int
	EmptyGrace    time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration
	ActiveWindow  time.Duration
	BodyLimit     int64
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host was configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type DatabaseConfig struct {
	Driver     string
	SQLitePath string
	MySQL      MySQLConfig
}

type MySQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// DSN returns the data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		m := d.MySQL
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			m.User, m.Password, m.Host, m.Port, m.Database)
	case "sqlite":
		return d.SQLitePath
	}
	return ""
}

func (c Config) IsProduction() bool { return c.Env == "production" }

// Load reads .env when present, then the process environment. Malformed
// numbers and durations are reported together.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	r := reader{errs: &errs}

	cfg := Config{
		Port:           r.str("PORT", "4000"),
		Env:            r.str("APP_ENV", "development"),
		LogLevel:       r.str("LOG_LEVEL", "info"),
		AllowedOrigins: r.list("ALLOWED_ORIGINS", "http://localhost:3000"),
		CatalogPath:    r.str("CATALOG_PATH", "songs.json"),
		StaticDir:      r.str("STATIC_DIR", ""),
		PlaylistsPath:  r.str("PLAYLISTS_PATH", "playlists.json"),
		MediaDir:       r.str("MEDIA_DIR", "public"),
		Jam: JamConfig{
			MaxQueueSize:  r.int("JAM_MAX_QUEUE_SIZE", 50),
			EmptyGrace:    r.duration("JAM_EMPTY_GRACE", 60*time.Second),
			SweepInterval: r.duration("JAM_SWEEP_INTERVAL", 5*time.Minute),
			StaleAfter:    r.duration("JAM_STALE_AFTER", 30*time.Minute),
			ActiveWindow:  r.duration("JAM_ACTIVE_WINDOW", 5*time.Minute),
			BodyLimit:     int64(r.int("JAM_BODY_LIMIT", 1024)),
		},
		RateLimit: RateLimitConfig{
			Max:    r.int("RATE_LIMIT_MAX", 100),
			Window: r.duration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Redis: RedisConfig{
			Host:     r.str("REDIS_HOST", ""),
			Port:     r.str("REDIS_PORT", "6379"),
			Password: r.str("REDIS_PASSWORD", ""),
			DB:       r.int("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: r.list("KAFKA_BROKERS", ""),
			Topic:   r.str("KAFKA_TOPIC", "jam-session-events"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(r.str("DB_DRIVER", "")),
			SQLitePath: r.str("SQLITE_PATH", "jam.db"),
			MySQL: MySQLConfig{
				Host:     r.str("MYSQL_HOST", "localhost"),
				Port:     r.str("MYSQL_PORT", "3306"),
				User:     r.str("MYSQL_USER", "root"),
				Password: r.str("MYSQL_PASSWORD", ""),
				Database: r.str("MYSQL_DATABASE", "jam"),
			},
		},
	}

	switch cfg.Database.Driver {
	case "", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unsupported driver %q", cfg.Database.Driver))
	}
	if cfg.Jam.MaxQueueSize <= 0 {
		errs = append(errs, errors.New("JAM_MAX_QUEUE_SIZE: must be positive"))
	}
	if cfg.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX: must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type reader struct {
	errs *[]error
}

func (r reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r reader) list(key, def string) []string {
	raw := r.str(key, def)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r reader) int(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		*r.errs = append(*r.errs, fmt.Errorf("%s: must be positive", key))
		return def
	}
	return d
}
