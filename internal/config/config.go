// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // settler ops port, e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	WSAllowedOrigins     []string      // empty = allow all
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	MigrationsDir   string        // default "migrations"
}

// RedisConfig holds the Redis connection used by the redis lock backend.
type RedisConfig struct {
	Addr     string // default "localhost:6379"
	Password string
	DB       int
}

// LockConfig selects the period lock backend.
type LockConfig struct {
	Backend string        // "postgres" | "redis" | "memory" (single process, dev only)
	TTL     time.Duration // default 2m; a crashed holder's lock expires after this
}

// SettlementConfig bounds one orchestrator run.
type SettlementConfig struct {
	Budget      time.Duration // wall-clock budget per run, default 20s
	MaxHops     int           // agent chain hop cap, default 32
	GraceWindow time.Duration // how old a draw must be before the audit scan flags it, default 2m
}

// ReconcileConfig drives the compensation loop.
type ReconcileConfig struct {
	Schedule    string        // cron spec with seconds, default "*/15 * * * * *"
	MaxRetries  int           // default 5
	BackoffBase time.Duration // default 5s
	BackoffMax  time.Duration // default 5m
	BatchSize   int           // default 50
}

// SchedulerConfig drives the period loop.
type SchedulerConfig struct {
	Tick           time.Duration // default 2s
	PeriodInterval time.Duration // opens periods on this cadence; 0 = an external clock does it
}

// KafkaConfig holds the downstream event stream. No brokers = events disabled.
type KafkaConfig struct {
	Brokers []string
	Topic   string // default "pk10.period.settled"
}

// JWTConfig holds the ops token settings.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // default 12h
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	Lock       LockConfig
	Settlement SettlementConfig
	Reconcile  ReconcileConfig
	Scheduler  SchedulerConfig
	Kafka      KafkaConfig
	JWT        JWTConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// cronParser accepts the six-field (seconds-first) specs used by the reconciler.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a reconciler cron spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	switch c.Lock.Backend {
	case "postgres":
	case "memory":
		if c.IsProd() {
			errs = append(errs, errors.New("LOCK_BACKEND=memory is single-process only and not allowed in production"))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR must be set when LOCK_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND must be postgres, redis or memory, got %q", c.Lock.Backend))
	}
	if c.Lock.TTL <= c.Settlement.Budget {
		errs = append(errs, fmt.Errorf(
			"LOCK_TTL (%s) must exceed SETTLEMENT_BUDGET (%s)", c.Lock.TTL, c.Settlement.Budget,
		))
	}

	if c.Settlement.Budget <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_BUDGET must be positive"))
	}
	if c.Settlement.MaxHops < 1 {
		errs = append(errs, fmt.Errorf("SETTLEMENT_MAX_HOPS must be >= 1, got %d", c.Settlement.MaxHops))
	}

	if _, err := ParseSchedule(c.Reconcile.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("RECONCILE_SCHEDULE %q: %w", c.Reconcile.Schedule, err))
	}
	if c.Reconcile.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("RECONCILE_MAX_RETRIES must be >= 1, got %d", c.Reconcile.MaxRetries))
	}
	if c.Reconcile.BackoffBase <= 0 || c.Reconcile.BackoffMax < c.Reconcile.BackoffBase {
		errs = append(errs, fmt.Errorf(
			"reconcile backoff must satisfy 0 < base <= max, got base=%s max=%s",
			c.Reconcile.BackoffBase, c.Reconcile.BackoffMax,
		))
	}
	if c.Reconcile.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("RECONCILE_BATCH_SIZE must be >= 1, got %d", c.Reconcile.BatchSize))
	}

	if c.Scheduler.Tick <= 0 {
		errs = append(errs, errors.New("SCHEDULER_TICK must be positive"))
	}
	if c.Scheduler.PeriodInterval < 0 {
		errs = append(errs, errors.New("SCHEDULER_PERIOD_INTERVAL must not be negative"))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC must be set when KAFKA_BROKERS is"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails; call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// Load reads the environment without touching the singleton. Used by tests.
func Load() (*Config, error) {
	return load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		WSAllowedOrigins:     getList("WS_ALLOWED_ORIGINS"),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "pk10_settlement"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		MigrationsDir:   getEnv("DB_MIGRATIONS_DIR", "migrations"),
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       redisDB,
	}

	// ── Lock ──────────────────────────────────────────────────────────────────
	cfg.Lock = LockConfig{
		Backend: strings.ToLower(getEnv("LOCK_BACKEND", "postgres")),
		TTL:     getDuration("LOCK_TTL", 2*time.Minute),
	}

	// ── Settlement ────────────────────────────────────────────────────────────
	hops, err := getInt("SETTLEMENT_MAX_HOPS", 32)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_MAX_HOPS: %w", err)
	}
	cfg.Settlement = SettlementConfig{
		Budget:      getDuration("SETTLEMENT_BUDGET", 20*time.Second),
		MaxHops:     hops,
		GraceWindow: getDuration("SETTLEMENT_GRACE_WINDOW", 2*time.Minute),
	}

	// ── Reconcile ─────────────────────────────────────────────────────────────
	retries, err := getInt("RECONCILE_MAX_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_MAX_RETRIES: %w", err)
	}
	batch, err := getInt("RECONCILE_BATCH_SIZE", 50)
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_BATCH_SIZE: %w", err)
	}
	cfg.Reconcile = ReconcileConfig{
		Schedule:    getEnv("RECONCILE_SCHEDULE", "*/15 * * * * *"),
		MaxRetries:  retries,
		BackoffBase: getDuration("RECONCILE_BACKOFF_BASE", 5*time.Second),
		BackoffMax:  getDuration("RECONCILE_BACKOFF_MAX", 5*time.Minute),
		BatchSize:   batch,
	}

	// ── Scheduler ─────────────────────────────────────────────────────────────
	cfg.Scheduler = SchedulerConfig{
		Tick:           getDuration("SCHEDULER_TICK", 2*time.Second),
		PeriodInterval: getDuration("SCHEDULER_PERIOD_INTERVAL", 0),
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	cfg.Kafka = KafkaConfig{
		Brokers: getList("KAFKA_BROKERS"),
		Topic:   getEnv("KAFKA_TOPIC", "pk10.period.settled"),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    getDuration("JWT_ACCESS_TTL", 12*time.Hour),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// getList splits a comma-separated env var, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
