// Package config loads bouncer settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fractal-lba/bouncer/internal/sigmadelta"
	"github.com/fractal-lba/bouncer/internal/verdict"
	"github.com/fractal-lba/bouncer/internal/wal"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full bouncer configuration.
type Config struct {
	Monitor   MonitorConfig   `yaml:"monitor"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type MonitorConfig struct {
	Delta        float64       `yaml:"delta"`
	Parallelism  int           `yaml:"parallelism"`
	SolveTimeout time.Duration `yaml:"solve_timeout"`
}

// BenchmarkConfig sizes the sigma-delta datasets. Zero ranges keep the
// model defaults.
type BenchmarkConfig struct {
	Trajectories int          `yaml:"trajectories"`
	Steps        int          `yaml:"steps"`
	Seed         int64        `yaml:"seed"`
	Workers      int          `yaml:"workers"`
	Ranges       RangesConfig `yaml:"ranges"`
}

// RangesConfig overrides the symbolic model boxes as [lo, hi] pairs.
type RangesConfig struct {
	A [3][2]float64 `yaml:"a"`
	B [3][2]float64 `yaml:"b"`
	X [3][2]float64 `yaml:"x"`
	U [2]float64    `yaml:"u"`
}

type ServerConfig struct {
	Port          string        `yaml:"port"`
	TokenRate     int           `yaml:"token_rate"`
	SourceRate    int           `yaml:"source_rate"`
	SourceBurst   int           `yaml:"source_burst"`
	StrictSources bool          `yaml:"strict_sources"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	VerdictTTL    time.Duration `yaml:"verdict_ttl"`
	WALDir        string        `yaml:"wal_dir"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	MetricsUser   string        `yaml:"metrics_user"`
	MetricsPass   string        `yaml:"metrics_pass"`
	HMACKey       string        `yaml:"hmac_key"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"`
	SnapshotPath  string `yaml:"snapshot_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresConn  string `yaml:"postgres_conn"`
	SQLitePath    string `yaml:"sqlite_path"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Delta:       0.001,
			Parallelism: 1,
		},
		Benchmark: BenchmarkConfig{
			Trajectories: sigmadelta.DefaultTrajectories,
			Steps:        sigmadelta.DefaultSteps,
			Seed:         1,
			Workers:      4,
		},
		Server: ServerConfig{
			Port:         "8080",
			TokenRate:    100,
			SourceRate:   50,
			SourceBurst:  100,
			CacheSize:    4096,
			CacheTTL:     10 * time.Minute,
			VerdictTTL:   14 * 24 * time.Hour,
			WALDir:       "data/wal",
			MaxBodyBytes: 1 << 20,
		},
		Store: StoreConfig{
			Backend:      "memory",
			SnapshotPath: "data/verdicts.json",
			RedisAddr:    "localhost:6379",
			SQLitePath:   "data/verdicts.db",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			Environment: "development",
		},
	}
}

// Load applies defaults, then the YAML file at path (if any), then the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Monitor.Delta = getEnvFloat("BOUNCER_DELTA", c.Monitor.Delta)
	c.Monitor.Parallelism = getEnvInt("BOUNCER_PARALLELISM", c.Monitor.Parallelism)
	c.Monitor.SolveTimeout = getEnvDuration("BOUNCER_SOLVE_TIMEOUT", c.Monitor.SolveTimeout)

	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.TokenRate = getEnvInt("TOKEN_RATE", c.Server.TokenRate)
	c.Server.SourceRate = getEnvInt("SOURCE_RATE", c.Server.SourceRate)
	c.Server.SourceBurst = getEnvInt("SOURCE_BURST", c.Server.SourceBurst)
	c.Server.CacheSize = getEnvInt("CACHE_SIZE", c.Server.CacheSize)
	c.Server.WALDir = getEnv("WAL_DIR", c.Server.WALDir)
	c.Server.MetricsUser = getEnv("METRICS_USER", c.Server.MetricsUser)
	c.Server.MetricsPass = getEnv("METRICS_PASS", c.Server.MetricsPass)
	c.Server.HMACKey = getEnv("BOUNCER_HMAC_KEY", c.Server.HMACKey)

	c.Store.Backend = getEnv("VERDICT_BACKEND", c.Store.Backend)
	c.Store.SnapshotPath = getEnv("VERDICT_SNAPSHOT", c.Store.SnapshotPath)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = getEnvInt("REDIS_DB", c.Store.RedisDB)
	c.Store.PostgresConn = getEnv("POSTGRES_CONN", c.Store.PostgresConn)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)

	c.Tracing.Enabled = getEnvBool("OTEL_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.SampleRate = getEnvFloat("OTEL_SAMPLE_RATE", c.Tracing.SampleRate)
}

// Validate rejects settings the monitor or server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Monitor.Delta < 0 {
		errs = append(errs, fmt.Errorf("monitor.delta must be non-negative, got %v", c.Monitor.Delta))
	}
	if c.Monitor.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("monitor.parallelism must be positive, got %d", c.Monitor.Parallelism))
	}
	if c.Monitor.SolveTimeout < 0 {
		errs = append(errs, fmt.Errorf("monitor.solve_timeout must be non-negative"))
	}
	if c.Benchmark.Trajectories < 1 || c.Benchmark.Steps < 1 {
		errs = append(errs, fmt.Errorf("benchmark.trajectories and benchmark.steps must be positive"))
	}
	if c.Server.TokenRate < 1 || c.Server.SourceRate < 1 || c.Server.SourceBurst < 1 {
		errs = append(errs, fmt.Errorf("server rates must be positive"))
	}
	if c.Server.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("server.cache_size must be positive, got %d", c.Server.CacheSize))
	}
	if c.Server.MaxBodyBytes < 1 || c.Server.MaxBodyBytes > wal.MaxBodyBytes {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be in [1, %d], got %d", wal.MaxBodyBytes, c.Server.MaxBodyBytes))
	}
	switch c.Store.Backend {
	case "memory", "redis", "sqlite":
	case "postgres":
		if c.Store.PostgresConn == "" {
			errs = append(errs, fmt.Errorf("store.postgres_conn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be in [0, 1]"))
	}
	if err := c.Benchmark.Ranges.validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// StoreOptions converts the store section for verdict.Open.
func (c *Config) StoreOptions() verdict.Options {
	return verdict.Options{
		Backend:       c.Store.Backend,
		SnapshotPath:  c.Store.SnapshotPath,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		PostgresConn:  c.Store.PostgresConn,
		SQLitePath:    c.Store.SQLitePath,
	}
}

// ModelRanges returns the sigma-delta boxes with overrides applied.
func (c *Config) ModelRanges() sigmadelta.ModelRanges {
	r := sigmadelta.DefaultModelRanges()
	c.Benchmark.Ranges.apply(&r)
	return r
}

func (rc RangesConfig) apply(r *sigmadelta.ModelRanges) {
	for i := range 3 {
		override(&r.A[i], rc.A[i])
		override(&r.B[i], rc.B[i])
		override(&r.X[i], rc.X[i])
	}
	override(&r.U, rc.U)
}

func (rc RangesConfig) validate() error {
	var all [][2]float64
	all = append(all, rc.A[:]...)
	all = append(all, rc.B[:]...)
	all = append(all, rc.X[:]...)
	all = append(all, rc.U)
	for _, p := range all {
		if p != [2]float64{} && p[0] > p[1] {
			return fmt.Errorf("benchmark.ranges: lower bound %v above upper bound %v", p[0], p[1])
		}
	}
	return nil
}

func override(dst *sigmadelta.Range, p [2]float64) {
	if p != [2]float64{} {
		*dst = sigmadelta.Range{Lo: p[0], Hi: p[1]}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
