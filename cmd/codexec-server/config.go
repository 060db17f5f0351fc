package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"codexec/internal/common/auth"
	"codexec/internal/common/cache"
	"codexec/internal/common/ratelimit"
	"codexec/internal/sandbox/engine"
	"codexec/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHost            = "0.0.0.0"
	defaultMainPort        = 18080
	defaultMetricsPort     = 18000
	defaultMetricsPath     = "/metrics"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxHeaderBytes  = 1 << 20
	defaultMaxRequestBytes = 1 << 20
	defaultRequestTimeout  = 30 * time.Second
	defaultQueueTimeout    = 2 * time.Second
	defaultMaxConcurrent   = 1
	defaultMaxCodeBytes    = 64 * 1024
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxHeaderBytes  int           `yaml:"maxHeaderBytes"`
	MaxRequestBytes int64         `yaml:"maxRequestBytes"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ExecutionConfig holds admission settings for the execute endpoint.
type ExecutionConfig struct {
	MaxConcurrent  int64         `yaml:"maxConcurrent"`
	QueueTimeout   time.Duration `yaml:"queueTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxCodeBytes   int           `yaml:"maxCodeBytes"`
}

// AppConfig holds the server configuration.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Logger    logger.Config     `yaml:"logger"`
	Execution ExecutionConfig   `yaml:"execution"`
	Sandbox   engine.Config     `yaml:"sandbox"`
	Auth      auth.Config       `yaml:"auth"`
	RateLimit ratelimit.Config  `yaml:"rateLimit"`
	Redis     cache.RedisConfig `yaml:"redis"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path, then the optional .env file, then environment
// overrides. A missing file is only an error when required is set.
func loadAppConfig(path string, required bool, envFile string) (*AppConfig, error) {
	var cfg AppConfig
	cfg.Metrics.Enabled = true
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file failed: %w", err)
		}
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyExecutionDefaults(&cfg.Execution)
	applyLoggerDefaults(&cfg.Logger)
	cfg.Sandbox = cfg.Sandbox.WithDefaults()
	cfg.RateLimit = cfg.RateLimit.WithDefaults()

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnvOverrides(cfg *AppConfig, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, set func(int64)) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		set(n)
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str("SERVER_HOST", &cfg.Server.Host)
	integer("MAIN_PORT", func(n int64) { cfg.Server.Port = int(n) })
	integer("METRICS_PORT", func(n int64) { cfg.Metrics.Port = int(n) })
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.Logger.Level = strings.ToLower(strings.TrimSpace(v))
	}
	integer("MAX_WORKERS", func(n int64) { cfg.Execution.MaxConcurrent = n })
	duration("TIMEOUT", &cfg.Execution.RequestTimeout)

	str("CODEXEC_HELPER_PATH", &cfg.Sandbox.HelperPath)
	str("CODEXEC_CGROUP_ROOT", &cfg.Sandbox.CgroupRoot)
	duration("CODEXEC_CPU_TIME", &cfg.Sandbox.Limits.CPUTime)
	duration("CODEXEC_WALL_TIMEOUT", &cfg.Sandbox.WallTimeout)
	integer("CODEXEC_MEMORY_BYTES", func(n int64) {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("CODEXEC_MEMORY_BYTES: must be positive"))
			return
		}
		cfg.Sandbox.Limits.AddressSpaceBytes = uint64(n)
	})
	boolean("CODEXEC_ENABLE_SECCOMP", &cfg.Sandbox.EnableSeccomp)
	boolean("CODEXEC_ENABLE_NAMESPACES", &cfg.Sandbox.EnableNamespaces)
	boolean("CODEXEC_AUTH_ENABLED", &cfg.Auth.Enabled)
	str("CODEXEC_JWT_SECRET", &cfg.Auth.Secret)
	boolean("CODEXEC_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	str("CODEXEC_REDIS_ADDR", &cfg.Redis.Addr)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations and bare seconds, the latter being the
// unit TIMEOUT has always used.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultMainPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if cfg.MaxRequestBytes == 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = defaultMetricsPort
	}
	if cfg.Path == "" {
		cfg.Path = defaultMetricsPath
	}
}

func applyExecutionDefaults(cfg *ExecutionConfig) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = defaultQueueTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
}

func applyLoggerDefaults(cfg *logger.Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "stdout"
	}
	if cfg.ErrorPath == "" {
		cfg.ErrorPath = "stderr"
	}
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d is out of range", cfg.Metrics.Port)
		}
		if cfg.Metrics.Port == cfg.Server.Port {
			return fmt.Errorf("metrics.port must differ from server.port")
		}
	}
	// The wall deadline has to fit inside the request budget or every slow
	// snippet would surface as a cancelled request.
	if cfg.Execution.RequestTimeout < cfg.Sandbox.WallTimeout {
		return fmt.Errorf("execution.requestTimeout %s is shorter than sandbox.wallTimeout %s",
			cfg.Execution.RequestTimeout, cfg.Sandbox.WallTimeout)
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth is enabled")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == ratelimit.BackendRedis && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis rate limit backend")
	}
	if cfg.Sandbox.EnableCgroup && cfg.Sandbox.CgroupRoot == "" {
		return fmt.Errorf("sandbox.cgroupRoot is required when cgroups are enabled")
	}
	return nil
}

func (c ServerConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c MetricsConfig) addr(host string) string {
	return fmt.Sprintf("%s:%d", host, c.Port)
}
