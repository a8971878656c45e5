package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/namnv2496/bytescript/internal/logger"
)

const envPrefix = "BYTESCRIPT_"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logger   logger.Config  `yaml:"logger"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Executor ExecutorConfig `yaml:"executor"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// SandboxConfig holds settings of the Node.js sandbox processes.
type SandboxConfig struct {
	// Launcher is "docker" or "local" (node subprocess, meant for development).
	Launcher       string        `yaml:"launcher"`
	NodeBinary     string        `yaml:"nodeBinary"`
	PermissionFlag string        `yaml:"permissionFlag"`
	Image          string        `yaml:"image"`
	Network        string        `yaml:"network"`
	MemoryMB       int64         `yaml:"memoryMB"`
	CPUQuota       int64         `yaml:"cpuQuota"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	HardTimeout    time.Duration `yaml:"hardTimeout"`
	StopGrace      time.Duration `yaml:"stopGrace"`
	MaxOutputBytes int           `yaml:"maxOutputBytes"`
}

// ExecutorConfig holds test-case execution settings.
type ExecutorConfig struct {
	CaseTimeout     time.Duration `yaml:"caseTimeout"`
	MaxConcurrent   int64         `yaml:"maxConcurrent"`
	MaxCodeBytes    int           `yaml:"maxCodeBytes"`
	SaveSubmissions bool          `yaml:"saveSubmissions"`
}

// DatabaseConfig selects the SQL driver: sqlite, postgres or mysql.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	MaxIdleConns int           `yaml:"maxIdleConns"`
	ConnMaxLife  time.Duration `yaml:"connMaxLifetime"`
}

// RedisConfig enables the test-case cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AuthConfig disables auth gating when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// Default returns a config usable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Logger: logger.Config{Level: "info", Format: "console", OutputPath: "stdout"},
		Sandbox: SandboxConfig{
			Launcher:       "docker",
			NodeBinary:     "node",
			PermissionFlag: "--experimental-permission",
			Image:          "node:20-alpine",
			Network:        "none",
			MemoryMB:       256,
			CPUQuota:       100000,
			IdleTimeout:    2000 * time.Millisecond,
			PollInterval:   500 * time.Millisecond,
			HardTimeout:    30 * time.Second,
			StopGrace:      500 * time.Millisecond,
			MaxOutputBytes: 64 * 1024,
		},
		Executor: ExecutorConfig{
			CaseTimeout:   5 * time.Second,
			MaxConcurrent: 8,
			MaxCodeBytes:  64 * 1024,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "bytescript.db",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
			ConnMaxLife:  30 * time.Minute,
		},
		Redis: RedisConfig{TTL: 5 * time.Minute},
	}
}

// Load reads the YAML file at path (skipped when it does not exist), then .env,
// then BYTESCRIPT_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)
	c.Logger.Format = getEnv("LOG_FORMAT", c.Logger.Format)
	c.Sandbox.Launcher = getEnv("SANDBOX_LAUNCHER", c.Sandbox.Launcher)
	c.Sandbox.NodeBinary = getEnv("NODE_BINARY", c.Sandbox.NodeBinary)
	c.Sandbox.PermissionFlag = getEnv("NODE_PERMISSION_FLAG", c.Sandbox.PermissionFlag)
	c.Sandbox.Image = getEnv("SANDBOX_IMAGE", c.Sandbox.Image)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_DSN", c.Database.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)

	if v, ok := os.LookupEnv(envPrefix + "CASE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("read %sCASE_TIMEOUT: %w", envPrefix, err)
		}
		c.Executor.CaseTimeout = d
	}
	if v, ok := os.LookupEnv(envPrefix + "MAX_CONCURRENT"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("read %sMAX_CONCURRENT: %w", envPrefix, err)
		}
		c.Executor.MaxConcurrent = n
	}
	return nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Sandbox.Launcher {
	case "local", "docker":
	default:
		return fmt.Errorf("unknown sandbox launcher %q", c.Sandbox.Launcher)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Sandbox.IdleTimeout <= 0 || c.Sandbox.PollInterval <= 0 {
		return errors.New("sandbox idleTimeout and pollInterval must be positive")
	}
	if c.Executor.CaseTimeout <= 0 {
		return errors.New("executor caseTimeout must be positive")
	}
	if c.Executor.MaxConcurrent <= 0 {
		return errors.New("executor maxConcurrent must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		return value
	}
	return fallback
}
