package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Bus          BusConfig          `json:"bus"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Tools        ToolsConfig        `json:"tools"`
	CatalogPath  string             `json:"catalog_path"`
	MCP          MCPConfig          `json:"mcp"`
	Database     DatabaseConfig     `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type BusConfig struct {
	TickInterval   Duration `json:"tick_interval"`
	BatchSize      int      `json:"batch_size"`
	DefaultTimeout Duration `json:"default_timeout"`
	// HistoryRetention bounds in-memory history; zero keeps everything.
	HistoryRetention Duration `json:"history_retention"`
}

type OrchestratorConfig struct {
	Name        string   `json:"name"`
	TaskTimeout Duration `json:"task_timeout"`
	MaxRetries  *int     `json:"max_retries,omitempty"`
}

type ToolsConfig struct {
	RateLimit RateLimitConfig `json:"rate_limit"`
}

type RateLimitConfig struct {
	MaxCalls int      `json:"max_calls"`
	Window   Duration `json:"window"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers"`
}

type MCPServerConfig struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Timeout     Duration `json:"timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
	// MigrationsDir overrides the embedded migrations when set.
	MigrationsDir string `json:"migrations_dir"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL          string `json:"url"`
	StreamMaxLen int64  `json:"stream_max_len"`
}

// Duration reads "250ms"-style strings or integer nanoseconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or integer: %s", b)
		}
		*d = Duration(n)
		return nil
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Defaults fills zero values.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Bus.TickInterval == 0 {
		c.Bus.TickInterval = Duration(100 * time.Millisecond)
	}
	if c.Bus.BatchSize == 0 {
		c.Bus.BatchSize = 5
	}
	if c.Bus.DefaultTimeout == 0 {
		c.Bus.DefaultTimeout = Duration(30 * time.Second)
	}
	if c.Orchestrator.Name == "" {
		c.Orchestrator.Name = "orchestrator"
	}
	if c.Orchestrator.TaskTimeout == 0 {
		c.Orchestrator.TaskTimeout = Duration(30 * time.Second)
	}
	if c.Orchestrator.MaxRetries == nil {
		n := 2
		c.Orchestrator.MaxRetries = &n
	}
	if c.Tools.RateLimit.MaxCalls == 0 {
		c.Tools.RateLimit.MaxCalls = 60
	}
	if c.Tools.RateLimit.Window == 0 {
		c.Tools.RateLimit.Window = Duration(time.Minute)
	}
	for i := range c.MCP.Servers {
		if c.MCP.Servers[i].Timeout == 0 {
			c.MCP.Servers[i].Timeout = Duration(30 * time.Second)
		}
	}
	if c.Database.Redis.StreamMaxLen == 0 {
		c.Database.Redis.StreamMaxLen = 10000
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

func expand(data string) string {
	return envVarRe.ReplaceAllStringFunc(data, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON config file, substitutes environment variable references
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes config JSON after environment substitution.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(expand(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Defaults()
	return &cfg, nil
}

// NewLogger builds a development logger at level ("debug", "info", "warn",
// "error"). Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
