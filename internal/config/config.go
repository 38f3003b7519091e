package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	LLM      LLMConfig      `yaml:"llm"`
	Redis    RedisConfig    `yaml:"redis"`
	Report   ReportConfig   `yaml:"report"`
}

type ServerConfig struct {
	Host        string          `yaml:"host"`
	Port        string          `yaml:"port"`
	Mode        string          `yaml:"mode"` // debug, release, test
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits per-IP calls to endpoints that hit the generative service.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// LLMConfig holds credentials for every generative provider plus the
// per-attempt call timeout.
type LLMConfig struct {
	DefaultModel   string          `yaml:"default_model"`
	RewriteModel   string          `yaml:"rewrite_model"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
	OpenAI         OpenAIConfig    `yaml:"openai"`
	Anthropic      AnthropicConfig `yaml:"anthropic"`
	Gemini         GeminiConfig    `yaml:"gemini"`
	Ollama         OllamaConfig    `yaml:"ollama"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Azure   bool   `yaml:"azure"` // BaseURL is then https://{resource}.openai.azure.com
}

type AnthropicConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ReportConfig tunes the report job scheduler.
type ReportConfig struct {
	StuckTimeoutMinutes int    `yaml:"stuck_timeout_minutes"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	UsageRetentionDays  int    `yaml:"usage_retention_days"`
	UsageCleanupCron    string `yaml:"usage_cleanup_cron"`
}

const (
	DefaultStuckTimeoutMinutes = 10
	DefaultPollIntervalSeconds = 30
	DefaultLLMTimeoutSeconds   = 120
)

// Timeout returns the per-attempt generative call timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultLLMTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StuckTimeout returns how long a report may stay GENERATING (measured from
// its creation) before the sweep marks it failed.
func (c ReportConfig) StuckTimeout() time.Duration {
	if c.StuckTimeoutMinutes <= 0 {
		return DefaultStuckTimeoutMinutes * time.Minute
	}
	return time.Duration(c.StuckTimeoutMinutes) * time.Minute
}

func (c ReportConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return DefaultPollIntervalSeconds * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8080",
			Mode:        "debug",
			CORSOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				RPS:   1,
				Burst: 5,
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "auditreport.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			DefaultModel:   "gemini-2.5-pro",
			RewriteModel:   "gemini-2.5-flash",
			TimeoutSeconds: DefaultLLMTimeoutSeconds,
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
			},
			Ollama: OllamaConfig{
				BaseURL: "http://localhost:11434",
			},
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Report: ReportConfig{
			StuckTimeoutMinutes: DefaultStuckTimeoutMinutes,
			PollIntervalSeconds: DefaultPollIntervalSeconds,
			UsageRetentionDays:  90,
			UsageCleanupCron:    "0 3 * * *",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = strings.Split(origins, ",")
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if model := os.Getenv("LLM_DEFAULT_MODEL"); model != "" {
		c.LLM.DefaultModel = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.LLM.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.LLM.OpenAI.APIKey = apiKey
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		c.LLM.Anthropic.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		c.LLM.Gemini.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		c.LLM.Ollama.BaseURL = baseURL
	}
	if v := os.Getenv("REPORT_STUCK_TIMEOUT_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			c.Report.StuckTimeoutMinutes = minutes
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
