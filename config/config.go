package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration core.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Rerank    RerankConfig    `mapstructure:"rerank"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Judge     JudgeConfig     `mapstructure:"judge"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	ArgGen    ArgGenConfig    `mapstructure:"arggen"`
	Reflect   ReflectConfig   `mapstructure:"reflect"`
	Evaluate  EvaluateConfig  `mapstructure:"evaluate"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxRunTime     time.Duration `mapstructure:"max_run_time"`
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai-compatible
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model key handles each pipeline stage.
type LLMRoutingConfig struct {
	Judge     []string `mapstructure:"judge"` // candidates raced in order of preference
	Planning  string   `mapstructure:"planning"`
	Audit     string   `mapstructure:"audit"`
	Arguments string   `mapstructure:"arguments"`
	Reflect   string   `mapstructure:"reflect"`
	Evaluate  string   `mapstructure:"evaluate"`
	Summarize string   `mapstructure:"summarize"`
	Fallback  string   `mapstructure:"fallback"`
}

// EmbeddingConfig configures the embedding model used for similarity features.
type EmbeddingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// RerankConfig configures the manifest reranker.
type RerankConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TopN           int           `mapstructure:"top_n"`
	CandidatePool  int           `mapstructure:"candidate_pool"`
	ServiceURL     string        `mapstructure:"service_url"`
	ServiceAPIKey  string        `mapstructure:"service_api_key"`
	ServiceModel   string        `mapstructure:"service_model"`
	ServiceTimeout time.Duration `mapstructure:"service_timeout"`
	// Fusion weights for multi-sub-query document scoring.
	WeightFrequency float64 `mapstructure:"weight_frequency"`
	WeightScore     float64 `mapstructure:"weight_score"`
	WeightRank      float64 `mapstructure:"weight_rank"`
}

// MCPServerConfig describes one external MCP tool server.
type MCPServerConfig struct {
	ID      string            `mapstructure:"id"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// RegistryConfig configures the tool registry.
type RegistryConfig struct {
	DefaultTimeout      time.Duration     `mapstructure:"default_timeout"`
	DefaultCooldown     time.Duration     `mapstructure:"default_cooldown"`
	CooldownMaxRetries  int               `mapstructure:"cooldown_max_retries"`
	CacheEnabled        bool              `mapstructure:"cache_enabled"`
	CacheTTL            time.Duration     `mapstructure:"cache_ttl"`
	ReuseEnabled        bool              `mapstructure:"reuse_enabled"`
	ReuseThreshold      float64           `mapstructure:"reuse_threshold"`
	ReusePoolSize       int               `mapstructure:"reuse_pool_size"`
	DisabledTools       []string          `mapstructure:"disabled_tools"`
	Tenant              string            `mapstructure:"tenant"`
	MCPServers          []MCPServerConfig `mapstructure:"mcp_servers"`
	PluginEnvs          map[string]map[string]string
	PluginEnvsRaw       map[string]interface{} `mapstructure:"plugin_envs"`
	MaxExternalNameLen  int                    `mapstructure:"max_external_name_len"`
	ExternalConnTimeout time.Duration          `mapstructure:"external_conn_timeout"`
}

// JudgeConfig configures the pre-planning judge.
type JudgeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	StageTimeout   time.Duration `mapstructure:"stage_timeout"`
}

// PlannerConfig configures plan generation.
type PlannerConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Candidates      int           `mapstructure:"candidates"`
	CandidateModels []string      `mapstructure:"candidate_models"`
	BaseTemperature float64       `mapstructure:"base_temperature"`
	TemperatureStep float64       `mapstructure:"temperature_step"`
	DeadlineFactor  float64       `mapstructure:"deadline_factor"`
	DeadlineMin     time.Duration `mapstructure:"deadline_min"`
	DeadlineMax     time.Duration `mapstructure:"deadline_max"`
	MemoryEnabled   bool          `mapstructure:"memory_enabled"`
	MemoryThreshold float64       `mapstructure:"memory_threshold"`
	MaxReplans      int           `mapstructure:"max_replans"`
}

// ArgGenConfig configures argument generation.
type ArgGenConfig struct {
	MaxRepairs     int     `mapstructure:"max_repairs"`
	ReuseEnabled   bool    `mapstructure:"reuse_enabled"`
	ReuseThreshold float64 `mapstructure:"reuse_threshold"`
}

// ReflectConfig configures the optional per-step reflector.
type ReflectConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EvaluateConfig configures evaluation and summarization.
type EvaluateConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// MemoryConfig configures cross-run memory search.
type MemoryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SearchThreshold float64       `mapstructure:"search_threshold"`
	SearchWindow    time.Duration `mapstructure:"search_window"`
	TopK            int           `mapstructure:"top_k"`
}

// RedisConfig configures the shared key-value store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PostgresConfig configures run/memory persistence.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// ServerConfig configures the admin API server.
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminUser     string `mapstructure:"admin_user"`
	AdminPassHash string `mapstructure:"admin_pass_hash"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// Load reads configuration from the given file (optional) plus environment
// overrides prefixed with AGENTCORE_.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/agentcore")
	}
	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Registry.PluginEnvs = decodePluginEnvs(cfg.Registry.PluginEnvsRaw)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodePluginEnvs(raw map[string]interface{}) map[string]map[string]string {
	out := make(map[string]map[string]string, len(raw))
	for plugin, val := range raw {
		m, ok := val.(map[string]interface{})
		if !ok {
			continue
		}
		envs := make(map[string]string, len(m))
		for k, v := range m {
			envs[k] = fmt.Sprint(v)
		}
		out[plugin] = envs
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.default_timeout", "30s")
	v.SetDefault("general.max_run_time", "10m")

	v.SetDefault("registry.default_timeout", "30s")
	v.SetDefault("registry.default_cooldown", "0s")
	v.SetDefault("registry.cooldown_max_retries", 3)
	v.SetDefault("registry.cache_enabled", true)
	v.SetDefault("registry.cache_ttl", "10m")
	v.SetDefault("registry.reuse_enabled", false)
	v.SetDefault("registry.reuse_threshold", 0.92)
	v.SetDefault("registry.reuse_pool_size", 32)
	v.SetDefault("registry.max_external_name_len", 64)
	v.SetDefault("registry.external_conn_timeout", "15s")

	v.SetDefault("rerank.top_n", 12)
	v.SetDefault("rerank.candidate_pool", 32)
	v.SetDefault("rerank.service_timeout", "10s")
	v.SetDefault("rerank.weight_frequency", 1.0)
	v.SetDefault("rerank.weight_score", 1.0)
	v.SetDefault("rerank.weight_rank", 0.5)

	v.SetDefault("judge.enabled", true)
	v.SetDefault("judge.attempt_timeout", "20s")
	v.SetDefault("judge.stage_timeout", "45s")

	v.SetDefault("planner.max_attempts", 3)
	v.SetDefault("planner.candidates", 1)
	v.SetDefault("planner.base_temperature", 0.3)
	v.SetDefault("planner.temperature_step", 0.25)
	v.SetDefault("planner.deadline_factor", 1.5)
	v.SetDefault("planner.deadline_min", "5s")
	v.SetDefault("planner.deadline_max", "90s")
	v.SetDefault("planner.memory_threshold", 0.9)
	v.SetDefault("planner.max_replans", 2)

	v.SetDefault("arggen.max_repairs", 2)
	v.SetDefault("arggen.reuse_threshold", 0.93)

	v.SetDefault("evaluate.max_attempts", 3)

	v.SetDefault("memory.search_threshold", 0.85)
	v.SetDefault("memory.search_window", "720h")
	v.SetDefault("memory.top_k", 3)

	v.SetDefault("redis.timeout", "5s")

	v.SetDefault("server.addr", ":8642")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
}

// Validate performs structural sanity checks the loaders cannot express.
func (c *Config) Validate() error {
	if c.Planner.MaxAttempts <= 0 {
		return fmt.Errorf("planner.max_attempts must be positive")
	}
	if c.Planner.Candidates < 1 {
		c.Planner.Candidates = 1
	}
	if c.ArgGen.MaxRepairs < 0 {
		return fmt.Errorf("arggen.max_repairs must not be negative")
	}
	if c.Evaluate.MaxAttempts <= 0 {
		return fmt.Errorf("evaluate.max_attempts must be positive")
	}
	if c.Registry.ReuseThreshold < 0 || c.Registry.ReuseThreshold > 1 {
		return fmt.Errorf("registry.reuse_threshold must be within [0,1]")
	}
	return nil
}
