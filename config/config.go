package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Backends  BackendsConfig  `mapstructure:"backends"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Search    SearchConfig    `mapstructure:"search"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Research  ResearchConfig  `mapstructure:"research"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// BackendsConfig declares the primary and secondary completion backends.
type BackendsConfig struct {
	Primary   BackendConfig `mapstructure:"primary"`
	Secondary BackendConfig `mapstructure:"secondary"`
}

// BackendConfig represents a single OpenAI-compatible completion provider
type BackendConfig struct {
	Name        string        `mapstructure:"name"`
	Type        string        `mapstructure:"type"` // openai (any OpenAI-compatible endpoint)
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Validate rejects backend types other than openai.
func (b BackendConfig) Validate(section string) error {
	switch b.Type {
	case "", "openai":
		return nil
	}
	return fmt.Errorf("backends.%s.type %q is not supported", section, b.Type)
}

// Enabled reports whether the backend has a credential.
func (b BackendConfig) Enabled() bool {
	return strings.TrimSpace(b.APIKey) != ""
}

// RetryConfig controls rate-limit backoff inside a backend client.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if r.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay cannot be negative")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	return nil
}

// SearchConfig contains web search settings
type SearchConfig struct {
	Provider        string        `mapstructure:"provider"` // tavily, serper, brave
	APIKey          string        `mapstructure:"api_key"`
	Depth           string        `mapstructure:"depth"`
	MaxResults      int           `mapstructure:"max_results"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ExcerptChars    int           `mapstructure:"excerpt_chars"`
	Domains         []string      `mapstructure:"domains"`
	ExtendedDomains []string      `mapstructure:"extended_domains"`
}

// Enabled reports whether web augmentation is available.
func (s SearchConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "tavily", "serper", "brave":
	default:
		return fmt.Errorf("search.provider %q is not supported", s.Provider)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	return nil
}

// PromptsConfig describes where prompt documents live and which ones play which role.
type PromptsConfig struct {
	Dir        string   `mapstructure:"dir"`
	Names      []string `mapstructure:"names"`
	Default    string   `mapstructure:"default"`
	DataDriven string   `mapstructure:"data_driven"`
	Staged     string   `mapstructure:"staged"`
	Watch      bool     `mapstructure:"watch"`
}

// CacheConfig contains response cache settings
type CacheConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Driver   string         `mapstructure:"driver"` // sqlite, postgres, redis
	Path     string         `mapstructure:"path"`
	TTL      time.Duration  `mapstructure:"ttl"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	switch c.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("cache.path required for sqlite driver")
		}
	case "postgres":
		return c.Postgres.Validate()
	case "redis":
		return c.Redis.Validate()
	default:
		return fmt.Errorf("cache.driver %q is not supported", c.Driver)
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("cache.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("cache.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("cache.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("cache.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring an explicit URL.
// DSN returns the connection URL, or "" when neither url nor host is set.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if strings.TrimSpace(p.Host) == "" {
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

// ResearchConfig tunes the multi-stage pipeline
type ResearchConfig struct {
	MaxSubQuestions int `mapstructure:"max_sub_questions"`
	Concurrency     int `mapstructure:"concurrency"`
}

func (r ResearchConfig) Validate() error {
	if r.MaxSubQuestions < 1 {
		return fmt.Errorf("research.max_sub_questions must be >= 1")
	}
	if r.Concurrency < 1 {
		return fmt.Errorf("research.concurrency must be >= 1")
	}
	return nil
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HasBackend reports whether at least one completion backend can be used.
func (c *Config) HasBackend() bool {
	return c.Backends.Primary.Enabled() || c.Backends.Secondary.Enabled()
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PMMRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Search = cfg.Search.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// Validate checks every section. Missing credentials are not errors.
func (c *Config) Validate() error {
	if err := c.Backends.Primary.Validate("primary"); err != nil {
		return err
	}
	if err := c.Backends.Secondary.Validate("secondary"); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Research.Validate(); err != nil {
		return err
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.max_processing_time", "15m")

	v.SetDefault("server.address", ":8080")

	v.SetDefault("backends.primary.name", "deepseek")
	v.SetDefault("backends.primary.type", "openai")
	v.SetDefault("backends.primary.base_url", "https://api.deepseek.com")
	v.SetDefault("backends.primary.model", "deepseek-reasoner")
	v.SetDefault("backends.primary.temperature", 0.7)
	v.SetDefault("backends.primary.timeout", "120s")
	v.SetDefault("backends.secondary.name", "groq")
	v.SetDefault("backends.secondary.type", "openai")
	v.SetDefault("backends.secondary.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("backends.secondary.model", "compound-beta")
	v.SetDefault("backends.secondary.temperature", 0.7)
	v.SetDefault("backends.secondary.timeout", "60s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "5s")
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.depth", "advanced")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.timeout", "30s")
	v.SetDefault("search.excerpt_chars", 200)
	v.SetDefault("search.domains", DefaultDomains)
	v.SetDefault("search.extended_domains", ExtendedDomains)

	v.SetDefault("prompts.dir", ".")
	v.SetDefault("prompts.names", []string{"testprompt1", "testprompt2", "testprompt3", "testprompt4"})
	v.SetDefault("prompts.default", "testprompt2")
	v.SetDefault("prompts.data_driven", "testprompt4")
	v.SetDefault("prompts.staged", "testprompt3")
	v.SetDefault("prompts.watch", false)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "pmm_research_cache.db")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", "6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.postgres.port", "5432")
	v.SetDefault("cache.postgres.sslmode", "disable")
	v.SetDefault("cache.postgres.timeout", "5s")

	v.SetDefault("research.max_sub_questions", 10)
	v.SetDefault("research.concurrency", 5)

	v.SetDefault("telemetry.enabled", true)
}

// overrideFromEnv maps the conventional provider variables onto config keys
func overrideFromEnv(v *viper.Viper) {
	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		v.Set("backends.primary.api_key", apiKey)
	}
	if apiKey := os.Getenv("GROQ_API_KEY"); apiKey != "" {
		v.Set("backends.secondary.api_key", apiKey)
	}

	// first search credential wins, in provider preference order
	searchKeys := []struct{ env, provider string }{
		{"TAVILY_API_KEY", "tavily"},
		{"SERPER_API_KEY", "serper"},
		{"BRAVE_SEARCH_KEY", "brave"},
	}
	if v.GetString("search.api_key") == "" {
		for _, sk := range searchKeys {
			if apiKey := os.Getenv(sk.env); apiKey != "" {
				v.Set("search.api_key", apiKey)
				v.Set("search.provider", sk.provider)
				break
			}
		}
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("cache.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			v.Set("cache.redis.port", port)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("cache.redis.password", password)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("cache.postgres.url", url)
	}
}
