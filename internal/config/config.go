package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Langfuse LangfuseConfig `mapstructure:"langfuse"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Review   ReviewConfig   `mapstructure:"review"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OpenAIConfig holds the model provider configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LangfuseConfig holds the prompt source and tracing configuration
type LangfuseConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	PublicKey   string        `mapstructure:"public_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	Label       string        `mapstructure:"label"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	WarmPrompts []string      `mapstructure:"warm_prompts"`
}

// PipelineConfig holds document ingestion configuration
type PipelineConfig struct {
	MaxPDFSizeBytes int64  `mapstructure:"max_pdf_size_bytes"`
	StorageDir      string `mapstructure:"storage_dir"`
}

// ReviewConfig holds human review configuration
type ReviewConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/contracts.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.temperature", 0.1)
	viper.SetDefault("openai.max_tokens", 4096)
	viper.SetDefault("openai.timeout", 60*time.Second)

	// Langfuse defaults
	viper.SetDefault("langfuse.base_url", "https://cloud.langfuse.com")
	viper.SetDefault("langfuse.label", "production")
	viper.SetDefault("langfuse.cache_ttl", 5*time.Minute)

	// Pipeline defaults
	viper.SetDefault("pipeline.max_pdf_size_bytes", 10*1024*1024)
	viper.SetDefault("pipeline.storage_dir", "data/pdfs")

	// Review defaults
	viper.SetDefault("review.timeout", 24*time.Hour)
	viper.SetDefault("review.sweep_interval", time.Minute)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("langfuse.base_url", "LANGFUSE_BASE_URL")
	viper.BindEnv("langfuse.public_key", "LANGFUSE_PUBLIC_KEY")
	viper.BindEnv("langfuse.secret_key", "LANGFUSE_SECRET_KEY")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	if c.Langfuse.PublicKey == "" {
		return fmt.Errorf("langfuse.public_key is required")
	}
	if c.Langfuse.SecretKey == "" {
		return fmt.Errorf("langfuse.secret_key is required")
	}

	if c.Pipeline.MaxPDFSizeBytes <= 0 {
		return fmt.Errorf("pipeline.max_pdf_size_bytes must be positive")
	}

	return nil
}
