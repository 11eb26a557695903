package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the municipal agent service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and staff auth settings.
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ProvidersConfig groups external model and search providers.
type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Serper     SerperConfig     `mapstructure:"serper"`
}

// OpenRouterConfig configures the chat-completion and embedding provider.
type OpenRouterConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	// StreamTimeout bounds a single streaming generation. Zero means no
	// deadline, which is the default for long generations.
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	// EmbedTimeout bounds embedding calls; these must fail fast so the
	// pipeline can degrade to empty context.
	EmbedTimeout time.Duration `mapstructure:"embed_timeout"`
}

// SerperConfig configures the optional web-search fallback. An empty API key
// disables the fallback path entirely.
type SerperConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabasesConfig groups storage backends.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings. URL wins over the
// discrete fields when set.
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

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis settings used by the upload session store, the
// escalation tracker and the ingest scheduler lock.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// AgentConfig tunes the answer pipeline.
type AgentConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	// ConfidenceThreshold gates escalation: answers scored below it hand the
	// conversation to a human.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	TopK                int     `mapstructure:"top_k"`
	FaqLimit            int     `mapstructure:"faq_limit"`
	// ContextTokenCeiling is the approximate token budget for the assembled
	// context; exceeding it triggers summarization down to ContextTokenTarget.
	ContextTokenCeiling int `mapstructure:"context_token_ceiling"`
	ContextTokenTarget  int `mapstructure:"context_token_target"`
	// Fragmenter bounds for supplementary (uploaded) text.
	MaxFragments         int `mapstructure:"max_fragments"`
	TokensPerFragment    int `mapstructure:"tokens_per_fragment"`
	FragmentTokenCeiling int `mapstructure:"fragment_token_ceiling"`
	FragmentTokenTarget  int `mapstructure:"fragment_token_target"`
	// Denylist terms reject a question outright (case-insensitive substring).
	Denylist []string `mapstructure:"denylist"`
	// EscalationBackend selects "memory" or "redis".
	EscalationBackend string `mapstructure:"escalation_backend"`
}

// UploadConfig tunes the session-scoped uploaded-document store.
type UploadConfig struct {
	// Backend selects "memory" or "redis".
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	ChunkSize  int           `mapstructure:"chunk_size"`
	Overlap    int           `mapstructure:"overlap"`
	MaxFileMB  int           `mapstructure:"max_file_mb"`
	SearchTopK int           `mapstructure:"search_top_k"`
}

// IngestConfig configures the offline corpus ingestion job.
type IngestConfig struct {
	Dir string `mapstructure:"dir"`
	// URLs of municipal pages to fetch and index alongside the PDF corpus.
	URLs []string `mapstructure:"urls"`
	// Schedule is a cron expression for periodic re-scans; empty disables.
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig reads configuration from file and environment. Environment
// variables use the MUNIAGENT_ prefix with dots replaced by underscores, e.g.
// MUNIAGENT_PROVIDERS_OPENROUTER_API_KEY.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.listen", ":8000")
	viper.SetDefault("providers.openrouter.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("providers.openrouter.completion_model", "meta-llama/llama-3.3-70b-instruct:free")
	viper.SetDefault("providers.openrouter.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openrouter.temperature", 0.2)
	viper.SetDefault("providers.openrouter.max_tokens", 1024)
	viper.SetDefault("providers.openrouter.embed_timeout", 10*time.Second)
	viper.SetDefault("databases.postgres.timeout", 5*time.Second)
	viper.SetDefault("agent.confidence_threshold", 0.6)
	viper.SetDefault("agent.top_k", 5)
	viper.SetDefault("agent.faq_limit", 5)
	viper.SetDefault("agent.context_token_ceiling", 1000)
	viper.SetDefault("agent.context_token_target", 700)
	viper.SetDefault("agent.max_fragments", 5)
	viper.SetDefault("agent.tokens_per_fragment", 200)
	viper.SetDefault("agent.fragment_token_ceiling", 1000)
	viper.SetDefault("agent.fragment_token_target", 500)
	viper.SetDefault("agent.escalation_backend", "memory")
	viper.SetDefault("upload.backend", "memory")
	viper.SetDefault("upload.ttl", 48*time.Hour)
	viper.SetDefault("upload.chunk_size", 1000)
	viper.SetDefault("upload.overlap", 200)
	viper.SetDefault("upload.max_file_mb", 10)
	viper.SetDefault("upload.search_top_k", 8)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("MUNIAGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; env and defaults carry the rest.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &cfg
}
