// Package config loads server configuration from defaults, an optional YAML
// file, an optional .env file and the environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"taskrails/internal/planning/llm"
)

// Config holds the server configuration.
type Config struct {
	Addr      string          `yaml:"addr"`
	Storage   StorageConfig   `yaml:"storage"`
	Documents DocumentsConfig `yaml:"documents"`
	LLM       LLMConfig       `yaml:"llm"`
	// SessionCacheSize bounds the number of live setup sessions.
	SessionCacheSize int `yaml:"session_cache_size"`
}

// StorageConfig selects the database backend.
type StorageConfig struct {
	// Backend is memory, sqlite or postgres.
	Backend     string `yaml:"backend"`
	SQLiteDSN   string `yaml:"sqlite_dsn"`
	DatabaseURL string `yaml:"database_url"`
}

// DocumentsConfig selects where memory-bank documents are written.
type DocumentsConfig struct {
	// Backend is file, s3 or memory.
	Backend string `yaml:"backend"`
	// Workspace is the root of the file backend.
	Workspace string   `yaml:"workspace"`
	S3        S3Config `yaml:"s3"`
}

// S3Config addresses an S3-compatible bucket.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LLMConfig holds the default model selection and per-provider settings.
type LLMConfig struct {
	Provider  string                    `yaml:"provider"`
	Model     string                    `yaml:"model"`
	Language  string                    `yaml:"language"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is the YAML form of one provider's settings.
type ProviderConfig struct {
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Endpoint          string  `yaml:"endpoint"`
	MaxTokens         int64   `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	RequestsPerSecond float64 `yaml:"rps"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr: ":8080",
		Storage: StorageConfig{
			Backend:   "memory",
			SQLiteDSN: "file:taskrails.db?cache=shared&_pragma=busy_timeout(5000)",
		},
		Documents: DocumentsConfig{
			Backend:   "file",
			Workspace: ".",
			S3:        S3Config{Bucket: "taskrails", Prefix: "memory-bank/", UseSSL: true},
		},
		LLM: LLMConfig{
			Provider:  llm.ProviderOpenAI,
			Language:  "en-US",
			Providers: map[string]ProviderConfig{},
		},
		SessionCacheSize: 256,
	}
}

// Load builds the configuration. path is an optional YAML file and
// dotenvPath an optional .env file; a missing .env file is not an error.
func Load(path, dotenvPath string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if dotenvPath != "" {
		// godotenv does not override variables already set in the environment.
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Addr, "ADDR")
	if p := os.Getenv("PORT"); p != "" {
		c.Addr = ":" + p
	}
	setString(&c.Storage.Backend, "TASKRAILS_STORAGE")
	setString(&c.Storage.SQLiteDSN, "SQLITE_DSN")
	setString(&c.Storage.DatabaseURL, "DATABASE_URL")

	setString(&c.Documents.Backend, "TASKRAILS_DOCUMENTS")
	setString(&c.Documents.Workspace, "TASKRAILS_WORKSPACE")
	setString(&c.Documents.S3.Endpoint, "TASKRAILS_S3_ENDPOINT")
	setString(&c.Documents.S3.AccessKey, "TASKRAILS_S3_ACCESS_KEY")
	setString(&c.Documents.S3.SecretKey, "TASKRAILS_S3_SECRET_KEY")
	setString(&c.Documents.S3.Bucket, "TASKRAILS_S3_BUCKET")
	setString(&c.Documents.S3.Prefix, "TASKRAILS_S3_PREFIX")
	setString(&c.Documents.S3.Region, "TASKRAILS_S3_REGION")
	if v := os.Getenv("TASKRAILS_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Documents.S3.UseSSL = b
		}
	}

	setString(&c.LLM.Provider, "TASKRAILS_LLM_PROVIDER")
	setString(&c.LLM.Model, "TASKRAILS_LLM_MODEL")
	setString(&c.LLM.Language, "TASKRAILS_LANGUAGE")

	if v := os.Getenv("TASKRAILS_SESSION_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionCacheSize = n
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks backend names and required settings.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty (set ADDR or yaml)")
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.SQLiteDSN == "" {
			return errors.New("sqlite_dsn is required for the sqlite backend (set SQLITE_DSN or yaml)")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres backend (set DATABASE_URL or yaml)")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (memory, sqlite, postgres)", c.Storage.Backend)
	}
	switch c.Documents.Backend {
	case "memory":
	case "file":
		if c.Documents.Workspace == "" {
			return errors.New("documents workspace cannot be empty (set TASKRAILS_WORKSPACE or yaml)")
		}
	case "s3":
		if c.Documents.S3.Endpoint == "" || c.Documents.S3.Bucket == "" {
			return errors.New("s3 endpoint and bucket are required for the s3 document backend")
		}
	default:
		return fmt.Errorf("unknown documents backend %q (file, s3, memory)", c.Documents.Backend)
	}
	if !llm.KnownProvider(c.LLM.Provider) {
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	for name := range c.LLM.Providers {
		if !llm.KnownProvider(name) {
			return fmt.Errorf("unknown llm provider %q in providers", name)
		}
	}
	if c.SessionCacheSize <= 0 {
		return errors.New("session_cache_size must be > 0")
	}
	return nil
}

// ProviderConfig returns the settings for one provider. Environment
// variables read by llm.ConfigFromEnv win over YAML values, which win over
// the built-in defaults.
func (c *Config) ProviderConfig(name string) llm.Config {
	out := llm.ConfigFromEnv(name)
	y, ok := c.LLM.Providers[name]
	if !ok {
		return out
	}
	if y.APIKey != "" && !llmEnvSet(name, "API_KEY") {
		out.APIKey = y.APIKey
	}
	if y.Model != "" && !llmEnvSet(name, "MODEL") {
		out.Model = y.Model
	}
	if y.Endpoint != "" && !llmEnvSet(name, "ENDPOINT") {
		out.Endpoint = y.Endpoint
	}
	if y.MaxTokens > 0 && !llmEnvSet(name, "MAX_TOKENS") {
		out.MaxTokens = y.MaxTokens
	}
	if y.Temperature > 0 && !llmEnvSet(name, "TEMPERATURE") {
		out.Temperature = y.Temperature
	}
	if y.RequestsPerSecond > 0 && !llmEnvSet(name, "RPS") {
		out.RequestsPerSecond = y.RequestsPerSecond
	}
	return out
}

func llmEnvSet(provider, key string) bool {
	return os.Getenv("TASKRAILS_LLM_"+strings.ToUpper(provider)+"_"+key) != "" ||
		os.Getenv("TASKRAILS_LLM_"+key) != ""
}
