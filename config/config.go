// Package config loads service settings from defaults, an optional YAML file
// and DOCQA_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "DOCQA_"

type Config struct {
	ServerAddr string `koanf:"server_addr"`
	StaticDir  string `koanf:"static_dir"`
	LogLevel   string `koanf:"log_level"`
	LogFormat  string `koanf:"log_format"`

	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
	TopK         int `koanf:"top_k"`
	MaxHistory   int `koanf:"max_history"`
	ContextTurns int `koanf:"context_turns"`

	Embedder       string `koanf:"embedder"`
	EmbeddingModel string `koanf:"embedding_model"`
	EmbeddingURL   string `koanf:"embedding_url"`
	EmbeddingDim   int    `koanf:"embedding_dim"`
	OpenAIAPIKey   string `koanf:"openai_api_key"`

	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PgDSN       string `koanf:"pg_dsn"`
	PgHost      string `koanf:"pg_host"`
	PgPort      int    `koanf:"pg_port"`
	PgUser      string `koanf:"pg_user"`
	PgPass      string `koanf:"pg_pass"`
	PgDBName    string `koanf:"pg_db_name"`

	Extractor  string  `koanf:"extractor"`
	DoclingURL string  `koanf:"docling_url"`
	CropTop    float64 `koanf:"crop_top"`
	CropBottom float64 `koanf:"crop_bottom"`

	LocalLLMURL       string        `koanf:"local_llm_url"`
	LocalLLMModel     string        `koanf:"local_llm_model"`
	OpenAIURL         string        `koanf:"openai_url"`
	OpenAIModel       string        `koanf:"openai_model"`
	GeminiURL         string        `koanf:"gemini_url"`
	GeminiModel       string        `koanf:"gemini_model"`
	GeminiAPIKey      string        `koanf:"gemini_api_key"`
	AIMLURL           string        `koanf:"aiml_url"`
	AIMLModel         string        `koanf:"aiml_model"`
	AIMLAPIKey        string        `koanf:"aiml_api_key"`
	LLMTimeout        time.Duration `koanf:"llm_timeout"`
	MaxTokens         int           `koanf:"max_tokens"`
	Temperature       float64       `koanf:"temperature"`
	CountPromptTokens bool          `koanf:"count_prompt_tokens"`
}

func Default() *Config {
	return &Config{
		ServerAddr: ":5000",
		StaticDir:  "static",
		LogLevel:   "info",
		LogFormat:  "text",

		ChunkSize:    500,
		ChunkOverlap: 50,
		TopK:         5,
		MaxHistory:   10,
		ContextTurns: 3,

		Embedder:     "hash",
		EmbeddingDim: 384,

		StoreDriver: "sqlite",
		SQLitePath:  "documents.db",
		PgPort:      5432,

		Extractor: "pdfcpu",

		LLMTimeout:        30 * time.Second,
		MaxTokens:         500,
		Temperature:       0.7,
		CountPromptTokens: true,
	}
}

// Load reads path when it exists, then overlays DOCQA_* variables. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	validEmbedders  = map[string]bool{"hash": true, "ollama": true, "openai": true}
	validDrivers    = map[string]bool{"sqlite": true, "postgres": true, "memory": true}
	validExtractors = map[string]bool{"pdfcpu": true, "docling": true}
	validLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats    = map[string]bool{"text": true, "json": true}
)

func (c *Config) Validate() error {
	var errs []error
	if c.ServerAddr == "" {
		errs = append(errs, errors.New("server_addr is required"))
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Errorf("invalid log_format %q: must be text or json", c.LogFormat))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk_size must be positive"))
	}
	if c.ChunkOverlap < 0 {
		errs = append(errs, errors.New("chunk_overlap must be non-negative"))
	}
	if c.TopK <= 0 {
		errs = append(errs, errors.New("top_k must be positive"))
	}
	if c.MaxHistory <= 0 {
		errs = append(errs, errors.New("max_history must be positive"))
	}
	if c.ContextTurns <= 0 {
		errs = append(errs, errors.New("context_turns must be positive"))
	}
	if !validEmbedders[c.Embedder] {
		errs = append(errs, fmt.Errorf("invalid embedder %q: must be one of hash, ollama, openai", c.Embedder))
	}
	if c.EmbeddingDim < 0 {
		errs = append(errs, errors.New("embedding_dim must be non-negative"))
	}
	if !validDrivers[c.StoreDriver] {
		errs = append(errs, fmt.Errorf("invalid store_driver %q: must be one of sqlite, postgres, memory", c.StoreDriver))
	}
	if c.StoreDriver == "sqlite" && c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite_path is required for the sqlite store"))
	}
	if c.StoreDriver == "postgres" && c.PgDSN == "" && c.PgHost == "" {
		errs = append(errs, errors.New("pg_dsn or pg_host is required for the postgres store"))
	}
	if !validExtractors[c.Extractor] {
		errs = append(errs, fmt.Errorf("invalid extractor %q: must be pdfcpu or docling", c.Extractor))
	}
	if c.CropTop < 0 || c.CropBottom < 0 {
		errs = append(errs, errors.New("crop_top and crop_bottom must be non-negative"))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("llm_timeout must be positive"))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, errors.New("max_tokens must be positive"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("temperature must be between 0 and 2"))
	}
	return errors.Join(errs...)
}

// PostgresDSN returns pg_dsn, or builds one from the pg_* fields.
func (c *Config) PostgresDSN() string {
	if c.PgDSN != "" {
		return c.PgDSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PgHost, c.PgPort, c.PgUser, c.PgPass, c.PgDBName)
}
