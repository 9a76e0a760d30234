package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultChunkSize    = 800 // runes
	defaultChunkOverlap = 100 // runes
	defaultTopK         = 5
	defaultMaxUploadMB  = 10
	defaultSessionTTL   = 120 // minutes
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	LLM     LLMConfig     `yaml:"llm"`
	RAG     RAGConfig     `yaml:"rag"`
	Session SessionConfig `yaml:"session"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	GinMode   string `yaml:"gin_mode"`
	LogLevel  string `yaml:"log_level"`
	PrettyLog bool   `yaml:"pretty_log"`
}

// LLMConfig describes the OpenAI-compatible endpoint. The API key itself is
// supplied by the user per session and is never read from here.
type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
	MaxUploadMB  int `yaml:"max_upload_mb"`
}

type SessionConfig struct {
	Store      string      `yaml:"store"`
	CookieName string      `yaml:"cookie_name"`
	TTLMinutes int         `yaml:"ttl_minutes"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoadConfig reads the YAML file at path (a missing file yields defaults),
// loads a .env file if present and applies DOCQA_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	overrideByEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:      "document-qa",
			Host:      "0.0.0.0",
			Port:      8080,
			GinMode:   "release",
			LogLevel:  "debug",
			PrettyLog: true,
		},
		LLM: LLMConfig{
			Provider:       "openai",
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		RAG: RAGConfig{
			ChunkSize:    defaultChunkSize,
			ChunkOverlap: defaultChunkOverlap,
			TopK:         defaultTopK,
			MaxUploadMB:  defaultMaxUploadMB,
		},
		Session: SessionConfig{
			Store:      "memory",
			CookieName: "docqa_session",
			TTLMinutes: defaultSessionTTL,
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
			},
		},
	}
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func applyDefaults(cfg *Config) {
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.ChunkOverlap < 0 {
		cfg.RAG.ChunkOverlap = 0
	}
	if cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize / 2
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = defaultTopK
	}
	if cfg.RAG.MaxUploadMB <= 0 {
		cfg.RAG.MaxUploadMB = defaultMaxUploadMB
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "docqa_session"
	}
	if cfg.Session.TTLMinutes <= 0 {
		cfg.Session.TTLMinutes = defaultSessionTTL
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Host = getEnv("DOCQA_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("DOCQA_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.LogLevel = getEnv("DOCQA_LOG_LEVEL", cfg.App.LogLevel)

	cfg.LLM.Provider = getEnv("DOCQA_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.BaseURL = getEnv("DOCQA_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("DOCQA_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.EmbeddingModel = getEnv("DOCQA_LLM_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)

	cfg.RAG.ChunkSize = getEnvAsInt("DOCQA_CHUNK_SIZE", cfg.RAG.ChunkSize)
	cfg.RAG.ChunkOverlap = getEnvAsInt("DOCQA_CHUNK_OVERLAP", cfg.RAG.ChunkOverlap)
	cfg.RAG.TopK = getEnvAsInt("DOCQA_TOP_K", cfg.RAG.TopK)

	cfg.Session.Store = getEnv("DOCQA_SESSION_STORE", cfg.Session.Store)
	cfg.Session.Redis.Addr = getEnv("DOCQA_REDIS_ADDR", cfg.Session.Redis.Addr)
	cfg.Session.Redis.Password = getEnv("DOCQA_REDIS_PASSWORD", cfg.Session.Redis.Password)
	cfg.Session.Redis.DB = getEnvAsInt("DOCQA_REDIS_DB", cfg.Session.Redis.DB)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
