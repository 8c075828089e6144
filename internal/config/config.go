package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"edumate-rag/internal/helper"
)

const (
	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

var ErrMissingAPIKey = errors.New("GROQ_API_KEY not set in environment or .env file")

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	EmbedLLM    EmbedConfig       `yaml:"embed_llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	Loader      LoaderConfig      `yaml:"loader"`
	RAG         RAGConfig         `yaml:"rag"`
	Server      ServerConfig      `yaml:"server"`
}

// LLMConfig points at an OpenAI compatible chat endpoint, Groq by default.
type LLMConfig struct {
	Key         string        `yaml:"key" env:"GROQ_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"GROQ_BASE_URL"`
	Model       string        `yaml:"model" env:"GROQ_MODEL"`
	Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"LLM_TIMEOUT"`
}

type EmbedConfig struct {
	Provider string `yaml:"provider" env:"EMBED_PROVIDER"`
	BaseURL  string `yaml:"base_url" env:"EMBED_BASE_URL"`
	Model    string `yaml:"model" env:"EMBED_MODEL"`
	Key      string `yaml:"key" env:"EMBED_API_KEY"`
}

type VectorStoreConfig struct {
	Backend       string `yaml:"backend" env:"VECTOR_BACKEND"`
	Path          string `yaml:"path" env:"CHROMA_DB_PATH"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key" env:"CHROMA_ENCRYPTION_KEY"`
}

type DatabaseConfig struct {
	URL   string `yaml:"url" env:"DATABASE_URL"`
	Debug bool   `yaml:"debug"`
}

type LoaderConfig struct {
	PDFFolder    string   `yaml:"pdf_folder" env:"PDF_FOLDER_PATH"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Extensions   []string `yaml:"extensions" env:"LOADER_EXTENSIONS" envSeparator:","`
}

type RAGConfig struct {
	TopK         int `yaml:"top_k" env:"RAG_TOP_K"`
	HistoryTurns int `yaml:"history_turns" env:"RAG_HISTORY_TURNS"`
}

type ServerConfig struct {
	Host  string `yaml:"host" env:"API_HOST"`
	Port  int    `yaml:"port" env:"API_PORT"`
	Debug bool   `yaml:"debug" env:"DEBUG"`
	Watch bool   `yaml:"watch" env:"WATCH_PDF_FOLDER"`
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			Temperature: 0.7,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
		},
		EmbedLLM: EmbedConfig{
			Provider: ProviderOllama,
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		VectorStore: VectorStoreConfig{
			Backend:    BackendChromem,
			Path:       "./assets/chroma_db",
			Collection: "course_materials",
		},
		Loader: LoaderConfig{
			PDFFolder:    "./assets/course_pdfs",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Extensions:   []string{".pdf"},
		},
		RAG: RAGConfig{
			TopK: 3,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8000,
		},
	}
}

// LoadConfig resolves settings in order: defaults, yaml file (optional), .env, environment.
// An empty path skips the yaml step.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.LLM.Key == "" {
		return ErrMissingAPIKey
	}
	if c.Loader.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Loader.ChunkSize)
	}
	if c.Loader.ChunkOverlap < 0 || c.Loader.ChunkOverlap >= c.Loader.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, %d), got %d", c.Loader.ChunkSize, c.Loader.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.RAG.TopK)
	}
	switch c.VectorStore.Backend {
	case BackendChromem:
	case BackendPGVector:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("unknown vector store backend %q", c.VectorStore.Backend)
	}
	switch c.EmbedLLM.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderHash:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbedLLM.Provider)
	}
	if k := c.VectorStore.EncryptionKey; k != "" && len(k) != 32 {
		return errors.New("encryption key must be 32 bytes")
	}
	return nil
}

// EnsureDirs creates the vector store and pdf folders if they don't exist.
func (c *Config) EnsureDirs() error {
	if c.VectorStore.Backend == BackendChromem {
		if err := helper.CreateFolder(c.VectorStore.Path); err != nil {
			return err
		}
	}
	return helper.CreateFolder(c.Loader.PDFFolder)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Redacted is a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	out.LLM.Key = mask(out.LLM.Key)
	out.EmbedLLM.Key = mask(out.EmbedLLM.Key)
	out.VectorStore.EncryptionKey = mask(out.VectorStore.EncryptionKey)
	if out.Database.URL != "" {
		out.Database.URL = "***"
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", 8)
}
