package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taxrag/internal/backoff"
)

// CorpusConfig locates the documents to index.
type CorpusConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
	// Watch warns in the chat loop when corpus files change.
	Watch bool `yaml:"watch"`
}

// ChunkerConfig configures the character sliding window.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// IndexConfig configures the embedding index and its persisted file.
type IndexConfig struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	Budget int `yaml:"budget"`
	// Counter is "words" or "tiktoken".
	Counter  string `yaml:"counter"`
	Encoding string `yaml:"encoding"`
}

// PolicyConfig extends the built-in domain keywords.
type PolicyConfig struct {
	ExtraKeywords []string `yaml:"extra_keywords,omitempty"`
}

// CompletionConfig configures the chat completion service and its retries.
type CompletionConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	Model         string  `yaml:"model"`
	Temperature   float32 `yaml:"temperature"`
	SystemPrompt  string  `yaml:"system_prompt,omitempty"`
	TimeoutSecs   int     `yaml:"timeout_secs"`
	MinIntervalMs int     `yaml:"min_interval_ms"`
	MaxRetries    int     `yaml:"max_retries"`
	BaseDelayMs   int     `yaml:"base_delay_ms"`
	MaxDelayMs    int     `yaml:"max_delay_ms"`
	JitterMs      int     `yaml:"jitter_ms"`
}

// Backoff converts the retry settings into a policy.
func (c CompletionConfig) Backoff() backoff.Policy {
	return backoff.Policy{
		MaxRetries: c.MaxRetries,
		Base:       time.Duration(c.BaseDelayMs) * time.Millisecond,
		Max:        time.Duration(c.MaxDelayMs) * time.Millisecond,
		Jitter:     time.Duration(c.JitterMs) * time.Millisecond,
	}
}

// AnswerConfig tunes the answer orchestrator.
type AnswerConfig struct {
	K                    int      `yaml:"k"`
	MaxDistance          float64  `yaml:"max_distance"`
	InsufficiencyPhrases []string `yaml:"insufficiency_phrases"`
	RefusalText          string   `yaml:"refusal_text,omitempty"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Index      IndexConfig      `yaml:"index"`
	Memory     MemoryConfig     `yaml:"memory"`
	Policy     PolicyConfig     `yaml:"policy"`
	Completion CompletionConfig `yaml:"completion"`
	Answer     AnswerConfig     `yaml:"answer"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/taxrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/taxrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports settings that cannot work together.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chunker.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		errs = append(errs, fmt.Errorf("chunker.overlap must be in [0, size), got %d", c.Chunker.Overlap))
	}
	switch c.Embedder.Type {
	case "tfidf", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedder.type %q is not one of tfidf, openai", c.Embedder.Type))
	}
	switch c.Memory.Counter {
	case "words", "tiktoken":
	default:
		errs = append(errs, fmt.Errorf("memory.counter %q is not one of words, tiktoken", c.Memory.Counter))
	}
	if c.Answer.MaxDistance < 0 || c.Answer.MaxDistance > 2 {
		errs = append(errs, fmt.Errorf("answer.max_distance must be in [0, 2], got %v", c.Answer.MaxDistance))
	}
	if c.Completion.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("completion.max_retries must be at least 1, got %d", c.Completion.MaxRetries))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "taxrag", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := &AppConfig{
		Corpus:   CorpusConfig{Dir: "data"},
		Chunker:  ChunkerConfig{Size: 1000, Overlap: 200},
		Embedder: EmbedderConfig{Type: "tfidf"},
		Memory:   MemoryConfig{Budget: 500, Counter: "words"},
		Completion: CompletionConfig{
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxRetries:  3,
			BaseDelayMs: 1000,
		},
		Answer: AnswerConfig{K: 5},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if len(cfg.Corpus.Extensions) == 0 {
		cfg.Corpus.Extensions = []string{".pdf", ".txt", ".md"}
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 1000
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 200
		}
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Index.CacheSize == 0 {
		cfg.Index.CacheSize = 256
	}
	if cfg.Memory.Budget == 0 {
		cfg.Memory.Budget = 500
	}
	if cfg.Memory.Counter == "" {
		cfg.Memory.Counter = "words"
	}
	if cfg.Memory.Counter == "tiktoken" && cfg.Memory.Encoding == "" {
		cfg.Memory.Encoding = "cl100k_base"
	}
	c := &cfg.Completion
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelayMs == 0 {
		c.BaseDelayMs = 1000
	}
	if cfg.Answer.K == 0 {
		cfg.Answer.K = 5
	}
	if len(cfg.Answer.InsufficiencyPhrases) == 0 {
		cfg.Answer.InsufficiencyPhrases = []string{"not mention", "does not contain"}
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "taxrag"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
