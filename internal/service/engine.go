// Package service assembles the answering engine from configuration:
// corpus ingestion, the embedding index and the answer orchestrator.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"taxrag/internal/answer"
	"taxrag/internal/chunker"
	"taxrag/internal/completion"
	"taxrag/internal/completion/openai"
	"taxrag/internal/config"
	"taxrag/internal/conversation"
	"taxrag/internal/embedding"
	embopenai "taxrag/internal/embedding/openai"
	"taxrag/internal/embedding/tfidf"
	"taxrag/internal/index"
	"taxrag/internal/ingest"
	"taxrag/internal/policy"
	"taxrag/internal/summarizer"
)

// NewEmbedder returns the embedder selected by cfg.Embedder.
func NewEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func indexOptions(cfg *config.AppConfig, log *slog.Logger) index.Options {
	return index.Options{CacheSize: cfg.Index.CacheSize, Logger: log}
}

// BuildIndex ingests the corpus directory and embeds every chunk.
func BuildIndex(ctx context.Context, cfg *config.AppConfig, corpusDir string, log *slog.Logger) (*index.Index, error) {
	window, err := chunker.NewSlidingWindow(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}
	docs, err := ingest.NewLoader(cfg.Corpus.Extensions, log).LoadCorpus(ctx, corpusDir)
	if err != nil {
		return nil, err
	}
	chunks, err := ingest.ChunkCorpus(docs, window)
	if err != nil {
		return nil, err
	}
	log.Info("corpus chunked", "dir", corpusDir, "documents", len(docs), "chunks", len(chunks))
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	ix, err := index.Build(ctx, emb, chunks, indexOptions(cfg, log))
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return ix, nil
}

// OpenIndex loads the index at path when it exists. Otherwise it builds one
// from corpusDir and, when path is set, persists it there.
func OpenIndex(ctx context.Context, cfg *config.AppConfig, path, corpusDir string, log *slog.Logger) (*index.Index, error) {
	if path != "" {
		emb, err := NewEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		ix, err := index.Load(ctx, path, emb, indexOptions(cfg, log))
		if err == nil {
			return ix, nil
		}
		if !errors.Is(err, index.ErrIndexNotFound) {
			return nil, fmt.Errorf("load index: %w", err)
		}
		log.Info("no persisted index, building", "path", path)
	}
	ix, err := BuildIndex(ctx, cfg, corpusDir, log)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := ix.Persist(ctx, path); err != nil {
			return nil, fmt.Errorf("persist index: %w", err)
		}
	}
	return ix, nil
}

// NewSession creates a conversation memory sized by cfg.Memory.
func NewSession(cfg *config.AppConfig) (*conversation.MemorySession, error) {
	var counter conversation.TokenCounter = conversation.WordCounter{}
	if cfg.Memory.Counter == "tiktoken" {
		tc, err := conversation.NewTiktokenCounter(cfg.Memory.Encoding)
		if err != nil {
			return nil, err
		}
		counter = tc
	}
	return conversation.NewSession(cfg.Memory.Budget, counter), nil
}

// NewProvider creates the chat completion provider. The API key is read
// from the environment variable named by cfg.Completion.APIKeyEnv.
func NewProvider(cfg *config.AppConfig) (*openai.Provider, error) {
	c := cfg.Completion
	p, err := openai.New(openai.Config{
		BaseURL:      c.BaseURL,
		APIKey:       os.Getenv(c.APIKeyEnv),
		Model:        c.Model,
		Temperature:  c.Temperature,
		Timeout:      time.Duration(c.TimeoutSecs) * time.Second,
		SystemPrompt: c.SystemPrompt,
		MinInterval:  time.Duration(c.MinIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set %s)", err, c.APIKeyEnv)
	}
	return p, nil
}

// NewOrchestrator wires handle and provider into an orchestrator with a
// fresh memory session.
func NewOrchestrator(cfg *config.AppConfig, handle index.Handle, provider completion.Provider, log *slog.Logger) (*answer.Orchestrator, error) {
	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	client := completion.NewClient(provider, cfg.Completion.Backoff(), nil, log)
	classifier := policy.NewClassifier(policy.WithKeywords(cfg.Policy.ExtraKeywords))
	return answer.New(handle, session, classifier, client, answer.Options{
		K:                    cfg.Answer.K,
		MaxDistance:          cfg.Answer.MaxDistance,
		InsufficiencyPhrases: cfg.Answer.InsufficiencyPhrases,
		RefusalText:          cfg.Answer.RefusalText,
		Logger:               log,
	})
}

// Summary renders a short per-file digest of the indexed corpus.
func Summary(ix *index.Index, perSource int) (string, error) {
	digest, err := summarizer.NewFrequency().Digest(ix.Chunks(), perSource)
	if err != nil {
		return "", err
	}
	if len(digest) == 0 {
		return "Corpus is empty.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d chunks from %d files.", ix.Len(), len(digest))
	for _, d := range digest {
		fmt.Fprintf(&b, "\n  %s: %s", d.Path, d.Summary)
	}
	return b.String(), nil
}
