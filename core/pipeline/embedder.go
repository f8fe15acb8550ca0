package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
	"github.com/tmc/langchaingo/llms/ollama"
)

// HugotEmbedder embeds text with a local sentence transformer model
type HugotEmbedder struct {
	session *hugot.Session
	run     func(texts []string) ([][]float32, error)
}

// DefaultEmbedder creates an embedder for the configured sentence transformer.
// The model is downloaded on first use; all-MiniLM-L6-v2 produces
// 384-dimensional embeddings.
func DefaultEmbedder(config model.EmbeddingConfig) (*HugotEmbedder, error) {
	modelPath, err := helper.PrepareModel(config.Model, config.OnnxFilePath)
	if err != nil {
		return nil, helper.NewError("prepare model", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, helper.NewError("create hugot session", err)
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "medrag-embedder",
	}
	sentencePipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, helper.NewError("create sentence pipeline", err)
	}

	return &HugotEmbedder{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			result, err := sentencePipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
	}, nil
}

// Embed returns the embedding of text
func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings, err := e.run([]string{text})
	if err != nil {
		return nil, helper.NewError("generate embedding", err)
	}
	if len(embeddings) == 0 {
		return nil, helper.NewError("generate embedding", fmt.Errorf("no embedding generated"))
	}
	return embeddings[0], nil
}

// Close releases the hugot session
func (e *HugotEmbedder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}

type embeddingModel interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

// OllamaEmbedder embeds text through an Ollama server
type OllamaEmbedder struct {
	model embeddingModel
}

// NewOllamaEmbedder creates an embedder using the configured Ollama model
func NewOllamaEmbedder(config model.EmbeddingConfig) (*OllamaEmbedder, error) {
	if config.Model == "" {
		return nil, helper.NewError("ollama embedder", fmt.Errorf("embedding model is required"))
	}
	options := []ollama.Option{ollama.WithModel(config.Model)}
	if config.ServerURL != "" {
		options = append(options, ollama.WithServerURL(config.ServerURL))
	}
	llm, err := ollama.New(options...)
	if err != nil {
		return nil, helper.NewError("create ollama embedder", err)
	}
	return &OllamaEmbedder{model: llm}, nil
}

// Embed returns the embedding of text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.model.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, helper.NewError("create embedding", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, helper.NewError("create embedding", fmt.Errorf("no embedding generated"))
	}
	return embeddings[0], nil
}

// Close is a no-op, the Ollama client holds no resources
func (e *OllamaEmbedder) Close() error {
	return nil
}

// NewEmbedder creates the embedding collaborator named by config.Provider
func NewEmbedder(config model.EmbeddingConfig) (EmbeddingProvider, error) {
	switch strings.ToLower(config.Provider) {
	case "", "hugot":
		embedder, err := DefaultEmbedder(config)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	case "ollama":
		embedder, err := NewOllamaEmbedder(config)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	default:
		return nil, helper.NewError("new embedder", fmt.Errorf("unknown embedding provider %q", config.Provider))
	}
}
