package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
)

// chatModel is the part of llms.Model the Ollama client uses
type chatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// OllamaClient is the LLMClient backed by a local Ollama server. Pass 1 uses
// a model in JSON output mode, pass 2 a plain text model.
type OllamaClient struct {
	extractor  chatModel
	summarizer chatModel
	info       ModelInfo
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client from the LLM config
func NewOllamaClient(config model.LLMConfig, logger *slog.Logger) (*OllamaClient, error) {
	if config.Model == "" {
		return nil, helper.NewError("new ollama client", fmt.Errorf("model is required"))
	}

	options := []ollama.Option{ollama.WithModel(config.Model)}
	if config.ServerURL != "" {
		options = append(options, ollama.WithServerURL(config.ServerURL))
	}

	extractor, err := ollama.New(append(options, ollama.WithFormat("json"))...)
	if err != nil {
		return nil, helper.NewError("create ollama extraction model", err)
	}
	summarizer, err := ollama.New(options...)
	if err != nil {
		return nil, helper.NewError("create ollama summary model", err)
	}

	return newOllamaClient(extractor, summarizer, config, logger), nil
}

func newOllamaClient(extractor chatModel, summarizer chatModel, config model.LLMConfig, logger *slog.Logger) *OllamaClient {
	client := &OllamaClient{
		extractor:  extractor,
		summarizer: summarizer,
		info:       ModelInfo{Provider: "ollama", Model: config.Model},
		logger:     helper.LoggerOrDefault(logger),
	}
	if config.RequestsPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return client
}

// ModelInfo returns the provider and model name
func (c *OllamaClient) ModelInfo() ModelInfo {
	return c.info
}

// Extract runs the extraction prompt and decodes the JSON output
func (c *OllamaClient) Extract(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*ExtractionResponse, error) {
	content, tokens, err := c.generate(ctx, c.extractor, systemPrompt, userPrompt, temperature)
	if err != nil {
		return nil, helper.NewError("ollama extract", err)
	}
	extractions, err := ParseExtractionJSON(content)
	if err != nil {
		return nil, helper.NewError("ollama extract", err)
	}
	return &ExtractionResponse{Extractions: extractions, TotalTokens: tokens}, nil
}

// Summarize runs the summary prompt and returns the raw text
func (c *OllamaClient) Summarize(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*SummaryResponse, error) {
	content, tokens, err := c.generate(ctx, c.summarizer, systemPrompt, userPrompt, temperature)
	if err != nil {
		return nil, helper.NewError("ollama summarize", err)
	}
	return &SummaryResponse{Summary: content, TotalTokens: tokens}, nil
}

func (c *OllamaClient) generate(ctx context.Context, llm chatModel, systemPrompt string, userPrompt string, temperature float64) (string, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, err
		}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	response, err := llm.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", 0, err
	}
	if response == nil || len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Content) == "" {
		return "", 0, ErrEmptyResponse
	}

	choice := response.Choices[0]
	tokens := tokenCount(choice.GenerationInfo["TotalTokens"])
	c.logger.Debug("Ollama call finished", slog.String("model", c.info.Model), slog.Int("tokens", tokens))
	return choice.Content, tokens, nil
}

func tokenCount(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
