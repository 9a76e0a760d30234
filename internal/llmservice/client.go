package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"document-qa/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrUnknownProvider = errors.New("unknown llm provider")
	ErrEmptyCompletion = errors.New("empty completion")
)

// Factory builds the embedding and completion clients for one API key.
// Keys are supplied per user session, so clients are created on demand.
type Factory interface {
	Embedder(apiKey string) (embeddings.Embedder, error)
	LLM(apiKey string) (llms.Model, error)
}

// NewFactory returns the factory for the configured provider.
func NewFactory(cfg *config.LLMConfig) (Factory, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return NewOpenAIFactory(cfg, nil), nil
	case "mock":
		return NewMockFactory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// OpenAIFactory talks to an OpenAI-compatible endpoint through langchaingo.
type OpenAIFactory struct {
	cfg        *config.LLMConfig
	httpClient *http.Client
}

// NewOpenAIFactory creates the factory. httpClient may be nil.
func NewOpenAIFactory(cfg *config.LLMConfig, httpClient *http.Client) *OpenAIFactory {
	return &OpenAIFactory{cfg: cfg, httpClient: httpClient}
}

func (f *OpenAIFactory) newClient(apiKey string) (*openai.LLM, error) {
	apiKey = strings.TrimSpace(strings.TrimPrefix(apiKey, "Bearer "))
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	log.Debug().Interface("llmConfig", f.cfg).Msg("Creating openai client")
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(f.cfg.Model),
		openai.WithEmbeddingModel(f.cfg.EmbeddingModel),
	}
	if f.cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(f.cfg.BaseURL))
	}
	if f.httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(f.httpClient))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		if errors.Is(err, openai.ErrMissingToken) {
			return nil, ErrMissingAPIKey
		}
		return nil, err
	}
	return llm, nil
}

func (f *OpenAIFactory) Embedder(apiKey string) (embeddings.Embedder, error) {
	llm, err := f.newClient(apiKey)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

func (f *OpenAIFactory) LLM(apiKey string) (llms.Model, error) {
	return f.newClient(apiKey)
}

// GenerateAnswer sends a single prompt and returns the text of the first choice.
func GenerateAnswer(ctx context.Context, llm llms.Model, prompt string, temperature float64) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt, llms.WithTemperature(temperature))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
