package llmservice

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
)

const defaultMockDim = 256

var (
	mockTokenRe    = regexp.MustCompile(`[\p{L}\p{N}]+`)
	mockQuestionRe = regexp.MustCompile(`(?m)^QUESTION: (.*)$`)
	mockSourceRe   = regexp.MustCompile(`(?m)^Source: (.*)$`)
)

// MockFactory is an offline provider. Embeddings are hashed bags of words, so
// texts sharing words are similar; completions either replay Responses or
// cite the first passage of the prompt. It counts every simulated API round
// trip.
type MockFactory struct {
	Dim       int
	Responses []string
	EmbedErr  error
	LLMErr    error

	mu          sync.Mutex
	scripted    *fake.LLM
	embedCalls  int
	completions int
}

func NewMockFactory() *MockFactory {
	return &MockFactory{Dim: defaultMockDim}
}

func (f *MockFactory) Embedder(apiKey string) (embeddings.Embedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	return embeddings.NewEmbedder(embeddings.EmbedderClientFunc(f.createEmbedding))
}

func (f *MockFactory) LLM(apiKey string) (llms.Model, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	return &mockLLM{factory: f}, nil
}

// Calls reports how many embedding and completion requests were made.
func (f *MockFactory) Calls() (embed, complete int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls, f.completions
}

func (f *MockFactory) createEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.EmbedErr != nil {
		return nil, f.EmbedErr
	}

	dim := f.Dim
	if dim <= 1 {
		dim = defaultMockDim
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dim)
		// keeps the vector non-zero for texts without tokens
		vec[0] = 0.1
		for _, tok := range mockTokenRe.FindAllString(strings.ToLower(text), -1) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[1+int(h.Sum32()%uint32(dim-1))]++
		}
		out[i] = vec
	}
	return out, nil
}

type mockLLM struct {
	factory *MockFactory
}

func (m *mockLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f := m.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions++
	if f.LLMErr != nil {
		return nil, f.LLMErr
	}
	// scripted responses cycle across every model the factory hands out
	if len(f.Responses) > 0 {
		if f.scripted == nil {
			f.scripted = fake.NewFakeLLM(f.Responses)
		}
		return f.scripted.GenerateContent(ctx, messages, options...)
	}

	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: mockAnswer(prompt.String())}},
	}, nil
}

func (m *mockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// mockAnswer cites the first passage listed after the last question.
func mockAnswer(prompt string) string {
	question := ""
	if idx := mockQuestionRe.FindAllStringSubmatchIndex(prompt, -1); len(idx) > 0 {
		last := idx[len(idx)-1]
		question = prompt[last[2]:last[3]]
		prompt = prompt[last[1]:]
	}
	source := ""
	if m := mockSourceRe.FindStringSubmatch(prompt); m != nil {
		source = strings.TrimSpace(m[1])
	}
	return fmt.Sprintf("This is a mock answer to %q.\nSOURCES: %s", strings.TrimSpace(question), source)
}
