package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"document-qa/internal/chromemdb"
	"document-qa/internal/embedding"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

const collectionName = "document"

// ProviderError is returned when the embedding or completion API fails. Its
// message is the provider's own error text, shown to the user unchanged.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

func providerError(op string, err error) error {
	if errors.Is(err, llmservice.ErrMissingAPIKey) || errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

// Index is the similarity index of one document.
type Index struct {
	store  *chromemdb.VectorDBManager
	chunks map[string]models.Chunk
	order  []string
}

// Len returns the number of chunks held by the vector collection.
func (idx *Index) Len() int { return idx.store.Count() }

// Chunks returns the indexed chunks in document order.
func (idx *Index) Chunks() []models.Chunk {
	out := make([]models.Chunk, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.chunks[id])
	}
	return out
}

// Close drops the underlying collection.
func (idx *Index) Close() error {
	return idx.store.DeleteCollection()
}

// EmbedDocs embeds the chunks and builds a fresh in-memory index over them.
func EmbedDocs(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) (*Index, error) {
	chunkEmbeddings, err := embedding.GenerateEmbeddings(ctx, embedder, chunks)
	if err != nil {
		if errors.Is(err, embedding.ErrNoChunks) {
			return nil, err
		}
		return nil, providerError("embed documents", err)
	}

	store, err := chromemdb.NewVectorDBManager(collectionName, nil)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		store:  store,
		chunks: make(map[string]models.Chunk, len(chunkEmbeddings)),
		order:  make([]string, 0, len(chunkEmbeddings)),
	}
	docs := make([]chromemdb.Document, 0, len(chunkEmbeddings))
	for _, ce := range chunkEmbeddings {
		if _, dup := idx.chunks[ce.ID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", ce.ID)
		}
		idx.chunks[ce.ID] = ce.Chunk
		idx.order = append(idx.order, ce.ID)
		docs = append(docs, chromemdb.Document{
			ID:      ce.ID,
			Content: ce.Content,
			Metadata: map[string]string{
				"source":   ce.Source,
				"page":     strconv.Itoa(ce.PageNumber),
				"chunk_id": strconv.Itoa(ce.ChunkID),
			},
			Embedding: ce.Embedding,
		})
	}
	if err := store.CreateDocs(ctx, docs); err != nil {
		return nil, err
	}

	log.Info().Int("chunks", idx.Len()).Msg("Indexed document")
	return idx, nil
}

// SearchDocs returns the k chunks most similar to query, best first.
func SearchDocs(ctx context.Context, embedder embeddings.Embedder, idx *Index, query string, k int) ([]models.Chunk, error) {
	vector, err := embedding.GenerateQueryEmbedding(ctx, embedder, query)
	if err != nil {
		if errors.Is(err, embedding.ErrEmptyQuery) {
			return nil, err
		}
		return nil, providerError("embed query", err)
	}

	results, err := idx.store.SearchByEmbedding(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(results))
	for _, res := range results {
		chunk, ok := idx.chunks[res.ID]
		if !ok {
			continue
		}
		chunk.Score = res.Similarity
		chunks = append(chunks, chunk)
	}
	log.Debug().Str("query", query).Int("k", k).Int("results", len(chunks)).Msg("Retrieved chunks")
	return chunks, nil
}

// GetAnswer asks the model to answer query from sources and parses the cited
// source labels out of the completion.
func GetAnswer(ctx context.Context, llm llms.Model, sources []models.Chunk, query string, temperature float64) (*models.Answer, error) {
	prompt, err := BuildPrompt(sources, query)
	if err != nil {
		return nil, err
	}

	raw, err := llmservice.GenerateAnswer(ctx, llm, prompt, temperature)
	if err != nil {
		if errors.Is(err, llmservice.ErrEmptyCompletion) {
			return nil, err
		}
		return nil, providerError("generate answer", err)
	}

	text, keys := ParseAnswer(raw)
	return &models.Answer{
		Query:      query,
		Text:       text,
		Raw:        raw,
		SourceKeys: keys,
		Sources:    GetSources(keys, sources),
		Retrieved:  sources,
	}, nil
}

// BuildPrompt renders the question answering prompt.
func BuildPrompt(sources []models.Chunk, query string) (string, error) {
	summaries := make([]string, 0, len(sources))
	for _, src := range sources {
		summaries = append(summaries, fmt.Sprintf(models.DocumentPromptTemplate, src.Content, src.Source))
	}

	tmpl := prompts.NewPromptTemplate(models.QAPromptTemplate, []string{"question", "summaries"})
	prompt, err := tmpl.Format(map[string]any{
		"question":  strings.TrimSpace(query),
		"summaries": strings.Join(summaries, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("format prompt: %w", err)
	}
	return prompt, nil
}

// ParseAnswer splits a completion into the answer text, which is everything
// before the first SOURCES marker, and the labels listed after the last one.
func ParseAnswer(raw string) (string, []string) {
	first := strings.Index(raw, models.SourcesMarker)
	if first < 0 {
		return strings.TrimSpace(raw), nil
	}
	text := strings.TrimSpace(raw[:first])

	last := strings.LastIndex(raw, models.SourcesMarker)
	var keys []string
	seen := map[string]bool{}
	for _, key := range strings.Split(raw[last+len(models.SourcesMarker):], ",") {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return text, keys
}

// GetSources keeps the retrieved chunks whose label was cited, in retrieval
// order.
func GetSources(keys []string, retrieved []models.Chunk) []models.Chunk {
	cited := make(map[string]bool, len(keys))
	for _, k := range keys {
		cited[k] = true
	}
	var out []models.Chunk
	for _, chunk := range retrieved {
		if cited[chunk.Source] {
			out = append(out, chunk)
		}
	}
	return out
}
