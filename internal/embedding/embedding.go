package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"document-qa/internal/models"

	"github.com/tmc/langchaingo/embeddings"
)

var (
	ErrNoChunks      = errors.New("no chunks to embed")
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrVectorMissing = errors.New("embedding response is missing vectors")
)

// GenerateEmbeddings embeds all chunk contents in one batched request and
// pairs every chunk with its vector.
func GenerateEmbeddings(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, ErrNoChunks
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d for %d chunks", ErrVectorMissing, len(vectors), len(chunks))
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, 0, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("%w: chunk %s", ErrVectorMissing, chunk.ID)
		}
		chunkEmbeddings = append(chunkEmbeddings, models.ChunkEmbedding{
			Chunk:     chunk,
			Embedding: vectors[i],
		})
	}
	log.Debug().Int("chunks", len(chunkEmbeddings)).Int("dimensions", len(vectors[0])).Msg("Generated embeddings")
	return chunkEmbeddings, nil
}

// GenerateQueryEmbedding embeds a single question.
func GenerateQueryEmbedding(ctx context.Context, embedder embeddings.Embedder, query string) ([]float32, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, ErrVectorMissing
	}
	return vector, nil
}
