package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

var ErrEmptyCollection = errors.New("collection is empty")

// Document represents our data structure with content and metadata
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// meta data will have source label, page number, chunk id

// VectorDBManager wraps one in-memory chromem-go collection. A manager holds
// the index of exactly one uploaded document and is replaced on re-upload.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
}

// NewVectorDBManager creates an in-memory database with a single collection.
// embeddingFunc is used by chromem for documents or queries that arrive
// without a vector; it may be nil when every caller supplies embeddings.
func NewVectorDBManager(collectionName string, embeddingFunc chromem.EmbeddingFunc) (*VectorDBManager, error) {
	if embeddingFunc == nil {
		embeddingFunc = missingEmbeddingFunc
	}
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(collectionName, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return &VectorDBManager{
		db:         db,
		collection: c,
		name:       collectionName,
	}, nil
}

// CreateDocs adds multiple documents to the collection.
func (m *VectorDBManager) CreateDocs(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyCollection
	}
	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		})
	}

	if err := m.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Str("collection", m.name).Int("count", m.collection.Count()).Msg("Added documents to vector database")
	return nil
}

// SearchByEmbedding returns up to nResults documents ordered by descending
// cosine similarity. nResults is clamped to the collection size.
func (m *VectorDBManager) SearchByEmbedding(ctx context.Context, embedding []float32, nResults int) ([]chromem.Result, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	count := m.collection.Count()
	if count == 0 {
		return nil, ErrEmptyCollection
	}
	if nResults <= 0 || nResults > count {
		nResults = count
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Count returns the number of indexed documents.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// DeleteCollection drops the collection and all its documents.
func (m *VectorDBManager) DeleteCollection() error {
	if err := m.db.DeleteCollection(m.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

func missingEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("no embedding function configured")
}
