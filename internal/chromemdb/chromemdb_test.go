package chromemdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager("test", nil)
	require.NoError(t, err)

	docs := []Document{
		{ID: "1-1", Content: "alpha", Metadata: map[string]string{"source": "a"}, Embedding: []float32{1, 0, 0}},
		{ID: "1-2", Content: "beta", Metadata: map[string]string{"source": "b"}, Embedding: []float32{0, 1, 0}},
		{ID: "2-1", Content: "alpha beta", Metadata: map[string]string{"source": "c"}, Embedding: []float32{1, 1, 0}},
	}
	require.NoError(t, m.CreateDocs(context.Background(), docs))
	return m
}

func TestVectorDBManager_SearchOrder(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, 3, m.Count())

	results, err := m.SearchByEmbedding(context.Background(), []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1-1", results[0].ID)
	assert.Equal(t, "2-1", results[1].ID)
	assert.Equal(t, "a", results[0].Metadata["source"])
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
}

func TestVectorDBManager_SearchClampsResults(t *testing.T) {
	m := newTestManager(t)

	results, err := m.SearchByEmbedding(context.Background(), []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, "1-2", results[0].ID)
}

func TestVectorDBManager_Errors(t *testing.T) {
	m, err := NewVectorDBManager("empty", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.CreateDocs(context.Background(), nil), ErrEmptyCollection)

	_, err = m.SearchByEmbedding(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, ErrEmptyCollection)

	_, err = m.SearchByEmbedding(context.Background(), nil, 1)
	assert.Error(t, err)

	// a document without a vector falls back to the embedding func
	err = m.CreateDocs(context.Background(), []Document{{ID: "x", Content: "no vector"}})
	assert.Error(t, err)
}

func TestVectorDBManager_DeleteCollection(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.DeleteCollection())
}
