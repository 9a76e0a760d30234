package chunker

import (
	"fmt"
	"strings"

	"document-qa/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 800 // runes
	defaultChunkOverlap = 100 // runes
)

// Chunker splits document pages into overlapping passages with the
// langchaingo recursive character splitter.
type Chunker struct {
	splitter  textsplitter.TextSplitter
	chunkSize int
	overlap   int
}

func New(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		chunkSize: chunkSize,
		overlap:   chunkOverlap,
	}
}

// Split chunks every page of doc. Chunk numbering restarts on each page and
// every chunk carries the "<name>-page-<n>" source label.
func (c *Chunker) Split(doc *models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range doc.Pages {
		parts, err := c.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("split page %d: %w", page.Number, err)
		}
		n := 0
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n++
			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf(models.ChunkIDFormat, page.Number, n),
				Content:    part,
				PageNumber: page.Number,
				ChunkID:    n,
				Source:     SourceLabel(doc.Name, page.Number),
			})
		}
	}

	log.Debug().
		Str("document", doc.Name).
		Int("chunk_size", c.chunkSize).
		Int("chunk_overlap", c.overlap).
		Int("chunks", len(chunks)).
		Msg("Chunked document")
	return chunks, nil
}

// SourceLabel is the citation label for a page of a document.
func SourceLabel(docName string, page int) string {
	return fmt.Sprintf(models.SourceFormat, docName, page)
}
