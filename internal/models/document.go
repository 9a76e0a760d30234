package models

import "strings"

// FileType is the declared format of an uploaded document.
type FileType string

const (
	FileTypePDF  FileType = ".pdf"
	FileTypeDOCX FileType = ".docx"
	FileTypeTXT  FileType = ".txt"
)

// Page is the text of one page. Formats without pages produce a single page 1.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is a parsed upload.
type Document struct {
	Name  string   `json:"name"`
	Type  FileType `json:"type"`
	Size  int64    `json:"size"`
	Pages []Page   `json:"pages"`
}

// Text joins all pages with a blank line.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Chunk represents a retrievable passage with metadata
type Chunk struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	PageNumber int     `json:"page_number"`
	ChunkID    int     `json:"chunk_id"`
	Source     string  `json:"source"`
	Score      float32 `json:"score,omitempty"`
}

// Answer is the parsed completion for one question. Sources holds the
// retrieved chunks cited by the model, Retrieved all chunks sent with the
// prompt.
type Answer struct {
	Query      string   `json:"query"`
	Text       string   `json:"answer"`
	Raw        string   `json:"raw"`
	SourceKeys []string `json:"source_keys"`
	Sources    []Chunk  `json:"sources"`
	Retrieved  []Chunk  `json:"retrieved"`
}

// ChunkEmbedding pairs a chunk with its embedding vector.
type ChunkEmbedding struct {
	Chunk
	Embedding []float32 `json:"embedding"`
}
