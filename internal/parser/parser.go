package parser

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"document-qa/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrNoText              = errors.New("no extractable text (scanned documents are not supported)")
	ErrMalformedPDF        = errors.New("malformed PDF")
)

const defaultPageNumber = 1

var (
	hyphenBreakRe = regexp.MustCompile(`(\w+)-\n(\w+)`)
	blankLinesRe  = regexp.MustCompile(`\n\s*\n`)
	docxParaEndRe = regexp.MustCompile(`</w:p>|<w:br/>|<w:cr/>`)
	docxTabRe     = regexp.MustCompile(`<w:tab/>`)
	xmlTagRe      = regexp.MustCompile(`<[^>]+>`)
)

// Supported reports whether the extension of name is a supported upload type.
func Supported(name string) bool {
	switch fileType(name) {
	case models.FileTypePDF, models.FileTypeDOCX, models.FileTypeTXT:
		return true
	}
	return false
}

// Parse converts an uploaded byte stream into a document. The declared file
// name decides the format.
func Parse(name string, data []byte) (*models.Document, error) {
	ft := fileType(name)

	var (
		pages []models.Page
		err   error
	)
	switch ft {
	case models.FileTypePDF:
		pages, err = parsePDF(data)
	case models.FileTypeDOCX:
		pages, err = parseDOCX(data)
	case models.FileTypeTXT:
		pages = parseText(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, string(ft))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("parse %s: %w", name, ErrNoText)
	}

	log.Debug().Str("file", name).Int("pages", len(pages)).Msg("Parsed document")
	return &models.Document{
		Name:  filepath.Base(name),
		Type:  ft,
		Size:  int64(len(data)),
		Pages: pages,
	}, nil
}

// ParseFile reads a local file and parses it like an upload.
func ParseFile(filePath string) (*models.Document, error) {
	if !Supported(filePath) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, string(fileType(filePath)))
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return Parse(filePath, data)
}

func fileType(name string) models.FileType {
	return models.FileType(strings.ToLower(filepath.Ext(name)))
}

// parsePDF extracts the text of every page. The pdf reader panics on
// corrupted input, so panics are turned into ErrMalformedPDF.
func parsePDF(data []byte) (pages []models.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: %v", ErrMalformedPDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPDF, err)
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrMalformedPDF, i, err)
		}
		text := cleanPDFText(pageText)
		if text == "" {
			continue
		}
		pages = append(pages, models.Page{Number: i, Text: text})
	}
	return pages, nil
}

func parseDOCX(data []byte) ([]models.Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	text := docxText(r.Editable().GetContent())
	if text == "" {
		return nil, nil
	}
	return []models.Page{{Number: defaultPageNumber, Text: text}}, nil
}

func parseText(data []byte) []models.Page {
	text := collapseBlankLines(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if text == "" {
		return nil
	}
	return []models.Page{{Number: defaultPageNumber, Text: text}}
}

// docxText turns the raw document.xml body into plain text, one paragraph per line.
func docxText(content string) string {
	content = docxParaEndRe.ReplaceAllString(content, "\n")
	content = docxTabRe.ReplaceAllString(content, "\t")
	content = xmlTagRe.ReplaceAllString(content, "")
	return collapseBlankLines(html.UnescapeString(content))
}

// cleanPDFText merges hyphenated words split over lines, joins lines broken
// in the middle of a sentence and collapses runs of blank lines.
func cleanPDFText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	text = joinBrokenLines(text)
	return collapseBlankLines(text)
}

// joinBrokenLines replaces a single newline with a space unless it is part of
// a paragraph break (a newline preceded or followed by whitespace and another
// newline).
func joinBrokenLines(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\n' {
			b.WriteByte(c)
			continue
		}
		prevBreak := i >= 2 && text[i-2] == '\n' && isSpace(text[i-1])
		nextBreak := i+2 < len(text) && isSpace(text[i+1]) && text[i+2] == '\n'
		if prevBreak || nextBreak {
			b.WriteByte(c)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func collapseBlankLines(text string) string {
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(text, "\n\n"))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
