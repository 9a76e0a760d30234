package web

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"

	"document-qa/internal/app"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
)

type notice struct {
	Level string
	Text  string
}

type sourceView struct {
	Label   string
	Content template.HTML
	Score   float32
}

type pageData struct {
	AppName       string
	MaskedKey     string
	KeyConfigured bool
	MaxUploadMB   int
	Accept        string

	DocumentName string
	Pages        int
	Chunks       int
	Indexed      bool
	DocumentHTML template.HTML

	Question      string
	ShowAllChunks bool
	ShowFullDoc   bool
	Submitted     bool

	Notices    []notice
	HasAnswer  bool
	AnswerHTML template.HTML
	Sources    []sourceView
}

func newPageData(appName string, maxUploadMB int, snap *app.Snapshot) *pageData {
	data := &pageData{
		AppName:       appName,
		MaskedKey:     helper.MaskAPIKey(snap.State.APIKey),
		KeyConfigured: snap.State.APIKeyConfigured,
		MaxUploadMB:   maxUploadMB,
		Accept:        ".pdf,.docx,.txt",
		DocumentName:  snap.State.DocumentName,
		Chunks:        snap.Chunks,
		Indexed:       snap.Indexed,
		Question:      snap.State.LastQuestion,
		ShowAllChunks: snap.State.ShowAllChunks,
		ShowFullDoc:   snap.State.ShowFullDoc,
		Submitted:     snap.State.Submitted,
	}
	if snap.Document != nil {
		data.Pages = len(snap.Document.Pages)
		if snap.State.ShowFullDoc {
			data.DocumentHTML = template.HTML(helper.DocumentToHTML(snap.Document))
		}
	}
	if snap.State.Submitted && snap.Answer != nil {
		data.HasAnswer = true
		answerHTML, err := helper.MarkdownToHTML(snap.Answer.Text)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to render answer")
			answerHTML = helper.WrapTextInHTML(snap.Answer.Text)
		}
		data.AnswerHTML = template.HTML(answerHTML)
		for _, src := range snap.DisplayedSources() {
			data.Sources = append(data.Sources, newSourceView(src))
		}
	}
	return data
}

func newSourceView(chunk models.Chunk) sourceView {
	content, err := helper.MarkdownToHTML(chunk.Content)
	if err != nil {
		content = helper.WrapTextInHTML(chunk.Content)
	}
	return sourceView{Label: chunk.Source, Content: template.HTML(content), Score: chunk.Score}
}

func (d *pageData) addNotice(level, text string) {
	d.Notices = append(d.Notices, notice{Level: level, Text: text})
}

// addError turns an interaction error into a message for the page.
func (d *pageData) addError(err error) {
	status, _ := classifyError(err)
	level := "error"
	if status == http.StatusBadRequest {
		level = "warning"
	}
	if status == http.StatusInternalServerError {
		d.addNotice(level, "Something went wrong, please try again.")
		return
	}
	d.addNotice(level, err.Error())
}

// classifyError maps an error to the HTTP status and API code reported for it.
func classifyError(err error) (int, int) {
	var pe *rag.ProviderError
	switch {
	case errors.Is(err, app.ErrAPIKeyNotConfigured):
		return http.StatusBadRequest, CodeAPIKeyNotConfigured
	case errors.Is(err, app.ErrNoDocument):
		return http.StatusBadRequest, CodeNoDocument
	case errors.Is(err, app.ErrEmptyQuestion), errors.Is(err, embedding.ErrEmptyQuery):
		return http.StatusBadRequest, CodeEmptyQuestion
	case errors.Is(err, app.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, CodeFileTooLarge
	case errors.Is(err, parser.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType, CodeUnsupportedFileType
	case errors.Is(err, parser.ErrNoText), errors.Is(err, parser.ErrMalformedPDF), errors.Is(err, embedding.ErrNoChunks):
		return http.StatusUnprocessableEntity, CodeNoText
	case errors.As(err, &pe):
		return http.StatusBadGateway, CodeProviderError
	default:
		return http.StatusInternalServerError, CodeInternalServer
	}
}

// sessionView is the JSON form of a session.
type sessionView struct {
	SessionID        string        `json:"session_id"`
	APIKey           string        `json:"api_key,omitempty"`
	APIKeyConfigured bool          `json:"api_key_configured"`
	Submitted        bool          `json:"submitted"`
	ShowAllChunks    bool          `json:"show_all_chunks"`
	ShowFullDoc      bool          `json:"show_full_doc"`
	Document         *documentView `json:"document,omitempty"`
	Answer           *answerView   `json:"answer,omitempty"`
}

type documentView struct {
	Name    string          `json:"name"`
	Type    models.FileType `json:"type"`
	Size    int64           `json:"size"`
	Pages   int             `json:"pages"`
	Chunks  int             `json:"chunks"`
	Indexed bool            `json:"indexed"`
	Text    string          `json:"text,omitempty"`
}

type answerView struct {
	Question   string         `json:"question"`
	Answer     string         `json:"answer"`
	SourceKeys []string       `json:"source_keys"`
	Sources    []models.Chunk `json:"sources"`
}

func newSessionView(snap *app.Snapshot) *sessionView {
	view := &sessionView{
		SessionID:        snap.SessionID,
		APIKey:           helper.MaskAPIKey(snap.State.APIKey),
		APIKeyConfigured: snap.State.APIKeyConfigured,
		Submitted:        snap.State.Submitted,
		ShowAllChunks:    snap.State.ShowAllChunks,
		ShowFullDoc:      snap.State.ShowFullDoc,
	}
	if doc := snap.Document; doc != nil {
		view.Document = &documentView{
			Name:    doc.Name,
			Type:    doc.Type,
			Size:    doc.Size,
			Pages:   len(doc.Pages),
			Chunks:  snap.Chunks,
			Indexed: snap.Indexed,
		}
		if snap.State.ShowFullDoc {
			view.Document.Text = doc.Text()
		}
	}
	if snap.State.Submitted && snap.Answer != nil {
		view.Answer = &answerView{
			Question:   snap.Answer.Query,
			Answer:     snap.Answer.Text,
			SourceKeys: snap.Answer.SourceKeys,
			Sources:    snap.DisplayedSources(),
		}
		if view.Answer.SourceKeys == nil {
			view.Answer.SourceKeys = []string{}
		}
		if view.Answer.Sources == nil {
			view.Answer.Sources = []models.Chunk{}
		}
	}
	return view
}
