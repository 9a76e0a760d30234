package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/session"

	"github.com/rs/zerolog/log"
)

// Submit validation errors. Their messages are shown to the user as is.
var (
	ErrAPIKeyNotConfigured = errors.New(models.MsgConfigureAPIKey)
	ErrNoDocument          = errors.New(models.MsgUploadDocument)
	ErrEmptyQuestion       = errors.New(models.MsgEnterQuestion)
)

var ErrFileTooLarge = errors.New("file is too large")

// Snapshot is everything a page render needs for one session.
type Snapshot struct {
	SessionID string
	State     session.State
	Document  *models.Document
	Chunks    int
	Indexed   bool
	Answer    *models.Answer
}

// DisplayedSources are the chunks for the sources pane: every retrieved chunk
// when the user asked for all of them, otherwise only the cited ones.
func (s *Snapshot) DisplayedSources() []models.Chunk {
	if s.Answer == nil {
		return nil
	}
	if s.State.ShowAllChunks {
		return s.Answer.Retrieved
	}
	return s.Answer.Sources
}

// AskOptions are the checkboxes sent with a question.
type AskOptions struct {
	ShowAllChunks bool
	ShowFullDoc   bool
}

// workspace holds the in-process part of a session. Its mutex serialises
// all interactions of that session.
type workspace struct {
	mu       sync.Mutex
	doc      *models.Document
	chunks   []models.Chunk
	index    *rag.Index
	answer   *models.Answer
	lastSeen time.Time
}

func (w *workspace) reset() {
	if w.index != nil {
		if err := w.index.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to drop index")
		}
	}
	w.doc, w.chunks, w.index, w.answer = nil, nil, nil, nil
}

// QAService drives parse, chunk, index, retrieve and answer for each
// session.
type QAService struct {
	cfg     *config.Config
	store   session.Store
	factory llmservice.Factory
	chunker *chunker.Chunker

	mu         sync.Mutex
	workspaces map[string]*workspace
	idleTTL    time.Duration
	now        func() time.Time
}

func NewQAService(cfg *config.Config, store session.Store, factory llmservice.Factory) *QAService {
	return &QAService{
		cfg:        cfg,
		store:      store,
		factory:    factory,
		chunker:    chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		workspaces: make(map[string]*workspace),
		idleTTL:    time.Duration(cfg.Session.TTLMinutes) * time.Minute,
		now:        time.Now,
	}
}

// MaxUploadBytes is the largest accepted upload.
func (s *QAService) MaxUploadBytes() int64 {
	return int64(s.cfg.RAG.MaxUploadMB) << 20
}

// Ping checks the session store.
func (s *QAService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// acquire returns the locked workspace and the stored state of a session.
// The caller must unlock ws.mu.
func (s *QAService) acquire(ctx context.Context, sid string) (*workspace, *session.State, error) {
	s.mu.Lock()
	now := s.now()
	for id, w := range s.workspaces {
		if id != sid && s.idleTTL > 0 && now.Sub(w.lastSeen) > s.idleTTL && w.mu.TryLock() {
			w.reset()
			w.mu.Unlock()
			delete(s.workspaces, id)
		}
	}
	ws, ok := s.workspaces[sid]
	if !ok {
		ws = &workspace{}
		s.workspaces[sid] = ws
	}
	ws.lastSeen = now
	s.mu.Unlock()

	ws.mu.Lock()
	state, found, err := s.store.Get(ctx, sid)
	if err != nil {
		ws.mu.Unlock()
		return nil, nil, err
	}
	if !found {
		// state expired or never existed, so nothing in memory is valid either
		ws.reset()
		state = &session.State{}
	}
	return ws, state, nil
}

func (s *QAService) save(ctx context.Context, sid string, state *session.State) error {
	if err := s.store.Save(ctx, sid, state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *QAService) snapshot(sid string, ws *workspace, state *session.State) *Snapshot {
	return &Snapshot{
		SessionID: sid,
		State:     *state,
		Document:  ws.doc,
		Chunks:    len(ws.chunks),
		Indexed:   ws.index != nil,
		Answer:    ws.answer,
	}
}

// Snapshot returns the current view of a session without changing it.
func (s *QAService) Snapshot(ctx context.Context, sid string) (*Snapshot, error) {
	ws, state, err := s.acquire(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer ws.mu.Unlock()
	return s.snapshot(sid, ws, state), nil
}

// SetAPIKey stores the key in the session. An already uploaded document is
// indexed again when the key changed or it is not indexed yet; if the
// provider rejects that call the key is marked as not configured.
func (s *QAService) SetAPIKey(ctx context.Context, sid, apiKey string) (*Snapshot, error) {
	ws, state, err := s.acquire(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer ws.mu.Unlock()

	apiKey = strings.TrimSpace(apiKey)
	unchanged := apiKey != "" && apiKey == state.APIKey && ws.index != nil
	state.APIKey = apiKey
	state.APIKeyConfigured = state.APIKey != ""
	state.Submitted = false

	var indexErr error
	if ws.doc != nil && state.APIKey != "" && !unchanged {
		indexErr = s.index(ctx, ws, state)
	}
	if err := s.save(ctx, sid, state); err != nil {
		return nil, err
	}
	return s.snapshot(sid, ws, state), indexErr
}

// Upload replaces the session document: parse, chunk and index. A parsed
// document is kept even when indexing fails so that setting a valid key
// later can finish the job.
func (s *QAService) Upload(ctx context.Context, sid, filename string, data []byte) (*Snapshot, error) {
	ws, state, err := s.acquire(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer ws.mu.Unlock()

	// a new upload discards the previous document whatever happens next
	ws.reset()
	state.Submitted = false
	state.DocumentName = ""
	if int64(len(data)) > s.MaxUploadBytes() {
		if err := s.save(ctx, sid, state); err != nil {
			return nil, err
		}
		return s.snapshot(sid, ws, state), fmt.Errorf("%w: limit is %d MB", ErrFileTooLarge, s.cfg.RAG.MaxUploadMB)
	}

	doc, err := parser.Parse(filename, data)
	if err != nil {
		if saveErr := s.save(ctx, sid, state); saveErr != nil {
			return nil, saveErr
		}
		return s.snapshot(sid, ws, state), err
	}
	chunks, err := s.chunker.Split(doc)
	if err != nil {
		return nil, err
	}

	ws.doc = doc
	ws.chunks = chunks
	state.DocumentName = doc.Name

	var indexErr error
	if state.APIKey == "" {
		state.APIKeyConfigured = false
		indexErr = ErrAPIKeyNotConfigured
	} else {
		indexErr = s.index(ctx, ws, state)
	}
	if err := s.save(ctx, sid, state); err != nil {
		return nil, err
	}
	return s.snapshot(sid, ws, state), indexErr
}

// index embeds the workspace chunks with the session key.
func (s *QAService) index(ctx context.Context, ws *workspace, state *session.State) error {
	embedder, err := s.factory.Embedder(state.APIKey)
	if err != nil {
		state.APIKeyConfigured = false
		if errors.Is(err, llmservice.ErrMissingAPIKey) {
			return ErrAPIKeyNotConfigured
		}
		return err
	}

	idx, err := rag.EmbedDocs(ctx, embedder, ws.chunks)
	if err != nil {
		state.APIKeyConfigured = false
		log.Warn().Err(err).Str("document", ws.doc.Name).Msg("Failed to index document")
		return err
	}
	if ws.index != nil {
		if err := ws.index.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to drop previous index")
		}
	}
	ws.index = idx
	ws.answer = nil
	state.APIKeyConfigured = true
	return nil
}

// RemoveDocument drops the uploaded document and its index.
func (s *QAService) RemoveDocument(ctx context.Context, sid string) (*Snapshot, error) {
	ws, state, err := s.acquire(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer ws.mu.Unlock()

	ws.reset()
	state.DocumentName = ""
	state.Submitted = false
	if err := s.save(ctx, sid, state); err != nil {
		return nil, err
	}
	return s.snapshot(sid, ws, state), nil
}

// SetOptions updates the display checkboxes. A previous answer is kept and
// shown with the new options, no API call is made.
func (s *QAService) SetOptions(ctx context.Context, sid string, opts AskOptions) (*Snapshot, error) {
	ws, state, err := s.acquire(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer ws.mu.Unlock()

	state.ShowAllChunks = opts.ShowAllChunks
	state.ShowFullDoc = opts.ShowFullDoc
	if err := s.save(ctx, sid, state); err != nil {
		return nil, err
	}
	return s.snapshot(sid, ws, state), nil
}

// Ask validates the submit, then retrieves the top chunks and asks the model.
// Validation failures make no API call.
func (s *QAService) Ask(ctx context.Context, sid, question string, opts AskOptions) (*Snapshot, error) {
	ws, state, err := s.acquire(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer ws.mu.Unlock()

	state.ShowAllChunks = opts.ShowAllChunks
	state.ShowFullDoc = opts.ShowFullDoc
	state.LastQuestion = question

	if err := validateSubmit(ws, state, question); err != nil {
		state.Submitted = false
		ws.answer = nil
		if saveErr := s.save(ctx, sid, state); saveErr != nil {
			return nil, saveErr
		}
		return s.snapshot(sid, ws, state), err
	}
	state.Submitted = true

	answer, err := s.answer(ctx, ws, state, question)
	if err != nil {
		ws.answer = nil
	} else {
		ws.answer = answer
	}
	if saveErr := s.save(ctx, sid, state); saveErr != nil {
		return nil, saveErr
	}
	return s.snapshot(sid, ws, state), err
}

func validateSubmit(ws *workspace, state *session.State, question string) error {
	switch {
	case !state.APIKeyConfigured || state.APIKey == "":
		return ErrAPIKeyNotConfigured
	case ws.index == nil:
		return ErrNoDocument
	case strings.TrimSpace(question) == "":
		return ErrEmptyQuestion
	}
	return nil
}

func (s *QAService) answer(ctx context.Context, ws *workspace, state *session.State, question string) (*models.Answer, error) {
	embedder, err := s.factory.Embedder(state.APIKey)
	if err != nil {
		return nil, err
	}
	llm, err := s.factory.LLM(state.APIKey)
	if err != nil {
		return nil, err
	}

	retrieved, err := rag.SearchDocs(ctx, embedder, ws.index, question, s.cfg.RAG.TopK)
	if err != nil {
		return nil, err
	}
	answer, err := rag.GetAnswer(ctx, llm, retrieved, question, s.cfg.LLM.Temperature)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("document", ws.doc.Name).
		Int("retrieved", len(answer.Retrieved)).
		Strs("sources", answer.SourceKeys).
		Msg("Answered question")
	return answer, nil
}

// Reset forgets everything about a session.
func (s *QAService) Reset(ctx context.Context, sid string) error {
	s.mu.Lock()
	ws, ok := s.workspaces[sid]
	delete(s.workspaces, sid)
	s.mu.Unlock()

	if ok {
		ws.mu.Lock()
		ws.reset()
		ws.mu.Unlock()
	}
	return s.store.Delete(ctx, sid)
}
