package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/app"
	"document-qa/internal/config"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/session"
	"document-qa/internal/testutil"
)

type testServer struct {
	router  *gin.Engine
	factory *llmservice.MockFactory
	sid     string
}

func newTestServer(t *testing.T, store session.Store, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.App.GinMode = gin.TestMode
	if mutate != nil {
		mutate(cfg)
	}
	if store == nil {
		store = session.NewMemoryStore(time.Hour)
	}
	f := llmservice.NewMockFactory()
	svc := app.NewQAService(cfg, store, f)
	return &testServer{router: NewRouter(cfg, svc), factory: f, sid: session.NewID()}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set(sessionHeader, s.sid)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(t, req)
}

func (s *testServer) upload(t *testing.T, path, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(t, req)
}

func (s *testServer) sendJSON(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) (envelope, sessionView) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	var view sessionView
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &view))
	}
	return env, view
}

func samplePDF() []byte {
	return testutil.PDF(
		[]string{"The capital of France is Paris.", "Paris hosts the Louvre museum."},
		[]string{"Photosynthesis converts sunlight into chemical energy."},
	)
}

func TestIndex_SetsSessionCookie(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<title>document-qa</title>")
	assert.Contains(t, w.Body.String(), "OpenAI API Key")

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "docqa_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, session.ValidID(cookie.Value))
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, cookie.Value, w.Header().Get(sessionHeader))

	// the cookie identifies the session on the next request
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, cookie.Value, w.Header().Get(sessionHeader))
}

func TestPage_SubmitValidation(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	w := srv.postForm(t, "/ask", url.Values{"question": {"What is the capital?"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Please configure your OpenAI API key!")
	assert.NotContains(t, w.Body.String(), `id="answer"`)

	srv.postForm(t, "/api-key", url.Values{"api_key": {"sk-test-1234567890"}})
	w = srv.postForm(t, "/ask", url.Values{"question": {"What is the capital?"}})
	assert.Contains(t, w.Body.String(), "Please upload a document!")

	srv.upload(t, "/upload", "doc.pdf", samplePDF())
	w = srv.postForm(t, "/ask", url.Values{"question": {"   "}})
	assert.Contains(t, w.Body.String(), "Please enter a question!")
	assert.NotContains(t, w.Body.String(), `id="answer"`)

	_, complete := srv.factory.Calls()
	assert.Zero(t, complete)
}

func TestPage_AskShowsCitedSources(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	srv.factory.Responses = []string{"The capital of France is **Paris**.\nSOURCES: doc.pdf-page-1"}

	w := srv.postForm(t, "/api-key", url.Values{"api_key": {"sk-test-1234567890"}})
	body := w.Body.String()
	assert.Contains(t, body, "API key saved.")
	assert.Contains(t, body, "sk-***********7890")
	assert.NotContains(t, body, "sk-test-1234567890")

	w = srv.upload(t, "/upload", "doc.pdf", samplePDF())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Indexed doc.pdf")

	w = srv.postForm(t, "/ask", url.Values{"question": {"What is the capital of France?"}})
	body = w.Body.String()
	require.Contains(t, body, `id="answer"`)
	assert.Contains(t, body, "The capital of France is <strong>Paris</strong>.")
	assert.NotContains(t, body, "SOURCES:")

	sources := body[strings.Index(body, `id="sources"`):]
	assert.Contains(t, sources, "doc.pdf-page-1")
	assert.Contains(t, sources, "Louvre")
	assert.NotContains(t, sources, "doc.pdf-page-2")

	// showing every retrieved chunk needs no new completion
	w = srv.postForm(t, "/options", url.Values{"show_all_chunks": {"1"}, "show_full_doc": {"1"}})
	body = w.Body.String()
	sources = body[strings.Index(body, `id="sources"`):]
	assert.Contains(t, sources, "doc.pdf-page-2")
	assert.Contains(t, body, "Photosynthesis converts sunlight")
	assert.Contains(t, body, `<div class="document">The capital of France is Paris.`)
	assert.Contains(t, body, "\n<hr/>\n")
	_, complete := srv.factory.Calls()
	assert.Equal(t, 1, complete)
}

func TestPage_AnswerWithOnlySourcesLine(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	srv.factory.Responses = []string{"SOURCES: doc.pdf-page-1"}

	srv.postForm(t, "/api-key", url.Values{"api_key": {"sk-test-1234567890"}})
	srv.upload(t, "/upload", "doc.pdf", samplePDF())
	w := srv.postForm(t, "/ask", url.Values{"question": {"What is the capital of France?"}})
	body := w.Body.String()

	require.Contains(t, body, `id="answer"`)
	require.Contains(t, body, `id="sources"`)
	sources := body[strings.Index(body, `id="sources"`):]
	assert.Contains(t, sources, "doc.pdf-page-1")
	assert.NotContains(t, sources, "doc.pdf-page-2")
	assert.NotContains(t, sources, "No sources cited.")
}

func TestPage_MalformedPDF(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	srv.postForm(t, "/api-key", url.Values{"api_key": {"sk-test-1234567890"}})
	w := srv.upload(t, "/upload", "doc.pdf", samplePDF())
	require.Contains(t, w.Body.String(), "Document: <strong>doc.pdf</strong>")

	broken := samplePDF()
	for i := 20; i < len(broken)/2; i++ {
		broken[i] = 'x'
	}
	w = srv.upload(t, "/upload", "doc.pdf", broken)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "malformed PDF")
	assert.Contains(t, body, `id="question"`, "the rest of the page still renders")
	assert.NotContains(t, body, "Document: <strong>")

	w = srv.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotContains(t, w.Body.String(), "Document: <strong>")
}

func TestPage_UploadErrors(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	w := srv.upload(t, "/upload", "sheet.xlsx", []byte("data"))
	assert.Contains(t, w.Body.String(), "unsupported file type")

	w = srv.upload(t, "/upload", "doc.txt", []byte("some text"))
	assert.Contains(t, w.Body.String(), "Please configure your OpenAI API key!")
	assert.Contains(t, w.Body.String(), "not indexed")

	srv.factory.EmbedErr = assert.AnError
	w = srv.postForm(t, "/api-key", url.Values{"api_key": {"sk-bad"}})
	assert.Contains(t, w.Body.String(), assert.AnError.Error())
}

func TestAPI_Flow(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	srv.factory.Responses = []string{"Paris.\nSOURCES: doc.pdf-page-1"}

	w := srv.sendJSON(t, http.MethodPost, "/api/v1/ask", askRequest{Question: "capital?"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env, view := decodeEnvelope(t, w)
	assert.Equal(t, CodeAPIKeyNotConfigured, env.Code)
	assert.Equal(t, models.MsgConfigureAPIKey, env.Message)
	assert.Equal(t, srv.sid, view.SessionID)
	assert.False(t, view.Submitted)

	w = srv.sendJSON(t, http.MethodPut, "/api/v1/api-key", setAPIKeyRequest{APIKey: "sk-test-1234567890"})
	require.Equal(t, http.StatusOK, w.Code)
	_, view = decodeEnvelope(t, w)
	assert.True(t, view.APIKeyConfigured)
	assert.Equal(t, "sk-***********7890", view.APIKey)

	w = srv.sendJSON(t, http.MethodPost, "/api/v1/ask", askRequest{Question: "capital?"})
	env, _ = decodeEnvelope(t, w)
	assert.Equal(t, CodeNoDocument, env.Code)

	w = srv.upload(t, "/api/v1/documents", "doc.pdf", samplePDF())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, view = decodeEnvelope(t, w)
	require.NotNil(t, view.Document)
	assert.Equal(t, "doc.pdf", view.Document.Name)
	assert.Equal(t, 2, view.Document.Pages)
	assert.True(t, view.Document.Indexed)

	w = srv.sendJSON(t, http.MethodPost, "/api/v1/ask", askRequest{Question: " "})
	env, _ = decodeEnvelope(t, w)
	assert.Equal(t, CodeEmptyQuestion, env.Code)

	w = srv.sendJSON(t, http.MethodPost, "/api/v1/ask", askRequest{Question: "What is the capital of France?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, view = decodeEnvelope(t, w)
	assert.True(t, view.Submitted)
	require.NotNil(t, view.Answer)
	assert.Equal(t, "Paris.", view.Answer.Answer)
	assert.Equal(t, []string{"doc.pdf-page-1"}, view.Answer.SourceKeys)
	require.Len(t, view.Answer.Sources, 1)
	assert.Equal(t, "doc.pdf-page-1", view.Answer.Sources[0].Source)

	w = srv.sendJSON(t, http.MethodPut, "/api/v1/options", optionsRequest{ShowAllChunks: true})
	_, view = decodeEnvelope(t, w)
	require.NotNil(t, view.Answer)
	assert.Len(t, view.Answer.Sources, 2)

	w = srv.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/documents", nil))
	_, view = decodeEnvelope(t, w)
	assert.Nil(t, view.Document)
	assert.Nil(t, view.Answer)

	w = srv.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = srv.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	_, view = decodeEnvelope(t, w)
	assert.False(t, view.APIKeyConfigured)
	assert.Empty(t, view.APIKey)
}

func TestAPI_ErrorCodes(t *testing.T) {
	t.Run("bad payload", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := srv.do(t, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env, _ := decodeEnvelope(t, w)
		assert.Equal(t, CodeBadRequest, env.Code)
	})

	t.Run("unsupported type", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		w := srv.upload(t, "/api/v1/documents", "slides.pptx", []byte("data"))
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		env, _ := decodeEnvelope(t, w)
		assert.Equal(t, CodeUnsupportedFileType, env.Code)
	})

	t.Run("too large", func(t *testing.T) {
		srv := newTestServer(t, nil, func(cfg *config.Config) { cfg.RAG.MaxUploadMB = 1 })
		w := srv.upload(t, "/api/v1/documents", "big.txt", bytes.Repeat([]byte("a "), 600<<10))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		env, _ := decodeEnvelope(t, w)
		assert.Equal(t, CodeFileTooLarge, env.Code)
	})

	t.Run("no text", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		w := srv.upload(t, "/api/v1/documents", "blank.txt", []byte(" \n\n "))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		env, _ := decodeEnvelope(t, w)
		assert.Equal(t, CodeNoText, env.Code)
	})

	t.Run("malformed pdf", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		w := srv.upload(t, "/api/v1/documents", "doc.pdf", samplePDF()[:200])
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		env, view := decodeEnvelope(t, w)
		assert.Equal(t, CodeNoText, env.Code)
		assert.Contains(t, env.Message, "malformed PDF")
		assert.Nil(t, view.Document)
	})

	t.Run("provider rejects key", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		srv.factory.EmbedErr = assert.AnError
		srv.sendJSON(t, http.MethodPut, "/api/v1/api-key", setAPIKeyRequest{APIKey: "sk-bad"})

		w := srv.upload(t, "/api/v1/documents", "doc.txt", []byte("Paris is the capital of France."))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		env, view := decodeEnvelope(t, w)
		assert.Equal(t, CodeProviderError, env.Code)
		assert.Contains(t, env.Message, assert.AnError.Error())
		assert.False(t, view.APIKeyConfigured)
		require.NotNil(t, view.Document)
		assert.False(t, view.Document.Indexed)
	})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	w := srv.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":0`)
	assert.Contains(t, w.Body.String(), `"session_store":{"ok":true}`)

	mr := miniredis.RunT(t)
	client, err := session.NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	srv = newTestServer(t, session.NewRedisStore(client, time.Hour), nil)
	w = srv.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mr.Close()
	w = srv.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, CodeUnavailable, env.Code)
	assert.Equal(t, "session store unavailable", env.Message)
	assert.Contains(t, string(env.Data), `"ok":false`)
}

func TestNewPageData(t *testing.T) {
	doc := &models.Document{
		Name:  "doc.pdf",
		Type:  models.FileTypePDF,
		Pages: []models.Page{{Number: 1, Text: "Paris <b>is</b> big."}, {Number: 2, Text: "Second."}},
	}
	cited := models.Chunk{ID: "1-1", Content: "Paris is big.", Source: "doc.pdf-page-1", Score: 0.9}
	other := models.Chunk{ID: "2-1", Content: "Second.", Source: "doc.pdf-page-2", Score: 0.1}
	snap := &app.Snapshot{
		State: session.State{
			APIKey:           "sk-abcdefghijkl",
			APIKeyConfigured: true,
			DocumentName:     "doc.pdf",
		},
		Document: doc,
		Chunks:   2,
		Indexed:  true,
		Answer: &models.Answer{
			Text:       "Paris.",
			SourceKeys: []string{"doc.pdf-page-1"},
			Sources:    []models.Chunk{cited},
			Retrieved:  []models.Chunk{cited, other},
		},
	}

	data := newPageData("document-qa", 10, snap)
	assert.Equal(t, "sk-********ijkl", data.MaskedKey)
	assert.Equal(t, 2, data.Pages)
	assert.Empty(t, data.DocumentHTML)
	assert.False(t, data.HasAnswer)
	assert.Empty(t, data.AnswerHTML, "answer is hidden until submitted")
	assert.Empty(t, data.Sources)

	snap.State.Submitted = true
	snap.State.ShowFullDoc = true
	data = newPageData("document-qa", 10, snap)
	assert.Contains(t, string(data.DocumentHTML), "Paris &lt;b&gt;is&lt;/b&gt; big.")
	assert.True(t, data.HasAnswer)
	assert.Contains(t, string(data.AnswerHTML), "<p>Paris.</p>")
	require.Len(t, data.Sources, 1)
	assert.Equal(t, "doc.pdf-page-1", data.Sources[0].Label)

	snap.State.ShowAllChunks = true
	data = newPageData("document-qa", 10, snap)
	require.Len(t, data.Sources, 2)
	assert.Equal(t, "doc.pdf-page-2", data.Sources[1].Label)
}

func TestClassifyError(t *testing.T) {
	status, code := classifyError(app.ErrEmptyQuestion)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeEmptyQuestion, code)

	status, code = classifyError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternalServer, code)

	data := &pageData{}
	data.addError(assert.AnError)
	require.Len(t, data.Notices, 1)
	assert.Equal(t, "Something went wrong, please try again.", data.Notices[0].Text)
}
