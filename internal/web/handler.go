package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"document-qa/internal/app"
)

type Handler struct {
	svc     *app.QAService
	appName string
	maxMB   int
}

func NewHandler(svc *app.QAService, appName string, maxUploadMB int) *Handler {
	return &Handler{svc: svc, appName: appName, maxMB: maxUploadMB}
}

// render draws the whole page from the session snapshot plus the outcome of
// the interaction that led here.
func (h *Handler) render(c *gin.Context, snap *app.Snapshot, err error, success string) {
	if snap == nil {
		var snapErr error
		snap, snapErr = h.svc.Snapshot(c.Request.Context(), sessionID(c))
		if snapErr != nil {
			log.Error().Err(snapErr).Msg("Failed to load session")
			c.String(http.StatusInternalServerError, "session unavailable")
			return
		}
	}

	data := newPageData(h.appName, h.maxMB, snap)
	if err != nil {
		data.addError(err)
	} else if success != "" {
		data.addNotice("success", success)
	}
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) Index(c *gin.Context) {
	h.render(c, nil, nil, "")
}

func (h *Handler) SetAPIKey(c *gin.Context) {
	snap, err := h.svc.SetAPIKey(c.Request.Context(), sessionID(c), c.PostForm("api_key"))
	success := ""
	if err == nil && snap.Indexed {
		success = "API key saved and document indexed."
	} else if err == nil {
		success = "API key saved."
	}
	h.render(c, snap, err, success)
}

func (h *Handler) Upload(c *gin.Context) {
	name, data, err := h.readUpload(c)
	if err != nil {
		h.render(c, nil, err, "")
		return
	}
	snap, err := h.svc.Upload(c.Request.Context(), sessionID(c), name, data)
	if err != nil {
		log.Warn().Err(err).Str("file", name).Msg("Upload failed")
	}
	success := ""
	if err == nil {
		success = fmt.Sprintf("Indexed %s (%d chunks).", snap.State.DocumentName, snap.Chunks)
	}
	h.render(c, snap, err, success)
}

func (h *Handler) RemoveDocument(c *gin.Context) {
	snap, err := h.svc.RemoveDocument(c.Request.Context(), sessionID(c))
	h.render(c, snap, err, "")
}

func (h *Handler) Options(c *gin.Context) {
	snap, err := h.svc.SetOptions(c.Request.Context(), sessionID(c), formOptions(c))
	h.render(c, snap, err, "")
}

func (h *Handler) Ask(c *gin.Context) {
	snap, err := h.svc.Ask(c.Request.Context(), sessionID(c), c.PostForm("question"), formOptions(c))
	h.render(c, snap, err, "")
}

func formOptions(c *gin.Context) app.AskOptions {
	return app.AskOptions{
		ShowAllChunks: c.PostForm("show_all_chunks") != "",
		ShowFullDoc:   c.PostForm("show_full_doc") != "",
	}
}

// readUpload reads the "file" form field, enforcing the upload limit.
func (h *Handler) readUpload(c *gin.Context) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, fmt.Errorf("%w: limit is %d MB", app.ErrFileTooLarge, h.maxMB)
		}
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, app.ErrNoDocument
		}
		return "", nil, err
	}
	data, err := readFileHeader(fh, h.svc.MaxUploadBytes())
	if err != nil {
		return "", nil, err
	}
	return fh.Filename, data, nil
}

func readFileHeader(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if fh.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes", app.ErrFileTooLarge, fh.Size)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}
