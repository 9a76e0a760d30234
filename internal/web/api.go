package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"document-qa/internal/app"
)

type setAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

type askRequest struct {
	Question      string `json:"question"`
	ShowAllChunks bool   `json:"show_all_chunks"`
	ShowFullDoc   bool   `json:"show_full_doc"`
}

type optionsRequest struct {
	ShowAllChunks bool `json:"show_all_chunks"`
	ShowFullDoc   bool `json:"show_full_doc"`
}

// respond writes the envelope for an interaction. Failed interactions still
// carry the session they left behind.
func respond(c *gin.Context, snap *app.Snapshot, err error) {
	if err == nil {
		OK(c, newSessionView(snap))
		return
	}

	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		message = "internal error"
	}
	var data interface{}
	if snap != nil {
		data = newSessionView(snap)
	}
	ErrorWithData(c, status, code, message, data)
}

func (h *Handler) APISession(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context(), sessionID(c))
	respond(c, snap, err)
}

func (h *Handler) APIResetSession(c *gin.Context) {
	if err := h.svc.Reset(c.Request.Context(), sessionID(c)); err != nil {
		respond(c, nil, err)
		return
	}
	OK(c, nil)
}

func (h *Handler) APISetAPIKey(c *gin.Context) {
	var req setAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, CodeBadRequest, "invalid request payload")
		return
	}
	snap, err := h.svc.SetAPIKey(c.Request.Context(), sessionID(c), req.APIKey)
	respond(c, snap, err)
}

func (h *Handler) APIUpload(c *gin.Context) {
	name, data, err := h.readUpload(c)
	if err != nil {
		respond(c, nil, err)
		return
	}
	snap, err := h.svc.Upload(c.Request.Context(), sessionID(c), name, data)
	respond(c, snap, err)
}

func (h *Handler) APIRemoveDocument(c *gin.Context) {
	snap, err := h.svc.RemoveDocument(c.Request.Context(), sessionID(c))
	respond(c, snap, err)
}

func (h *Handler) APIOptions(c *gin.Context) {
	var req optionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, CodeBadRequest, "invalid request payload")
		return
	}
	snap, err := h.svc.SetOptions(c.Request.Context(), sessionID(c), app.AskOptions{
		ShowAllChunks: req.ShowAllChunks,
		ShowFullDoc:   req.ShowFullDoc,
	})
	respond(c, snap, err)
}

func (h *Handler) APIAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, CodeBadRequest, "invalid request payload")
		return
	}
	snap, err := h.svc.Ask(c.Request.Context(), sessionID(c), req.Question, app.AskOptions{
		ShowAllChunks: req.ShowAllChunks,
		ShowFullDoc:   req.ShowFullDoc,
	})
	respond(c, snap, err)
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	store := dependencyStatus{OK: true}
	if err := h.svc.Ping(ctx); err != nil {
		store = dependencyStatus{OK: false, Message: err.Error()}
	}
	data := gin.H{
		"app": h.appName,
		"dependencies": gin.H{
			"session_store": store,
		},
	}
	if !store.OK {
		log.Warn().Str("error", store.Message).Msg("Session store unavailable")
		ErrorWithData(c, http.StatusServiceUnavailable, CodeUnavailable, "session store unavailable", data)
		return
	}
	OK(c, data)
}
