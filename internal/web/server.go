package web

import (
	"embed"
	"html/template"
	"time"

	"github.com/gin-gonic/gin"

	"document-qa/internal/app"
	"document-qa/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

// multipart framing on top of the file itself
const uploadOverhead = 1 << 20

func NewRouter(cfg *config.Config, svc *app.QAService) *gin.Engine {
	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(RequestLogger(), gin.Recovery())
	router.SetHTMLTemplate(template.Must(template.New("").ParseFS(templateFS, "templates/*.html")))

	h := NewHandler(svc, cfg.App.Name, cfg.RAG.MaxUploadMB)
	router.GET("/healthz", h.Health)

	sessions := SessionCookie(cfg.Session.CookieName, time.Duration(cfg.Session.TTLMinutes)*time.Minute)
	limit := LimitBody(svc.MaxUploadBytes() + uploadOverhead)

	pages := router.Group("/", sessions)
	pages.GET("/", h.Index)
	pages.POST("/api-key", h.SetAPIKey)
	pages.POST("/upload", limit, h.Upload)
	pages.POST("/document/remove", h.RemoveDocument)
	pages.POST("/options", h.Options)
	pages.POST("/ask", h.Ask)

	v1 := router.Group("/api/v1", sessions)
	v1.GET("/session", h.APISession)
	v1.DELETE("/session", h.APIResetSession)
	v1.PUT("/api-key", h.APISetAPIKey)
	v1.POST("/documents", limit, h.APIUpload)
	v1.DELETE("/documents", h.APIRemoveDocument)
	v1.PUT("/options", h.APIOptions)
	v1.POST("/ask", h.APIAsk)

	return router
}
