package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docchatgo/internal/auth"
	"docchatgo/internal/history"
	"docchatgo/internal/index"
	"docchatgo/internal/knowledge"
	"docchatgo/internal/service/ai"
	"docchatgo/internal/session"
	"docchatgo/internal/table"
	"docchatgo/internal/worker"
)

type WorkerManager interface {
	Do(ctx context.Context, sessionID string, task worker.Task) error
	CancelSession(sessionID string)
	Stats() worker.Stats
}

// Deps are the services the handlers are wired to.
type Deps struct {
	Sessions  *session.Store
	Workers   WorkerManager
	Auth      *auth.Service
	Provider  ai.Provider
	Builder   *index.Builder
	Extractor *knowledge.Extractor
	Brain     *knowledge.Brain
	Asker     *table.Asker
	Logger    *zap.Logger
}

// Handler wires HTTP routes to session state. Every read or write of a session's
// state runs as a job of that session on the worker manager.
type Handler struct {
	sessions  *session.Store
	workers   WorkerManager
	auth      *auth.Service
	provider  ai.Provider
	builder   *index.Builder
	extractor *knowledge.Extractor
	brain     *knowledge.Brain
	asker     *table.Asker
	logger    *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:  d.Sessions,
		workers:   d.Workers,
		auth:      d.Auth,
		provider:  d.Provider,
		builder:   d.Builder,
		extractor: d.Extractor,
		brain:     d.Brain,
		asker:     d.Asker,
		logger:    logger.Named("api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)

	scoped := api.Group("")
	scoped.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())

	scoped.GET("/session", h.getSession)
	scoped.PUT("/session/settings", h.updateSettings)
	scoped.POST("/session/key", h.setKey)
	scoped.DELETE("/session", h.deleteSession)

	doc := scoped.Group("/doc")
	doc.POST("/upload", h.uploadDocument)
	doc.POST("/chat", h.docChat)
	doc.POST("/reset", h.resetChat)
	doc.GET("/transcript", h.getTranscript)

	brain := scoped.Group("/brain")
	brain.GET("/usage", h.brainUsage)
	brain.POST("/knowledge", h.addKnowledge)
	brain.POST("/knowledge/url", h.addKnowledgeURL)
	brain.POST("/chat", h.brainChat)
	brain.GET("/documents", h.listKnowledge)
	brain.GET("/documents/:name", h.getKnowledge)
	brain.DELETE("/documents/:name", h.forgetKnowledge)

	tbl := scoped.Group("/table")
	tbl.POST("/upload", h.uploadTable)
	tbl.GET("", h.getTable)
	tbl.POST("/query", h.queryTable)
	tbl.DELETE("", h.clearTable)
}

func (h *Handler) health(c *gin.Context) {
	stats := h.workers.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.Len(),
		"workers":  stats.Workers,
		"idle":     stats.Idle,
		"pending":  stats.Pending,
	})
}

func (h *Handler) sessionID(c *gin.Context) (string, bool) {
	id, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return "", false
	}
	return id, true
}

// withSession runs fn on the session's state as one job of that session.
// Detached jobs keep running when the client goes away: a submitted question
// or upload is never cancelled half way.
func (h *Handler) withSession(c *gin.Context, detach bool, fn func(ctx context.Context, st *session.State) error) bool {
	id, ok := h.sessionID(c)
	if !ok {
		return false
	}
	ctx := c.Request.Context()
	if detach {
		ctx = context.WithoutCancel(ctx)
	}
	err := h.workers.Do(ctx, id, func(ctx context.Context) error {
		return fn(ctx, h.sessions.Get(ctx, id))
	})
	if err != nil {
		h.fail(c, err)
		return false
	}
	return true
}

var errNoDocument = errors.New("upload a document first")

func statusFor(err error) int {
	var ext *ai.ExternalError
	switch {
	case errors.Is(err, ai.ErrAPIKeyMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, knowledge.ErrDocumentNotFound),
		errors.Is(err, table.ErrNoTable):
		return http.StatusNotFound
	case errors.Is(err, knowledge.ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, ai.ErrEmptyQuestion),
		errors.Is(err, ai.ErrUnknownModel),
		errors.Is(err, session.ErrInvalidSetting),
		errors.Is(err, history.ErrInvalidRole),
		errors.Is(err, knowledge.ErrUnsupportedFile),
		errors.Is(err, knowledge.ErrNoText),
		errors.Is(err, knowledge.ErrNameRequired),
		errors.Is(err, knowledge.ErrInvalidURL),
		errors.Is(err, table.ErrEmptyCSV),
		errors.Is(err, errNoDocument):
		return http.StatusBadRequest
	case errors.As(err, &ext):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if errors.Is(err, worker.ErrDispatcherBusy) {
		msg = "server is busy, please retry"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

type questionRequest struct {
	Question string `json:"question"`
}

func bindQuestion(c *gin.Context) (string, bool) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return "", false
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": ai.ErrEmptyQuestion.Error()})
		return "", false
	}
	return q, true
}

// readUpload reads the multipart "file" field fully into memory within the deployment's upload limit.
func (h *Handler) readUpload(c *gin.Context) (string, []byte, bool) {
	limit := h.sessions.Policy().MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+(1<<20))
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return "", nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return "", nil, false
	}
	if file.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file too large, limit is %d bytes", limit)})
		return "", nil, false
	}
	data, err := readFile(file, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return "", nil, false
	}
	return filepath.Base(file.Filename), data, true
}

func readFile(file *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

func modelSpec(s session.Settings) ai.ModelSpec {
	return ai.ModelSpec{Model: s.Model, Temperature: s.Temperature, MaxTokens: s.MaxTokens}
}

func chunkOptions(s session.Settings) index.Options {
	return index.Options{ChunkSize: s.ChunkSize, ChunkOverlap: s.ChunkOverlap}
}
