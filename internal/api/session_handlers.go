package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docchatgo/internal/service/ai"
	"docchatgo/internal/session"
)

func (h *Handler) getSession(c *gin.Context) {
	var snap session.Snapshot
	if !h.withSession(c, false, func(_ context.Context, st *session.State) error {
		snap = st.Snapshot(h.sessions.Policy())
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Fields left out keep their current value.
type settingsRequest struct {
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	ChunkSize    *int     `json:"chunk_size"`
	ChunkOverlap *int     `json:"chunk_overlap"`
	MaxTokens    *int     `json:"max_tokens"`
}

func (r settingsRequest) apply(s session.Settings) session.Settings {
	if r.Model != nil {
		s.Model = strings.TrimSpace(*r.Model)
	}
	if r.Temperature != nil {
		s.Temperature = *r.Temperature
	}
	if r.ChunkSize != nil {
		s.ChunkSize = *r.ChunkSize
	}
	if r.ChunkOverlap != nil {
		s.ChunkOverlap = *r.ChunkOverlap
	}
	if r.MaxTokens != nil {
		s.MaxTokens = *r.MaxTokens
	}
	return s
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var snap session.Snapshot
	if !h.withSession(c, false, func(ctx context.Context, st *session.State) error {
		next := req.apply(st.Settings)
		if err := h.sessions.Policy().Validate(next); err != nil {
			return err
		}
		st.Settings = next
		h.sessions.Save(ctx, st)
		snap = st.Snapshot(h.sessions.Policy())
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, snap)
}

var keyProviders = map[string]bool{
	ai.ProviderOpenAI: true,
	ai.ProviderClaude: true,
	ai.ProviderGemini: true,
}

// setKey stores an API key typed into the session. It is kept for the
// session's lifetime only.
func (h *Handler) setKey(c *gin.Context) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = ai.ProviderOpenAI
	}
	if !keyProviders[provider] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	if !h.withSession(c, false, func(ctx context.Context, st *session.State) error {
		st.Keys[provider] = key
		h.sessions.Save(ctx, st)
		return nil
	}) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	h.workers.CancelSession(id)
	// queued behind a running job, so the state is not dropped mid-answer
	err := h.workers.Do(context.WithoutCancel(c.Request.Context()), id, func(ctx context.Context) error {
		h.sessions.Delete(ctx, id)
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.auth.ExpireSession(c)
	c.Status(http.StatusNoContent)
}
