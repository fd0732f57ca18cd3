package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docchatgo/internal/knowledge"
	"docchatgo/internal/models"
	"docchatgo/internal/session"
)

func (h *Handler) brainUsage(c *gin.Context) {
	report, err := h.brain.Usage(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) addKnowledge(c *gin.Context) {
	name, data, ok := h.readUpload(c)
	if !ok {
		return
	}
	var doc *models.Document
	if !h.withSession(c, true, func(ctx context.Context, st *session.State) error {
		var err error
		doc, err = h.brain.AddFile(ctx, knowledge.AddRequest{
			Scope:   st.ID,
			Name:    name,
			Data:    data,
			Options: chunkOptions(st.Settings),
			Keys:    st.Keys,
		})
		return err
	}) {
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) addKnowledgeURL(c *gin.Context) {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	var doc *models.Document
	if !h.withSession(c, true, func(ctx context.Context, st *session.State) error {
		var err error
		doc, err = h.brain.AddURL(ctx, req.URL, chunkOptions(st.Settings), st.Keys)
		return err
	}) {
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// brainChat answers from the knowledge base. The usage banner is returned with
// every answer; going over the daily limit never blocks the chat.
func (h *Handler) brainChat(c *gin.Context) {
	question, ok := bindQuestion(c)
	if !ok {
		return
	}
	var answer string
	if !h.withSession(c, true, func(ctx context.Context, st *session.State) error {
		var err error
		answer, err = h.brain.Chat(ctx, knowledge.ChatRequest{
			Question: question,
			Spec:     modelSpec(st.Settings),
			Keys:     st.Keys,
			Memory:   &st.BrainMemory,
		})
		return err
	}) {
		return
	}
	resp := gin.H{"answer": answer}
	if report, err := h.brain.Usage(c.Request.Context()); err == nil {
		resp["usage"] = report
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listKnowledge(c *gin.Context) {
	docs, err := h.brain.Documents(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if docs == nil {
		docs = make([]models.Document, 0)
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *Handler) getKnowledge(c *gin.Context) {
	name := c.Param("name")
	chunks, err := h.brain.DocumentChunks(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": name, "chunks": chunks})
}

func (h *Handler) forgetKnowledge(c *gin.Context) {
	if err := h.brain.Forget(c.Request.Context(), c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
