package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docchatgo/internal/history"
	"docchatgo/internal/knowledge"
	"docchatgo/internal/models"
	"docchatgo/internal/service/ai"
	"docchatgo/internal/session"
)

const docTopK = 4

type renderedMessage struct {
	Key     string      `json:"key"`
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

func renderTranscript(t *history.Transcript) []renderedMessage {
	out := make([]renderedMessage, 0, t.Len())
	_ = t.GenerateMessages(history.RenderFunc(func(key string, msg models.Message) error {
		out = append(out, renderedMessage{Key: key, Role: msg.Role, Content: msg.Content})
		return nil
	}))
	return out
}

// uploadDocument opens a document for chat: the transcript is scoped to its file
// name and the cached index for that name is reused unless refresh is set.
func (h *Handler) uploadDocument(c *gin.Context) {
	name, data, ok := h.readUpload(c)
	if !ok {
		return
	}
	if !knowledge.SupportedFile(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	refresh, _ := strconv.ParseBool(c.PostForm("refresh"))

	var (
		chunks    int
		indexedAt time.Time
		messages  []renderedMessage
	)
	if !h.withSession(c, true, func(ctx context.Context, st *session.State) error {
		emb, err := h.provider.Embedder(ctx, st.Keys)
		if err != nil {
			return err
		}
		st.OpenDocument(name)
		messages = renderTranscript(&st.Transcript)

		text, err := h.extractor.FileText(ctx, st.ID, name, data)
		if err != nil {
			return err
		}
		if refresh {
			if err := h.builder.Invalidate(name); err != nil {
				return err
			}
		}
		ix, err := h.builder.Build(ctx, emb, name, []byte(text), chunkOptions(st.Settings))
		if err != nil {
			return err
		}
		st.Index = ix
		st.Ready = true
		chunks = len(ix.Entries)
		indexedAt = ix.CreatedAt
		return nil
	}) {
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"document":   name,
		"chunks":     chunks,
		"indexed_at": indexedAt,
		"ready":      true,
		"messages":   messages,
	})
}

func (h *Handler) docChat(c *gin.Context) {
	question, ok := bindQuestion(c)
	if !ok {
		return
	}
	var (
		answer   string
		messages []renderedMessage
	)
	if !h.withSession(c, true, func(ctx context.Context, st *session.State) error {
		if !st.Ready || st.Index == nil {
			return errNoDocument
		}
		chatModel, err := h.provider.ChatModel(ctx, modelSpec(st.Settings), st.Keys)
		if err != nil {
			return err
		}
		emb, err := h.provider.Embedder(ctx, st.Keys)
		if err != nil {
			return err
		}
		if st.ResetChat {
			st.ResetTranscript(st.Document)
		}
		st.Transcript.Initialize(st.Document)
		if err := st.Transcript.Append(history.RoleUser, question); err != nil {
			return err
		}
		bot, err := ai.NewChatbot(chatModel, st.Index.AsRetriever(emb, docTopK), &st.DocMemory, h.logger)
		if err != nil {
			st.Transcript.DropPending()
			return err
		}
		answer, err = bot.Answer(ctx, question)
		if err != nil {
			st.Transcript.DropPending()
			return err
		}
		if err := st.Transcript.Append(history.RoleAssistant, answer); err != nil {
			return err
		}
		messages = renderTranscript(&st.Transcript)
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer, "messages": messages})
}

// resetChat clears the transcript of the current document, or flags a reset for
// the next document when none is open yet.
func (h *Handler) resetChat(c *gin.Context) {
	var messages []renderedMessage
	if !h.withSession(c, false, func(_ context.Context, st *session.State) error {
		st.ResetChat = true
		if st.Document != "" {
			st.ResetTranscript(st.Document)
		}
		messages = renderTranscript(&st.Transcript)
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) getTranscript(c *gin.Context) {
	var (
		document string
		messages []renderedMessage
	)
	if !h.withSession(c, false, func(_ context.Context, st *session.State) error {
		document = st.Document
		messages = renderTranscript(&st.Transcript)
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document":    document,
		"messages":    messages,
		"placeholder": history.Placeholder(),
	})
}
