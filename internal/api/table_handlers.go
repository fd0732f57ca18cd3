package api

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"

	"docchatgo/internal/session"
	"docchatgo/internal/table"
)

const tablePreviewRows = 5

type tableView struct {
	Name          string                `json:"name"`
	Rows          int                   `json:"rows"`
	Columns       []string              `json:"columns"`
	Head          [][]string            `json:"head"`
	Describe      []table.ColumnSummary `json:"describe,omitempty"`
	PromptHistory []string              `json:"prompt_history"`
}

func viewOf(st *session.State, describe bool) tableView {
	v := tableView{
		Name:          st.Table.Name,
		Rows:          st.Table.Len(),
		Columns:       st.Table.Columns,
		Head:          st.Table.Head(tablePreviewRows),
		PromptHistory: append([]string{}, st.PromptHistory...),
	}
	if describe {
		v.Describe = st.Table.Describe()
	}
	return v
}

func (h *Handler) uploadTable(c *gin.Context) {
	name, data, ok := h.readUpload(c)
	if !ok {
		return
	}
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a csv file is required"})
		return
	}
	frame, err := table.ReadCSV(name, bytes.NewReader(data))
	if err != nil {
		h.fail(c, err)
		return
	}
	var view tableView
	if !h.withSession(c, false, func(_ context.Context, st *session.State) error {
		st.Table = frame
		view = viewOf(st, false)
		return nil
	}) {
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) getTable(c *gin.Context) {
	var view tableView
	if !h.withSession(c, false, func(_ context.Context, st *session.State) error {
		if st.Table == nil {
			return table.ErrNoTable
		}
		view = viewOf(st, true)
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, view)
}

// queryTable asks the session's model about the uploaded table. Answered
// questions are kept in the prompt history.
func (h *Handler) queryTable(c *gin.Context) {
	question, ok := bindQuestion(c)
	if !ok {
		return
	}
	var (
		answer  string
		prompts []string
	)
	if !h.withSession(c, true, func(ctx context.Context, st *session.State) error {
		source := func(ctx context.Context) (model.BaseChatModel, error) {
			return h.provider.ChatModel(ctx, modelSpec(st.Settings), st.Keys)
		}
		var err error
		answer, err = h.asker.Ask(ctx, source, st.Table, question)
		if err != nil {
			return err
		}
		st.PromptHistory = append(st.PromptHistory, question)
		h.sessions.Save(ctx, st)
		prompts = append([]string{}, st.PromptHistory...)
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer, "prompt_history": prompts})
}

func (h *Handler) clearTable(c *gin.Context) {
	if !h.withSession(c, false, func(ctx context.Context, st *session.State) error {
		st.ClearTable()
		h.sessions.Save(ctx, st)
		return nil
	}) {
		return
	}
	c.Status(http.StatusNoContent)
}
