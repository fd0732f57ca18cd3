package table

import (
	"context"
	"fmt"
	"strings"

	"docchatgo/internal/service/ai"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const previewRows = 5

var askTemplate = prompt.FromMessages(schema.FString,
	schema.SystemMessage("You are a data analyst working with a table loaded from {name}. "+
		"It has {rows} rows. Answer the question using only the table. "+
		"When a computation is needed, reason over the column statistics and the preview rows and say which you used.\n\n"+
		"Columns:\n{columns}\n\nFirst rows:\n{preview}"),
	schema.UserMessage("{question}"),
)

// ModelSource builds the chat model for a question. It is resolved per call so the
// session's current model and key apply.
type ModelSource func(ctx context.Context) (model.BaseChatModel, error)

type Asker struct {
	logger *zap.Logger
}

func NewAsker(logger *zap.Logger) *Asker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Asker{logger: logger.Named("table")}
}

// Ask answers question about frame with the chat model from source.
func (a *Asker) Ask(ctx context.Context, source ModelSource, frame *Frame, question string) (string, error) {
	if frame == nil {
		return "", ErrNoTable
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ai.ErrEmptyQuestion
	}
	chatModel, err := source(ctx)
	if err != nil {
		return "", err
	}
	msgs, err := askTemplate.Format(ctx, map[string]any{
		"name":     frame.Name,
		"rows":     frame.Len(),
		"columns":  describeColumns(frame.Describe()),
		"preview":  Markdown(frame.Columns, frame.Head(previewRows)),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("format table prompt: %w", err)
	}
	out, err := chatModel.Generate(ctx, msgs)
	if err != nil {
		return "", &ai.ExternalError{Op: "answer table question", Err: err}
	}
	a.logger.Debug("table question answered", zap.String("table", frame.Name), zap.Int("rows", frame.Len()))
	return strings.TrimSpace(out.Content), nil
}

func describeColumns(cols []ColumnSummary) string {
	var b strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&b, "- %s (%s, %d values, %d unique", c.Name, c.Kind, c.Count, c.Unique)
		if c.Kind == "number" {
			fmt.Fprintf(&b, ", min %g, max %g, mean %g", *c.Min, *c.Max, *c.Mean)
		}
		b.WriteString(")\n")
	}
	return b.String()
}
