package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const defaultTopK = 4

var (
	condenseTemplate = prompt.FromMessages(schema.FString,
		schema.SystemMessage("Given the following conversation and a follow up question, "+
			"rephrase the follow up question to be a standalone question, in its original language."),
		schema.MessagesPlaceholder("chat_history", true),
		schema.UserMessage("Follow Up Input: {question}\nStandalone question:"),
	)
	answerTemplate = prompt.FromMessages(schema.FString,
		schema.SystemMessage("Use the following pieces of context to answer the user's question. "+
			"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n"+
			"----------------\n{context}"),
		schema.MessagesPlaceholder("chat_history", true),
		schema.UserMessage("{question}"),
	)
)

// Turn is one answered question kept in conversational memory.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Memory is the conversation a Chatbot conditions on.
type Memory struct {
	Turns []Turn `json:"turns"`
}

func (m *Memory) Add(question, answer string) {
	m.Turns = append(m.Turns, Turn{Question: question, Answer: answer})
}

func (m *Memory) Reset() {
	m.Turns = nil
}

func (m *Memory) messages() []*schema.Message {
	out := make([]*schema.Message, 0, len(m.Turns)*2)
	for _, t := range m.Turns {
		out = append(out, schema.UserMessage(t.Question), schema.AssistantMessage(t.Answer, nil))
	}
	return out
}

// Chatbot answers questions by conversational retrieval over a document retriever.
type Chatbot struct {
	model     model.BaseChatModel
	retriever retriever.Retriever
	memory    *Memory
	topK      int
	logger    *zap.Logger
}

// NewChatbot wires a chat model to a retriever. A nil memory gives the chatbot its own.
func NewChatbot(chatModel model.BaseChatModel, r retriever.Retriever, memory *Memory, logger *zap.Logger) (*Chatbot, error) {
	if chatModel == nil || r == nil {
		return nil, errors.New("chat model and retriever are required")
	}
	if memory == nil {
		memory = &Memory{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chatbot{model: chatModel, retriever: r, memory: memory, topK: defaultTopK, logger: logger.Named("chatbot")}, nil
}

// WithTopK overrides how many chunks are retrieved per question.
func (c *Chatbot) WithTopK(k int) *Chatbot {
	if k > 0 {
		c.topK = k
	}
	return c
}

func (c *Chatbot) Memory() *Memory {
	return c.memory
}

// Answer returns the model's answer to question and records the exchange in memory.
// Failures are returned unretried; memory is left untouched on error.
func (c *Chatbot) Answer(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	history := c.memory.messages()

	standalone := question
	if len(history) > 0 {
		msgs, err := condenseTemplate.Format(ctx, map[string]any{
			"chat_history": history,
			"question":     question,
		})
		if err != nil {
			return "", fmt.Errorf("format condense prompt: %w", err)
		}
		out, err := c.model.Generate(ctx, msgs)
		if err != nil {
			return "", external("condense question", err)
		}
		if rewritten := strings.TrimSpace(out.Content); rewritten != "" {
			standalone = rewritten
		}
	}

	docs, err := c.retriever.Retrieve(ctx, standalone, retriever.WithTopK(c.topK))
	if err != nil {
		return "", external("retrieve context", err)
	}

	msgs, err := answerTemplate.Format(ctx, map[string]any{
		"context":      joinDocuments(docs),
		"chat_history": history,
		"question":     question,
	})
	if err != nil {
		return "", fmt.Errorf("format answer prompt: %w", err)
	}
	out, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", external("generate answer", err)
	}
	answer := strings.TrimSpace(out.Content)
	c.memory.Add(question, answer)
	c.logger.Debug("answered",
		zap.Int("context_docs", len(docs)),
		zap.Bool("condensed", standalone != question))
	return answer, nil
}

func joinDocuments(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil || strings.TrimSpace(d.Content) == "" {
			continue
		}
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}
