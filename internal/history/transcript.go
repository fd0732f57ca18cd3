// Package history keeps the per-document conversation transcript.
//
// A transcript holds two parallel lists. Generated starts with a greeting and
// receives every assistant answer; Past receives every user turn. After each
// completed exchange len(Generated) == len(Past)+1 and Generated[i+1] answers Past[i].
package history

import (
	"errors"
	"fmt"
	"strconv"

	"docchatgo/internal/models"
)

type Role = models.Role

const (
	RoleUser      = models.RoleUser
	RoleAssistant = models.RoleAssistant
)

var (
	ErrInvalidRole = models.ErrInvalidRole
	// ErrNotInitialized is returned when appending to a transcript that was never seeded.
	ErrNotInitialized = errors.New("transcript not initialized")
	// ErrTurnOrder is returned when turns are appended out of user/assistant order.
	ErrTurnOrder = errors.New("turns must alternate user then assistant")
)

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	return models.ParseRole(s)
}

const placeholder = "Hey ! 👋"

// Greeting is the first assistant message for a document.
func Greeting(document string) string {
	return "Hello ! Ask me anything about " + document + " 🤗"
}

// Placeholder is the suggested text for the first user turn. It is never stored in Past.
func Placeholder() string {
	return placeholder
}

// Transcript is the conversation scoped to one document identity.
type Transcript struct {
	Document  string   `json:"document"`
	Past      []string `json:"past"`
	Generated []string `json:"generated"`
}

// Initialized reports whether the transcript has been seeded.
func (t *Transcript) Initialized() bool {
	return len(t.Generated) > 0
}

// Initialize seeds the transcript for document. It is a no-op when the transcript
// already exists for the same document; a different document resets it.
// The return value reports whether the transcript was (re)seeded.
func (t *Transcript) Initialize(document string) bool {
	if t.Initialized() && t.Document == document {
		return false
	}
	t.Reset(document)
	return true
}

// Reset clears every turn and reseeds the greeting for document.
func (t *Transcript) Reset(document string) {
	t.Document = document
	t.Past = nil
	t.Generated = []string{Greeting(document)}
}

// Pending reports whether the last user turn has not been answered yet.
func (t *Transcript) Pending() bool {
	return t.Initialized() && len(t.Past) == len(t.Generated)
}

// Append records one turn. User turns and assistant answers must alternate.
func (t *Transcript) Append(role Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRole, uint8(role))
	}
	if !t.Initialized() {
		return ErrNotInitialized
	}
	switch role {
	case RoleUser:
		if t.Pending() {
			return fmt.Errorf("%w: previous question still unanswered", ErrTurnOrder)
		}
		t.Past = append(t.Past, content)
	case RoleAssistant:
		if !t.Pending() {
			return fmt.Errorf("%w: no question to answer", ErrTurnOrder)
		}
		t.Generated = append(t.Generated, content)
	}
	return nil
}

// DropPending removes a user turn whose answer failed, so Generated is again one longer than Past.
func (t *Transcript) DropPending() {
	if t.Pending() {
		t.Past = t.Past[:len(t.Past)-1]
	}
}

// Len is the number of rendered entries.
func (t *Transcript) Len() int {
	return len(t.Past) + len(t.Generated)
}

// Entries returns the transcript oldest first: greeting, then each question followed by its answer.
func (t *Transcript) Entries() []models.Message {
	if !t.Initialized() {
		return nil
	}
	out := make([]models.Message, 0, t.Len())
	out = append(out, models.Message{Role: RoleAssistant, Content: t.Generated[0]})
	for i, q := range t.Past {
		out = append(out, models.Message{Role: RoleUser, Content: q})
		if i+1 < len(t.Generated) {
			out = append(out, models.Message{Role: RoleAssistant, Content: t.Generated[i+1]})
		}
	}
	return out
}

// Renderer receives transcript entries in display order.
type Renderer interface {
	Render(key string, msg models.Message) error
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(key string, msg models.Message) error

func (f RenderFunc) Render(key string, msg models.Message) error { return f(key, msg) }

// GenerateMessages renders every entry. Keys are "<i>" for answers and "<i>_user" for questions.
func (t *Transcript) GenerateMessages(r Renderer) error {
	if !t.Initialized() {
		return nil
	}
	if err := r.Render("0", models.Message{Role: RoleAssistant, Content: t.Generated[0]}); err != nil {
		return err
	}
	for i, q := range t.Past {
		if err := r.Render(strconv.Itoa(i)+"_user", models.Message{Role: RoleUser, Content: q}); err != nil {
			return err
		}
		if i+1 < len(t.Generated) {
			if err := r.Render(strconv.Itoa(i+1), models.Message{Role: RoleAssistant, Content: t.Generated[i+1]}); err != nil {
				return err
			}
		}
	}
	return nil
}
