package session

import (
	"slices"

	"docchatgo/internal/history"
	"docchatgo/internal/index"
	"docchatgo/internal/service/ai"
	"docchatgo/internal/table"
)

// State is everything one browser session has accumulated. It is only mutated
// from jobs the worker manager runs for that session, one at a time.
type State struct {
	ID       string   `json:"id"`
	Settings Settings `json:"settings"`
	// Keys entered by the user, by provider. Never serialized in clear.
	Keys ai.Keys `json:"-"`
	// Ready is set once the current document has been indexed.
	Ready bool `json:"ready"`
	// ResetChat requests a transcript reset on the next upload or chat; Reset clears it.
	ResetChat  bool               `json:"reset_chat"`
	Document   string             `json:"document"`
	Index      *index.Index       `json:"-"`
	Transcript history.Transcript `json:"transcript"`
	// DocMemory and BrainMemory are the conversational memories of the two chat modes.
	DocMemory     ai.Memory    `json:"-"`
	BrainMemory   ai.Memory    `json:"-"`
	Table         *table.Frame `json:"-"`
	PromptHistory []string     `json:"prompt_history"`
}

func newState(id string) *State {
	return &State{
		ID:       id,
		Settings: DefaultSettings(),
		Keys:     ai.Keys{},
	}
}

// OpenDocument makes document the current identity. A different document, or a
// pending reset request, resets the transcript and the document memory.
func (s *State) OpenDocument(document string) {
	if s.ResetChat || (s.Transcript.Initialized() && s.Transcript.Document != document) {
		s.ResetTranscript(document)
	} else {
		s.Transcript.Initialize(document)
	}
	if s.Document != document {
		s.Index = nil
		s.Ready = false
	}
	s.Document = document
}

// ResetTranscript clears the conversation for document and the reset request flag.
func (s *State) ResetTranscript(document string) {
	s.Transcript.Reset(document)
	s.DocMemory.Reset()
	s.ResetChat = false
}

// ClearTable drops the uploaded table and its prompt history.
func (s *State) ClearTable() {
	s.Table = nil
	s.PromptHistory = nil
}

// HasKey reports whether the session entered a key for provider.
func (s *State) HasKey(provider string) bool {
	return s.Keys[provider] != ""
}

// Snapshot is the public view of a session.
type Snapshot struct {
	ID            string         `json:"id"`
	Settings      Settings       `json:"settings"`
	Ready         bool           `json:"ready"`
	ResetChat     bool           `json:"reset_chat"`
	Document      string         `json:"document,omitempty"`
	Placeholder   string         `json:"placeholder"`
	KeyProviders  []string       `json:"key_providers"`
	HasTable      bool           `json:"has_table"`
	PromptHistory []string       `json:"prompt_history"`
	Entries       int            `json:"transcript_entries"`
	Models        []string       `json:"models"`
	Limits        SettingsLimits `json:"limits"`
}

// SettingsLimits describes the slider ranges of the settings form.
type SettingsLimits struct {
	SelfHosted     bool       `json:"self_hosted"`
	Temperature    [2]float64 `json:"temperature"`
	ChunkSize      [3]int     `json:"chunk_size"`
	ChunkOverlap   [3]int     `json:"chunk_overlap"`
	MaxTokens      [2]int     `json:"max_tokens"`
	MaxUploadBytes int64      `json:"max_upload_bytes"`
}

// Snapshot reports the state together with the choices policy allows.
func (s *State) Snapshot(p Policy) Snapshot {
	providers := make([]string, 0, len(s.Keys))
	for name, key := range s.Keys {
		if key != "" {
			providers = append(providers, name)
		}
	}
	slices.Sort(providers)
	maxTokens := [2]int{MinMaxTokens, MaxMaxTokens}
	if !p.SelfHosted {
		maxTokens = [2]int{MinMaxTokens, MinMaxTokens}
	}
	prompts := append([]string(nil), s.PromptHistory...)
	return Snapshot{
		ID:            s.ID,
		Settings:      s.Settings,
		Ready:         s.Ready,
		ResetChat:     s.ResetChat,
		Document:      s.Document,
		Placeholder:   history.Placeholder(),
		KeyProviders:  providers,
		HasTable:      s.Table != nil,
		PromptHistory: prompts,
		Entries:       s.Transcript.Len(),
		Models:        append([]string(nil), p.Models...),
		Limits: SettingsLimits{
			SelfHosted:     p.SelfHosted,
			Temperature:    [2]float64{MinTemperature, MaxTemperature},
			ChunkSize:      [3]int{MinChunkSize, MaxChunkSize, ChunkSizeStep},
			ChunkOverlap:   [3]int{MinChunkOverlap, MaxChunkOverlap, ChunkOverlapStep},
			MaxTokens:      maxTokens,
			MaxUploadBytes: p.MaxUploadBytes(),
		},
	}
}
