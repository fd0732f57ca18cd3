package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" User "); err != nil || r != RoleUser {
		t.Fatalf("parse user: %v %v", r, err)
	}
	if r, err := ParseRole("assistant"); err != nil || r != RoleAssistant {
		t.Fatalf("parse assistant: %v %v", r, err)
	}
	if _, err := ParseRole("system"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestRoleJSON(t *testing.T) {
	data, err := json.Marshal(Message{Role: RoleAssistant, Content: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"role":"assistant","content":"hi"}` {
		t.Fatalf("unexpected json %s", data)
	}
	var zero Role
	if _, err := json.Marshal(Message{Role: zero}); err == nil {
		t.Fatalf("zero role must not marshal")
	}
	var msg Message
	if err := json.Unmarshal([]byte(`{"role":"robot"}`), &msg); err == nil {
		t.Fatalf("unknown role must not unmarshal")
	}
}
