package models

import (
	"errors"
	"fmt"
	"strings"
)

// Role tags one side of a conversation. Only user and assistant exist; the zero value is invalid.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleAssistant
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole converts the wire name of a role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is one rendered transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
