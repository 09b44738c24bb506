package ai

import (
	"context"
	"errors"
)

// ErrDisabled is returned when no provider is configured. Callers treat it
// as "no automated answer", not as a failure.
var ErrDisabled = errors.New("ai: responder disabled")

// AI is the automated responder. It knows nothing about sessions or storage.
type AI interface {
	GetReply(
		ctx context.Context,
		history []Message,
		latest string,
	) (string, error)
}

// Message is the provider-neutral dialogue format.
type Message struct {
	Role string // "user" | "assistant"
	Text string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type disabled struct{}

// Disabled returns a responder that never answers.
func Disabled() AI { return disabled{} }

func (disabled) GetReply(context.Context, []Message, string) (string, error) {
	return "", ErrDisabled
}
