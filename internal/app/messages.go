package app

import (
	"fmt"

	"spectreimport/pkg/provider"
)

// MessageKind separates input problems from provider failures so the caller
// can offer "fix your input" or "retry".
type MessageKind int

const (
	MessageValidation MessageKind = iota
	MessageProvider
)

func (k MessageKind) String() string {
	switch k {
	case MessageValidation:
		return "validation"
	case MessageProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// Message is one user-facing line produced by Configure. Temporary marks
// provider failures that may go away on their own, such as rate limits.
type Message struct {
	Kind      MessageKind
	Text      string
	Temporary bool
}

// MessageBag is the ordered list of messages returned by Configure. An empty
// bag means the submitted data was accepted.
type MessageBag struct {
	messages []Message
}

func (b *MessageBag) add(kind MessageKind, text string) {
	b.messages = append(b.messages, Message{Kind: kind, Text: text})
}

// Invalid records a validation message.
func (b *MessageBag) Invalid(format string, args ...any) {
	b.add(MessageValidation, fmt.Sprintf(format, args...))
}

// ProviderFailure records a failed provider call.
func (b *MessageBag) ProviderFailure(err error) {
	b.messages = append(b.messages, Message{
		Kind:      MessageProvider,
		Text:      fmt.Sprintf("Provider error: %v", err),
		Temporary: provider.IsTemporary(err),
	})
}

// ProviderNotice records a provider outcome that is not an error value, such
// as a rejected login.
func (b *MessageBag) ProviderNotice(format string, args ...any) {
	b.add(MessageProvider, fmt.Sprintf(format, args...))
}

func (b MessageBag) Empty() bool { return len(b.messages) == 0 }

func (b MessageBag) Len() int { return len(b.messages) }

// Messages returns a copy of the messages in insertion order.
func (b MessageBag) Messages() []Message {
	return append([]Message(nil), b.messages...)
}

// Strings returns the message texts in insertion order.
func (b MessageBag) Strings() []string {
	out := make([]string, 0, len(b.messages))
	for _, m := range b.messages {
		out = append(out, m.Text)
	}
	return out
}

// Retryable reports whether any message came from a provider failure.
func (b MessageBag) Retryable() bool {
	for _, m := range b.messages {
		if m.Kind == MessageProvider {
			return true
		}
	}
	return false
}

// Temporary reports whether a provider failure is likely to clear if the
// same step is submitted again later.
func (b MessageBag) Temporary() bool {
	for _, m := range b.messages {
		if m.Temporary {
			return true
		}
	}
	return false
}
