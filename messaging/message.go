package messaging

import (
	"encoding/json"
	"errors"
)

// Notification is the user-visible part of a message.
type Notification struct {
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
	ImageURL string `json:"image,omitempty"`
}

// Message is one logical push message. Exactly one of Token, Topic, or
// Condition must be set. The Android, APNS and Webpush blocks are passed
// through to the provider unmodified.
type Message struct {
	Token     string `json:"token,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Condition string `json:"condition,omitempty"`

	Notification *Notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`

	Android json.RawMessage `json:"android,omitempty"`
	APNS    json.RawMessage `json:"apns,omitempty"`
	Webpush json.RawMessage `json:"webpush,omitempty"`
}

func (m *Message) validate() error {
	targets := 0
	if m.Token != "" {
		targets++
	}
	if m.Topic != "" {
		targets++
	}
	if m.Condition != "" {
		targets++
	}
	if targets != 1 {
		return errors.New("messaging: exactly one of Token, Topic or Condition must be set")
	}
	return nil
}

// MulticastMessage is a message template fanned out to many device tokens.
// Fields other than Tokens are shared read-only across all derived messages.
type MulticastMessage struct {
	Tokens []string

	Notification *Notification
	Data         map[string]string

	Android json.RawMessage
	APNS    json.RawMessage
	Webpush json.RawMessage
}

// messageForToken derives the per-target message. The template's shared
// fields are referenced, not copied: they are treated as immutable for the
// duration of the dispatch.
func (m *MulticastMessage) messageForToken(token string) *Message {
	return &Message{
		Token:        token,
		Notification: m.Notification,
		Data:         m.Data,
		Android:      m.Android,
		APNS:         m.APNS,
		Webpush:      m.Webpush,
	}
}
