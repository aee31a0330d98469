// Package server defines the message value type shared by rooms, handlers,
// and the AI responder.
package server

import "fmt"

// Sender labels for messages not authored by a chat participant.
const (
	// SystemSender labels messages synthesized by the server itself
	// (joins, leaves, errors, presence indicators).
	SystemSender = "System"

	// AISender labels messages produced by the inference backend.
	AISender = "AI"
)

// Message is an immutable chat event: who said it and what was said.
// Receipt order is implied by history position; messages carry no timestamp.
type Message struct {
	Sender  string
	Content string
}

// SystemMessage builds a message attributed to the server.
func SystemMessage(content string) Message {
	return Message{Sender: SystemSender, Content: content}
}

// Format renders the message the way participants see it on the wire.
func (m Message) Format() string {
	return fmt.Sprintf("[%s]: %s", m.Sender, m.Content)
}
