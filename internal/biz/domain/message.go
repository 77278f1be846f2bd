package domain

import "strings"

// Role is the author side of a chat message
type Role string

const (
	RoleUser      Role = "user"      // buyer
	RoleAssistant Role = "assistant" // seller (us)
)

// Message represents one row extracted from the visible conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Card marks platform system cards (order/payment notices). They take part
	// in flag detection but are not chat text.
	Card bool `json:"-"`
}

// IsFromBuyer reports whether the message was written by the buyer side
func (m Message) IsFromBuyer() bool {
	return m.Role == RoleUser
}

// Contains reports whether the content contains substr
func (m Message) Contains(substr string) bool {
	return substr != "" && strings.Contains(m.Content, substr)
}

// ChatMessages drops system cards, keeping oldest-first order
func ChatMessages(rows []Message) []Message {
	out := make([]Message, 0, len(rows))
	for _, m := range rows {
		if m.Card {
			continue
		}
		out = append(out, m)
	}
	return out
}

// LastMessage returns the newest chat message, or nil
func LastMessage(msgs []Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Card {
			m := msgs[i]
			return &m
		}
	}
	return nil
}
