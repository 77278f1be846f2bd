package domain

// Default detection phrases
const (
	DefaultPaymentPhrase     = "我已付款，等待你发货"
	DefaultShipMarker        = "【自动发货】"
	DefaultEscalationKeyword = "转人工"
)

// DetectionConfig holds the phrases used by DetectFlags (value object)
type DetectionConfig struct {
	PaymentPhrase     string
	ShipMarker        string
	EscalationKeyword string
}

// DefaultDetectionConfig returns the marketplace defaults
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		PaymentPhrase:     DefaultPaymentPhrase,
		ShipMarker:        DefaultShipMarker,
		EscalationKeyword: DefaultEscalationKeyword,
	}
}

// Flags are the per-extraction signals computed from the message list
type Flags struct {
	IsPaidUnshipped     bool
	EscalationRequested bool
}

// DetectFlags scans an extracted conversation.
//
// A buyer-side payment confirmation with no seller message carrying the ship
// marker means the order is paid but unshipped. Only the most recent buyer
// chat message is checked for the escalation keyword.
func DetectFlags(rows []Message, cfg DetectionConfig) Flags {
	var paid, shipped bool
	var latestBuyer *Message

	for i := range rows {
		m := rows[i]
		if m.IsFromBuyer() {
			if m.Contains(cfg.PaymentPhrase) {
				paid = true
			}
			if !m.Card {
				latestBuyer = &rows[i]
			}
			continue
		}
		if m.Contains(cfg.ShipMarker) {
			shipped = true
		}
	}

	return Flags{
		IsPaidUnshipped:     paid && !shipped,
		EscalationRequested: latestBuyer != nil && latestBuyer.Contains(cfg.EscalationKeyword),
	}
}

// ConversationContext is built once per tick and handed to every plugin
type ConversationContext struct {
	ListingID           string
	UserName            string
	Messages            []Message
	IsPaidUnshipped     bool
	EscalationRequested bool
	EnabledPlugins      []string
}

// History returns the chat messages for LLM prompting
func (c *ConversationContext) History() []Message {
	return ChatMessages(c.Messages)
}
