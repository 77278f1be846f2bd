package notify

import "context"

// TextSender sends a text message to a chat
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Feishu posts notices to a Feishu group chat
type Feishu struct {
	sender TextSender
	chatID string
}

// NewFeishu creates a Feishu channel
func NewFeishu(sender TextSender, chatID string) *Feishu {
	return &Feishu{sender: sender, chatID: chatID}
}

func (f *Feishu) Name() string { return "feishu" }

func (f *Feishu) Send(ctx context.Context, text, prefix string) error {
	if prefix != "" {
		text = prefix + "\n" + text
	}
	return f.sender.SendText(ctx, f.chatID, text)
}
