// Package notify delivers operator notices over chat-ops channels with a
// cooldown that suppresses repeats of the same notice.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/metrics"
)

// DefaultCooldown is how long an identical notice stays suppressed
const DefaultCooldown = 600 * time.Second

// Channel is one notice sink
type Channel interface {
	Name() string
	Send(ctx context.Context, text, prefix string) error
}

// Dispatcher fans a notice out to every channel.
// A notice is marked sent only when some channel accepted it.
type Dispatcher struct {
	channels []Channel
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewDispatcher creates a dispatcher over channels
func NewDispatcher(cooldown time.Duration, channels ...Channel) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Dispatcher{
		channels: channels,
		cooldown: cooldown,
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// Channels returns the configured channel names
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Notify sends text unless the same (prefix, text) succeeded within the cooldown.
// The key is reserved before sending so concurrent duplicates are dropped.
func (d *Dispatcher) Notify(ctx context.Context, text, prefix string) bool {
	key := dedupKey(text, prefix)

	d.mu.Lock()
	reserved := d.now()
	if last, seen := d.sent[key]; seen && reserved.Sub(last) < d.cooldown {
		d.mu.Unlock()
		log.Debug().Str("component", "notify").Msg("notice already sent within cooldown, skipping")
		metrics.Notices.WithLabelValues("all", "deduped").Inc()
		return false
	}
	d.sent[key] = reserved
	d.mu.Unlock()

	if !d.Send(ctx, text, prefix) {
		d.mu.Lock()
		if d.sent[key].Equal(reserved) {
			delete(d.sent, key)
		}
		d.mu.Unlock()
		return false
	}

	now := d.now()
	d.mu.Lock()
	d.sent[key] = now
	for k, t := range d.sent {
		if now.Sub(t) >= d.cooldown {
			delete(d.sent, k)
		}
	}
	d.mu.Unlock()
	return true
}

// Send delivers to every channel without dedup. True if any channel succeeded.
func (d *Dispatcher) Send(ctx context.Context, text, prefix string) bool {
	if len(d.channels) == 0 {
		return false
	}
	log.Info().Str("component", "notify").Str("prefix", prefix).Str("text", truncate(text, 100)).Msg("sending notice")

	ok := false
	for _, c := range d.channels {
		if err := c.Send(ctx, text, prefix); err != nil {
			log.Error().Err(err).Str("component", "notify").Str("channel", c.Name()).Msg("notice failed")
			metrics.Notices.WithLabelValues(c.Name(), "failed").Inc()
			continue
		}
		metrics.Notices.WithLabelValues(c.Name(), "sent").Inc()
		ok = true
	}
	if !ok {
		log.Warn().Str("component", "notify").Msg("all notice channels failed")
	}
	return ok
}

func dedupKey(text, prefix string) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// FormatMessages renders a conversation as "role：content" lines
func FormatMessages(msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if role == "" {
			role = "unknown"
		}
		lines = append(lines, role+"："+m.Content)
	}
	return strings.Join(lines, "\n")
}

// StartupPrefix is the prefix used for system notices
const StartupPrefix = "系统通知"

// StartupNotice renders the message sent when the assistant starts
func StartupNotice(at time.Time, host, ip string) string {
	return fmt.Sprintf("通知插件已启动\n时间: %s\n主机: %s\nIP: %s", at.Format("2006-01-02 15:04:05"), host, ip)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
