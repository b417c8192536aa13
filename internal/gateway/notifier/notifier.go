package notifier

import (
	"strings"
	"time"

	"robotrader/internal/logger"
)

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}

// Async wraps a TextNotifier so callers never block on delivery. Send
// failures are logged and dropped; trade alerts are advisory, the journal is
// the durable record.
type Async struct {
	inner TextNotifier
}

func NewAsync(inner TextNotifier) *Async {
	return &Async{inner: inner}
}

// Notify formats a titled message and delivers it on a fresh goroutine.
func (a *Async) Notify(title, message string) {
	if a == nil || a.inner == nil {
		return
	}
	text := render(title, message)
	go func() {
		if err := a.inner.SendText(text); err != nil {
			logger.Warnf("notifier: send failed: %v", err)
		}
	}()
}

func render(title, message string) string {
	var b strings.Builder
	if t := strings.TrimSpace(title); t != "" {
		b.WriteString("*" + t + "*\n")
	}
	if m := strings.TrimSpace(message); m != "" {
		b.WriteString(m + "\n")
	}
	b.WriteString(time.Now().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

// Nop is a TextNotifier that discards everything, used when notifications
// are disabled.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
