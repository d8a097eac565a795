package tui

import (
	"github.com/kinber/kinber/internal/notify"
	"github.com/kinber/kinber/internal/thread"
)

// Bridge carries updates from background components into the program. Its
// Recents method fits recents.Options.OnChange and it is a notify.Notifier.
type Bridge struct {
	recents chan []thread.Summary
	notices chan notify.Notice
}

// NewBridge returns an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		recents: make(chan []thread.Summary, 1),
		notices: make(chan notify.Notice, 16),
	}
}

// Recents hands over a new list. Only the newest undelivered list is kept.
func (b *Bridge) Recents(items []thread.Summary) {
	for {
		select {
		case b.recents <- items:
			return
		default:
		}
		select {
		case <-b.recents:
		default:
		}
	}
}

// Notify queues a notice. Notices beyond the buffer are dropped.
func (b *Bridge) Notify(n notify.Notice) {
	select {
	case b.notices <- n:
	default:
	}
}
