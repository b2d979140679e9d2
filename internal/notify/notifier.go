package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/schedule"
)

const (
	// DefaultSendTimeout bounds a single Twilio request.
	DefaultSendTimeout = 10 * time.Second
	notifyQueueSize    = 16
)

// Notifier forwards newly opened popups to a Sender. PopupChanged never blocks,
// so it can be subscribed directly to the engine.
type Notifier struct {
	sender  Sender
	to      string
	timeout time.Duration
	queue   chan models.Popup
	lastKey string
}

// NewNotifier creates a notifier sending to the given phone number.
func NewNotifier(sender Sender, to string) *Notifier {
	return &Notifier{
		sender:  sender,
		to:      to,
		timeout: DefaultSendTimeout,
		queue:   make(chan models.Popup, notifyQueueSize),
	}
}

func popupKey(p models.Popup) string {
	return fmt.Sprintf("%d|%s|%s|%s", p.TimeCollected.Unix(), p.OriginatorName, p.QuestionType, p.Question)
}

// PopupChanged queues a notification for p. Closing popups (nil) and repeats of
// the last notified popup are ignored. Must be called from the engine loop.
func (n *Notifier) PopupChanged(p *models.Popup) {
	if p == nil {
		return
	}
	key := popupKey(*p)
	if key == n.lastKey {
		return
	}
	n.lastKey = key
	select {
	case n.queue <- *p:
	default:
		slog.Warn("Notifier.PopupChanged: queue full, dropping notification", "timeCollected", p.TimeCollected)
	}
}

// Run sends queued notifications until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-n.queue:
			if err := n.Send(ctx, p); err != nil {
				slog.Error("Notifier.Run: notification failed", "error", err, "timeCollected", p.TimeCollected)
			}
		}
	}
}

// Send delivers the notification for p immediately.
func (n *Notifier) Send(ctx context.Context, p models.Popup) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.sender.SendMessage(ctx, n.to, FormatMessage(p))
}

// FormatMessage renders the text message for a popup.
func FormatMessage(p models.Popup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s - %s] %s", schedule.FormatClock(p.TimeCollected), schedule.FormatClock(p.End()), p.Question)
	if p.SuggestedResponse != "" {
		fmt.Fprintf(&b, " (suggested: %s)", p.SuggestedResponse)
	}
	// Replies to the text are not read; answers go through the app.
	if p.QuestionType == models.QuestionTypeYesNo {
		b.WriteString(" Answer yes or no in PingPipe.")
	} else {
		b.WriteString(" Answer in PingPipe.")
	}
	return b.String()
}
