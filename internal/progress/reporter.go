// Package progress renders processing milestones into a single feedback
// message that is edited in place.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	barSegments = 10
	barFilled   = "█"
	barBlank    = " "

	DefaultMinEditInterval = time.Second
)

// Messenger is the slice of the outbound transport the reporter needs.
type Messenger interface {
	SendText(ctx context.Context, text string) (string, error)
	EditText(ctx context.Context, messageID, text string) error
	Delete(ctx context.Context, messageID string) error
}

// retryAfter is implemented by transport errors that carry a server-provided backoff.
type retryAfter interface {
	RetryAfter() time.Duration
}

// Render draws pct as a ten-segment bar, e.g. "[█████     ] 50%".
func Render(pct int) string {
	pct = clamp(pct)
	filled := pct / 10
	return fmt.Sprintf("[%s%s] %d%%", strings.Repeat(barFilled, filled), strings.Repeat(barBlank, barSegments-filled), pct)
}

func clamp(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// Options tunes a Reporter.
type Options struct {
	MinEditInterval time.Duration
	Logger          *slog.Logger
}

// Reporter owns one feedback message. Failures never propagate to the caller:
// a lost progress update must not change the outcome of a request.
type Reporter struct {
	messenger   Messenger
	minInterval time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu           sync.Mutex
	messageID    string
	lastText     string
	nextAllowed  time.Time
	blockedUntil time.Time
}

// Start sends the 0% feedback message. When that send fails the returned
// reporter is inert.
func Start(ctx context.Context, messenger Messenger, opts Options) *Reporter {
	r := newReporter(messenger, opts)
	text := Render(0)
	id, err := messenger.SendText(ctx, text)
	if err != nil {
		r.logger.Warn("send progress message failed", slog.Any("error", err))
		return r
	}
	r.messageID = id
	r.lastText = text
	r.nextAllowed = r.now().Add(r.minInterval)
	return r
}

func newReporter(messenger Messenger, opts Options) *Reporter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := opts.MinEditInterval
	if interval < 0 {
		interval = 0
	}
	return &Reporter{
		messenger:   messenger,
		minInterval: interval,
		now:         time.Now,
		logger:      log.With(slog.String("component", "progress")),
	}
}

// Report edits the feedback message to show pct. Unchanged text and edits
// inside the minimum interval are skipped, except 100% which is always tried.
func (r *Reporter) Report(ctx context.Context, pct int) {
	pct = clamp(pct)
	r.update(ctx, pct, pct == 100)
}

// Milestone is Report without the minimum interval. Every call is still a
// single attempt and is skipped while a server-imposed backoff is running.
func (r *Reporter) Milestone(ctx context.Context, pct int) {
	r.update(ctx, clamp(pct), true)
}

func (r *Reporter) update(ctx context.Context, pct int, bypassInterval bool) {
	text := Render(pct)

	r.mu.Lock()
	id := r.messageID
	now := r.now()
	switch {
	case id == "" || text == r.lastText:
		r.mu.Unlock()
		return
	case now.Before(r.blockedUntil):
		r.mu.Unlock()
		r.logger.Debug("progress edit skipped", slog.Int("percent", pct), slog.Time("blocked_until", r.blockedUntil))
		return
	case !bypassInterval && now.Before(r.nextAllowed):
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := r.edit(ctx, id, text); err != nil {
		r.logger.Debug("progress edit failed", slog.Int("percent", pct), slog.Any("error", err))
	}
}

func (r *Reporter) edit(ctx context.Context, id, text string) error {
	err := r.messenger.EditText(ctx, id, text)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if d, ok := backoff(err); ok {
			r.blockedUntil = r.now().Add(d)
		}
		return err
	}
	r.lastText = text
	r.nextAllowed = r.now().Add(r.minInterval)
	return nil
}

// Retire deletes the feedback message. It is safe to call more than once.
func (r *Reporter) Retire(ctx context.Context) {
	r.mu.Lock()
	id := r.messageID
	r.messageID = ""
	r.mu.Unlock()
	if id == "" {
		return
	}
	if err := r.messenger.Delete(ctx, id); err != nil {
		r.logger.Debug("retire progress message failed", slog.String("message_id", id), slog.Any("error", err))
	}
}

func backoff(err error) (time.Duration, bool) {
	var ra retryAfter
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}
