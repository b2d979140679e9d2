// Package suggest proposes a pre-filled answer for manually opened popups,
// based on what the user answered recently.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/schedule"
)

const (
	// DefaultCapacity is how many recent answers are remembered.
	DefaultCapacity = 20
	// DefaultTimeout bounds a ranking request.
	DefaultTimeout = 5 * time.Second
)

const rankPrompt = `You help a time tracker guess what the user is doing. You receive the user's recent activity log and a time. Reply with exactly one activity copied verbatim from the log, nothing else.`

// Completer is a chat model able to answer a prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Suggester remembers recent answers. It is safe for concurrent use.
type Suggester struct {
	completer Completer
	capacity  int
	timeout   time.Duration

	mu     sync.Mutex
	recent []models.Response // newest first
}

// Option configures a Suggester.
type Option func(*Suggester)

// WithCompleter ranks candidates with a chat model instead of taking the latest answer.
func WithCompleter(c Completer) Option {
	return func(s *Suggester) { s.completer = c }
}

// WithCapacity sets how many answers are remembered.
func WithCapacity(n int) Option {
	return func(s *Suggester) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// New creates a Suggester.
func New(opts ...Option) *Suggester {
	s := &Suggester{capacity: DefaultCapacity, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record remembers accepted responses. It matches the engine's ResponsesAccepted event.
func (s *Suggester) Record(responses []models.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range responses {
		if strings.TrimSpace(r.ResponseText) == "" {
			continue
		}
		s.recent = append(s.recent, r)
	}
	sort.SliceStable(s.recent, func(i, j int) bool { return s.recent[i].TimeCollected.After(s.recent[j].TimeCollected) })
	if len(s.recent) > s.capacity {
		s.recent = s.recent[:s.capacity]
	}
}

// Seed remembers stored entries, for example after a restart.
func (s *Suggester) Seed(entries []models.Entry) {
	responses := make([]models.Response, 0, len(entries))
	for _, e := range entries {
		responses = append(responses, models.Response{
			ResponseText:       e.ResponseText,
			TimeCollected:      e.TimeCollected,
			TimeBlockLengthMin: e.TimeBlockLengthMin,
			SubmissionType:     e.SubmissionType,
		})
	}
	s.Record(responses)
}

// Candidates returns the distinct recent answers, newest first.
func (s *Suggester) Candidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.recent {
		key := strings.ToLower(strings.TrimSpace(r.ResponseText))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(r.ResponseText))
	}
	return out
}

// Suggest returns the likeliest answer for a popup at the given time, or "" when
// nothing has been recorded. Model failures fall back to the latest answer.
func (s *Suggester) Suggest(ctx context.Context, at time.Time) string {
	candidates := s.Candidates()
	if len(candidates) == 0 {
		return ""
	}
	if s.completer == nil || len(candidates) == 1 {
		return candidates[0]
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := s.completer.Complete(ctx, rankPrompt, s.rankInput(at))
	if err != nil {
		slog.Warn("Suggester.Suggest: ranking failed, using latest answer", "error", err)
		return candidates[0]
	}
	reply = strings.Trim(strings.TrimSpace(reply), `"'.`)
	for _, c := range candidates {
		if strings.EqualFold(c, reply) {
			return c
		}
	}
	slog.Debug("Suggester.Suggest: reply is not a known answer", "reply", reply)
	return candidates[0]
}

func (s *Suggester) rankInput(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString("Recent activity:\n")
	for i := len(s.recent) - 1; i >= 0; i-- {
		r := s.recent[i]
		fmt.Fprintf(&b, "- %s to %s: %s\n", schedule.FormatClock(r.TimeCollected), schedule.FormatClock(r.End()), r.ResponseText)
	}
	fmt.Fprintf(&b, "What is the user most likely doing at %s?", schedule.FormatClock(at))
	return b.String()
}
