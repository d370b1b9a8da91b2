package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwv/anchormesh/geometry"
)

// Prompt asks the user whether a detected primitive may stand in for the
// requested kind.
type Prompt struct {
	ID        string        `json:"id"`
	Target    geometry.Kind `json:"target"`
	Found     geometry.Kind `json:"found"`
	Location  geometry.Vec3 `json:"location"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Question is the human-readable form of the prompt.
func (p Prompt) Question() string {
	return fmt.Sprintf("A %s was found while looking for a %s. Use the %s instead?", p.Found, p.Target, p.Found)
}

// PromptState is the lifecycle stage reported to prompt listeners.
type PromptState int

const (
	PromptOpened PromptState = iota + 1
	PromptAccepted
	PromptDeclined
	PromptAbandoned
	// PromptExpired: the board's timeout passed with no answer. The
	// requester sees a decline.
	PromptExpired
)

func (s PromptState) String() string {
	switch s {
	case PromptOpened:
		return "opened"
	case PromptAccepted:
		return "accepted"
	case PromptDeclined:
		return "declined"
	case PromptAbandoned:
		return "abandoned"
	case PromptExpired:
		return "expired"
	default:
		return fmt.Sprintf("prompt(%d)", int(s))
	}
}

func (s PromptState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PromptEvent is delivered to prompt listeners.
type PromptEvent struct {
	Prompt Prompt      `json:"prompt"`
	State  PromptState `json:"state"`
}

type promptAnswer struct {
	accepted  bool
	abandoned bool
}

type openPrompt struct {
	Prompt
	answer chan promptAnswer
}

// PromptBoard holds outstanding conversion prompts keyed by id. Each prompt
// is answered exactly once, by Resolve or by cancellation.
type PromptBoard struct {
	mu        sync.Mutex
	emitMu    sync.Mutex // orders listener calls; Opened always precedes the answer
	prompts   map[string]*openPrompt
	closed    bool
	timeout   time.Duration
	listeners []func(PromptEvent)
	logger    *zap.Logger
	now       func() time.Time
}

// NewPromptBoard creates a board. A positive timeout declines prompts left
// unanswered that long; zero waits indefinitely.
func NewPromptBoard(timeout time.Duration, logger *zap.Logger) *PromptBoard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptBoard{
		prompts: make(map[string]*openPrompt),
		timeout: timeout,
		logger:  logger.Named("prompts"),
		now:     time.Now,
	}
}

// AddListener registers l for prompt lifecycle events. Listeners run on the
// goroutine that caused the transition and must not call back into the board.
func (b *PromptBoard) AddListener(l func(PromptEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// RequestConfirmation opens a prompt and blocks until it is answered. It
// returns (false, ErrPromptAbandoned) if the prompt is cancelled or ctx ends
// first, and (false, nil) if the board's timeout expires.
func (b *PromptBoard) RequestConfirmation(ctx context.Context, target, found geometry.Kind, location geometry.Vec3) (bool, error) {
	p := &openPrompt{
		Prompt: Prompt{
			ID:        uuid.NewString(),
			Target:    target,
			Found:     found,
			Location:  location,
			CreatedAt: b.now(),
		},
		answer: make(chan promptAnswer, 1),
	}

	b.emitMu.Lock()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.emitMu.Unlock()
		return false, ErrPromptAbandoned
	}
	b.prompts[p.ID] = p
	b.mu.Unlock()

	b.logger.Info("conversion prompt opened",
		zap.String("id", p.ID), zap.Stringer("target", target), zap.Stringer("found", found))
	b.emitLocked(PromptEvent{Prompt: p.Prompt, State: PromptOpened})
	b.emitMu.Unlock()

	var expired <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case a := <-p.answer:
		if a.abandoned {
			return false, ErrPromptAbandoned
		}
		return a.accepted, nil
	case <-expired:
		if b.take(p.ID) != nil {
			b.logger.Info("conversion prompt timed out", zap.String("id", p.ID))
			b.emit(PromptEvent{Prompt: p.Prompt, State: PromptExpired})
			return false, nil
		}
	case <-ctx.Done():
		if b.take(p.ID) != nil {
			b.logger.Warn("conversion prompt abandoned", zap.String("id", p.ID), zap.Error(ctx.Err()))
			b.emit(PromptEvent{Prompt: p.Prompt, State: PromptAbandoned})
			return false, fmt.Errorf("%w: %w", ErrPromptAbandoned, ctx.Err())
		}
	}

	// Someone else took the prompt first; their answer is already queued.
	a := <-p.answer
	if a.abandoned {
		return false, ErrPromptAbandoned
	}
	return a.accepted, nil
}

// Resolve answers an outstanding prompt. Resolving an unknown or already
// answered id changes nothing and returns ErrUnknownPrompt.
func (b *PromptBoard) Resolve(id string, accepted bool) error {
	p := b.take(id)
	if p == nil {
		b.logger.Warn("resolve for unknown prompt", zap.String("id", id), zap.Bool("accepted", accepted))
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}
	p.answer <- promptAnswer{accepted: accepted}

	state := PromptDeclined
	if accepted {
		state = PromptAccepted
	}
	b.logger.Info("conversion prompt resolved", zap.String("id", id), zap.Stringer("state", state))
	b.emit(PromptEvent{Prompt: p.Prompt, State: state})
	return nil
}

// CancelAll answers every outstanding prompt as abandoned and returns how
// many were cancelled.
func (b *PromptBoard) CancelAll() int {
	b.mu.Lock()
	open := make([]*openPrompt, 0, len(b.prompts))
	for id, p := range b.prompts {
		open = append(open, p)
		delete(b.prompts, id)
	}
	b.mu.Unlock()

	sortPrompts(open)
	for _, p := range open {
		p.answer <- promptAnswer{abandoned: true}
		b.emit(PromptEvent{Prompt: p.Prompt, State: PromptAbandoned})
	}
	if len(open) > 0 {
		b.logger.Warn("outstanding prompts abandoned", zap.Int("count", len(open)))
	}
	return len(open)
}

// Close cancels outstanding prompts and rejects new ones.
func (b *PromptBoard) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.CancelAll()
}

// Pending lists outstanding prompts, oldest first.
func (b *PromptBoard) Pending() []Prompt {
	b.mu.Lock()
	open := make([]*openPrompt, 0, len(b.prompts))
	for _, p := range b.prompts {
		open = append(open, p)
	}
	b.mu.Unlock()

	sortPrompts(open)
	out := make([]Prompt, len(open))
	for i, p := range open {
		out[i] = p.Prompt
	}
	return out
}

// Len returns the number of outstanding prompts.
func (b *PromptBoard) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

func (b *PromptBoard) take(id string) *openPrompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prompts[id]
	if !ok {
		return nil
	}
	delete(b.prompts, id)
	return p
}

func (b *PromptBoard) emit(ev PromptEvent) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	b.emitLocked(ev)
}

func (b *PromptBoard) emitLocked(ev PromptEvent) {
	b.mu.Lock()
	listeners := b.listeners
	b.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func sortPrompts(ps []*openPrompt) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
