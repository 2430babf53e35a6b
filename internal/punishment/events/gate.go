// Package events dispatches punishment lifecycle notifications. Pre-action
// listeners may cancel; post-action listeners only observe.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"warden/internal/punishment/models"
)

// Action is the lifecycle step being announced.
type Action string

const (
	ActionCreate Action = "create"
	ActionRemove Action = "remove"
)

// Event carries a punishment through the gate. Retroactive applies to
// creations, Automatic to removals.
type Event struct {
	Action      Action
	Punishment  models.Punishment
	Retroactive bool
	Automatic   bool
}

// Mode selects how pre-action verdicts are aggregated.
type Mode int

const (
	// Cancelable lets any listener veto the action.
	Cancelable Mode = iota
	// Forced notifies listeners but ignores their verdicts.
	Forced
)

// Verdict is a pre-action listener's answer.
type Verdict bool

const (
	Allow  Verdict = false
	Cancel Verdict = true
)

// PreListener is called before an action and may cancel it.
type PreListener func(ctx context.Context, ev Event) Verdict

// PostListener is called after an action has been persisted.
type PostListener func(ctx context.Context, ev Event)

// Gate holds ordered listener lists.
type Gate struct {
	mu     sync.RWMutex
	pre    []PreListener
	post   []PostListener
	logger *slog.Logger
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func NewGate(opts ...Option) *Gate {
	g := &Gate{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnPre appends a pre-action listener.
func (g *Gate) OnPre(l PreListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pre = append(g.pre, l)
}

// OnPost appends a post-action listener.
func (g *Gate) OnPost(l PostListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.post = append(g.post, l)
}

// Pre runs every pre-action listener in order and reports whether the action
// may proceed. All listeners see the event even after one cancels. In Forced
// mode the result is always true.
func (g *Gate) Pre(ctx context.Context, ev Event, mode Mode) bool {
	g.mu.RLock()
	listeners := g.pre
	g.mu.RUnlock()

	cancelled := false
	for i, l := range listeners {
		if g.callPre(ctx, i, l, ev) == Cancel {
			cancelled = true
		}
	}
	if mode == Forced {
		if cancelled {
			g.logger.DebugContext(ctx, "ignored cancellation of forced action",
				"action", ev.Action, "punishment", ev.Punishment.String())
		}
		return true
	}
	return !cancelled
}

// Post runs every post-action listener for each event.
func (g *Gate) Post(ctx context.Context, evs ...Event) {
	g.mu.RLock()
	listeners := g.post
	g.mu.RUnlock()

	for _, ev := range evs {
		for i, l := range listeners {
			g.callPost(ctx, i, l, ev)
		}
	}
}

// A panicking listener counts as Allow so one faulty observer cannot block
// every punishment.
func (g *Gate) callPre(ctx context.Context, i int, l PreListener, ev Event) (v Verdict) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.ErrorContext(ctx, "pre-action listener panicked",
				"listener", i, "action", ev.Action, "panic", fmt.Sprint(p))
			v = Allow
		}
	}()
	return l(ctx, ev)
}

func (g *Gate) callPost(ctx context.Context, i int, l PostListener, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.ErrorContext(ctx, "post-action listener panicked",
				"listener", i, "action", ev.Action, "panic", fmt.Sprint(p))
		}
	}()
	l(ctx, ev)
}
