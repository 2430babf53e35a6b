// Package enforcement applies punishments to connected sessions and gates
// logins and chat.
package enforcement

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"warden/internal/enforcement/ports"
	"warden/internal/platform/metrics"
	"warden/internal/punishment/events"
	"warden/internal/punishment/models"
	"warden/pkg/domain"
)

type Engine struct {
	platform    ports.Platform
	resolver    ports.Resolver
	punishments ports.Punishments
	formatter   Formatter
	strictness  Strictness
	commands    CommandGate
	mutes       *MuteCache
	negativeTTL time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithFormatter(f Formatter) Option {
	return func(e *Engine) {
		e.formatter = f
	}
}

func WithStrictness(s Strictness) Option {
	return func(e *Engine) {
		e.strictness = s
	}
}

// WithMuteCommands sets the commands blocked for muted players.
func WithMuteCommands(commands []string) Option {
	return func(e *Engine) {
		e.commands = NewCommandGate(commands)
	}
}

// WithNegativeTTL bounds how long a "not muted" answer is cached.
func WithNegativeTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.negativeTTL = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(platform ports.Platform, resolver ports.Resolver, punishments ports.Punishments, opts ...Option) (*Engine, error) {
	if platform == nil {
		return nil, errors.New("platform is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if punishments == nil {
		return nil, errors.New("punishment lookup is required")
	}
	e := &Engine{
		platform:    platform,
		resolver:    resolver,
		punishments: punishments,
		formatter:   PlainFormatter{},
		strictness:  Normal,
		negativeTTL: 20 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.mutes = NewMuteCache(punishments, e.negativeTTL, e.now, e.applicableSubjects)
	return e, nil
}

// Mutes exposes the engine's mute cache.
func (e *Engine) Mutes() *MuteCache { return e.mutes }

// Enforce applies p to every live session it targets and returns how many
// sessions were affected. Failures on individual sessions are joined.
func (e *Engine) Enforce(ctx context.Context, p models.Punishment) (int, error) {
	message := e.formatter.Message(p)

	switch p.Subject.Kind() {
	case domain.KindPlayer:
		id, _ := p.Subject.PlayerID()
		session, online := e.platform.Session(ctx, id)
		if !online {
			return 0, nil
		}
		return 1, e.apply(ctx, p, session, message)

	case domain.KindAddress:
		addr, _ := p.Subject.Addr()
		m := buildMatcher(e.strictness, e.resolver, addr)
		var errs []error
		n := 0
		for _, session := range e.platform.Sessions(ctx) {
			if !m.matches(session) {
				continue
			}
			n++
			errs = append(errs, e.apply(ctx, p, session, message))
		}
		return n, errors.Join(errs...)

	default:
		return 0, nil
	}
}

func (e *Engine) apply(ctx context.Context, p models.Punishment, session ports.Session, message string) error {
	var err error
	effect := "message"
	switch p.Type {
	case models.TypeBan, models.TypeKick:
		effect = "disconnect"
		err = e.platform.Disconnect(ctx, session.ID, message)
	default:
		err = e.platform.SendMessage(ctx, session.ID, message)
		if p.Type == models.TypeMute {
			e.mutes.Set(session.ID, session.Address, p)
		}
	}
	if err != nil {
		e.logger.WarnContext(ctx, "enforcement failed", "session", session.ID, "type", p.Type,
			"subject", p.Subject, "error", err)
		effect = "failed"
	}
	e.metrics.ObserveEnforcement(string(p.Type), effect)
	return err
}

// OnPost is the post-action listener wiring the engine to the punishment
// store: live creations are enforced and removed mutes leave the cache.
func (e *Engine) OnPost(ctx context.Context, ev events.Event) {
	switch ev.Action {
	case events.ActionCreate:
		if ev.Retroactive {
			return
		}
		if ev.Punishment.Type == models.TypeMute {
			e.mutes.Forget(ev.Punishment.Subject)
		}
		if _, err := e.Enforce(ctx, ev.Punishment); err != nil {
			e.logger.ErrorContext(ctx, "punishment not fully enforced", "punishment", ev.Punishment.String(), "error", err)
		}
	case events.ActionRemove:
		if ev.Punishment.Type == models.TypeMute {
			e.mutes.Invalidate(ev.Punishment)
		}
	}
}

// CheckConnection records the login with the resolver and reports the ban
// message when the connection must be refused.
func (e *Engine) CheckConnection(ctx context.Context, id uuid.UUID, name string, addr netip.Addr) (string, bool) {
	addr = addr.Unmap()
	if err := e.resolver.UpdateCache(ctx, id, name, addr); err != nil {
		e.logger.WarnContext(ctx, "login observation not persisted", "player", id, "error", err)
	}

	ban, banned := e.punishments.Find(ctx, models.TypeBan, e.applicableSubjects(id, addr)...)
	if !banned {
		return "", false
	}
	e.metrics.ObserveEnforcement(string(models.TypeBan), "login_denied")
	return e.formatter.Message(ban), true
}

// applicableSubjects lists the subjects whose bans and mutes reach id
// connected from addr.
func (e *Engine) applicableSubjects(id uuid.UUID, addr netip.Addr) []domain.Subject {
	addr = addr.Unmap()
	subjects := []domain.Subject{domain.Player(id), domain.Address(addr)}
	for _, a := range e.addressesFor(id) {
		if a != addr {
			subjects = append(subjects, domain.Address(a))
		}
	}
	return subjects
}

// addressesFor lists the addresses whose bans apply to id at login under
// the configured strictness.
func (e *Engine) addressesFor(id uuid.UUID) []netip.Addr {
	switch e.strictness {
	case Normal:
		return e.resolver.Addresses(id)
	case Strict:
		seen := make(map[netip.Addr]struct{})
		var out []netip.Addr
		for _, own := range e.resolver.Addresses(id) {
			for _, linked := range e.resolver.AliasClosure(own) {
				for _, a := range e.resolver.Addresses(linked) {
					if _, ok := seen[a]; !ok {
						seen[a] = struct{}{}
						out = append(out, a)
					}
				}
			}
		}
		return out
	default:
		return nil
	}
}

// CheckChat reports the mute message when a chat line, or command if
// non-empty, must be blocked.
func (e *Engine) CheckChat(ctx context.Context, id uuid.UUID, addr netip.Addr, command string) (string, bool) {
	if command != "" && !e.commands.Blocks(command) {
		return "", false
	}
	mute, muted := e.mutes.Get(ctx, id, addr)
	if !muted {
		e.metrics.ObserveMuteCheck("allowed")
		return "", false
	}
	e.metrics.ObserveMuteCheck("blocked")
	return e.formatter.Message(mute), true
}
