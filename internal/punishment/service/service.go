// Package service owns the active and history punishment sets. Conflict
// checks run synchronously under a single writer lock; events, set mutation
// and persistence run on a background runner.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"warden/internal/platform/async"
	"warden/internal/platform/metrics"
	"warden/internal/punishment/events"
	"warden/internal/punishment/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
)

// Store persists punishment rows.
type Store interface {
	SaveCreated(ctx context.Context, history, active []models.Punishment) error
	DeleteActive(ctx context.Context, ps ...models.Punishment) error
	LoadActive(ctx context.Context) ([]models.Punishment, error)
	LoadHistory(ctx context.Context) ([]models.Punishment, error)
}

type Service struct {
	mu         sync.RWMutex
	active     map[models.Key]models.Punishment
	bySlot     map[models.Slot]map[models.Key]struct{}
	history    []models.Punishment
	pending    map[models.Slot]int
	reserved   map[models.Key]struct{}
	removing   map[models.Key]struct{}
	nextExpiry time.Time

	store      Store
	gate       *events.Gate
	runner     *async.Runner
	ownsRunner bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRunner sets the background runner used for events and persistence.
func WithRunner(r *async.Runner) Option {
	return func(s *Service) {
		s.runner = r
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, gate *events.Gate, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("punishment store is required")
	}
	if gate == nil {
		return nil, errors.New("event gate is required")
	}
	s := &Service{
		active:   make(map[models.Key]models.Punishment),
		bySlot:   make(map[models.Slot]map[models.Key]struct{}),
		pending:  make(map[models.Slot]int),
		reserved: make(map[models.Key]struct{}),
		removing: make(map[models.Key]struct{}),
		store:    store,
		gate:     gate,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = async.New(4, async.WithLogger(s.logger))
		s.ownsRunner = true
	}
	return s, nil
}

// Load replaces the in-memory sets with the persisted rows.
func (s *Service) Load(ctx context.Context) error {
	var active, history []models.Punishment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = s.store.LoadActive(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = s.store.LoadHistory(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "punishment storage unavailable")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load punishments")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[models.Key]models.Punishment, len(active))
	s.bySlot = make(map[models.Slot]map[models.Key]struct{})
	s.nextExpiry = time.Time{}
	for _, p := range active {
		s.putActive(p)
	}
	s.history = history
	s.metrics.SetActive(len(s.active))
	s.logger.InfoContext(ctx, "punishments loaded", "active", len(active), "history", len(history))
	return nil
}

// Add validates the batch and schedules its creation. It fails with
// ErrConflictingPunishment, before any side effect, if any BAN or MUTE in the
// batch would join an existing active one for the same subject, or if a
// tracked punishment shares its (type, subject, date) with an active or
// in-flight one. The returned task completes once events have fired and rows
// are persisted.
func (s *Service) Add(ctx context.Context, ps ...models.Punishment) (*async.Task, error) {
	if len(ps) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no punishments given")
	}
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid punishment")
		}
	}

	s.sweep(ctx)
	now := s.now()

	s.mu.Lock()
	batch := make(map[models.Slot]int)
	keys := make(map[models.Key]struct{})
	for _, p := range ps {
		if p.Type.Tracked() {
			key := p.Key()
			_, active := s.active[key]
			_, inFlight := s.reserved[key]
			_, dup := keys[key]
			if active || inFlight || dup {
				s.mu.Unlock()
				s.metrics.IncrementConflicts()
				return nil, dErrors.Wrap(models.ErrConflictingPunishment, dErrors.CodeConflict,
					fmt.Sprintf("%s already has a %s dated %d", p.Subject, p.Type, key.Date))
			}
			keys[key] = struct{}{}
		}
		if !p.Type.Unique() {
			continue
		}
		slot := p.Slot()
		if s.countLocked(slot, now)+s.pending[slot]+batch[slot] > 0 {
			s.mu.Unlock()
			s.metrics.IncrementConflicts()
			return nil, dErrors.Wrap(models.ErrConflictingPunishment, dErrors.CodeConflict,
				fmt.Sprintf("%s already has an active %s", p.Subject, p.Type))
		}
		batch[slot]++
	}
	for slot, n := range batch {
		s.pending[slot] += n
	}
	for key := range keys {
		s.reserved[key] = struct{}{}
	}
	s.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	task, err := s.runner.Submit("punishment.add", func(context.Context) error {
		return s.create(detached, ps)
	})
	if err != nil {
		s.mu.Lock()
		for _, p := range ps {
			s.releaseLocked(p)
		}
		s.mu.Unlock()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "punishment service is shutting down")
	}
	return task, nil
}

func (s *Service) create(ctx context.Context, ps []models.Punishment) error {
	now := s.now()
	var history, active []models.Punishment
	var accepted []events.Event

	for _, p := range ps {
		retro := p.Retroactive(now)
		ev := events.Event{Action: events.ActionCreate, Punishment: p, Retroactive: retro}
		if !s.gate.Pre(ctx, ev, events.Cancelable) {
			s.release(p)
			s.metrics.IncrementCancelled(string(p.Type), string(events.ActionCreate))
			continue
		}

		live := !retro && p.Type.Tracked()
		s.mu.Lock()
		s.history = append(s.history, p)
		if live {
			s.putActive(p)
		}
		s.releaseLocked(p)
		s.mu.Unlock()

		history = append(history, p)
		if live {
			active = append(active, p)
		}
		accepted = append(accepted, ev)
		s.metrics.IncrementCreated(string(p.Type), retro)
	}
	if len(accepted) == 0 {
		return nil
	}

	if err := s.store.SaveCreated(ctx, history, active); err != nil {
		s.metrics.IncrementPersistenceFailures()
		s.logger.ErrorContext(ctx, "failed to persist punishments; memory and store may diverge until reload",
			"count", len(history), "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist punishments")
	}
	s.gate.Post(ctx, accepted...)
	return nil
}

// Remove validates that every punishment is active and schedules its
// removal. It fails with ErrMissingPunishment, before any mutation, when one
// is not active or is already being removed.
func (s *Service) Remove(ctx context.Context, ps ...models.Punishment) (*async.Task, error) {
	if len(ps) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no punishments given")
	}

	s.mu.Lock()
	seen := make(map[models.Key]struct{}, len(ps))
	for _, p := range ps {
		key := p.Key()
		_, ok := s.active[key]
		_, busy := s.removing[key]
		_, dup := seen[key]
		if !ok || busy || dup {
			s.mu.Unlock()
			return nil, dErrors.Wrap(models.ErrMissingPunishment, dErrors.CodeNotFound,
				fmt.Sprintf("%s is not active", p))
		}
		seen[key] = struct{}{}
	}
	for key := range seen {
		s.removing[key] = struct{}{}
	}
	s.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	task, err := s.runner.Submit("punishment.remove", func(context.Context) error {
		return s.remove(detached, ps)
	})
	if err != nil {
		s.mu.Lock()
		for key := range seen {
			delete(s.removing, key)
		}
		s.mu.Unlock()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "punishment service is shutting down")
	}
	return task, nil
}

func (s *Service) remove(ctx context.Context, ps []models.Punishment) error {
	var removed []models.Punishment
	var accepted []events.Event

	for _, p := range ps {
		ev := events.Event{Action: events.ActionRemove, Punishment: p}
		proceed := s.gate.Pre(ctx, ev, events.Cancelable)

		s.mu.Lock()
		delete(s.removing, p.Key())
		if proceed {
			s.deleteActive(p)
		}
		s.mu.Unlock()

		if !proceed {
			s.metrics.IncrementCancelled(string(p.Type), string(events.ActionRemove))
			continue
		}
		removed = append(removed, p)
		accepted = append(accepted, ev)
		s.metrics.IncrementRemoved(string(p.Type), false)
	}
	return s.finishRemoval(ctx, removed, accepted)
}

// expire runs the removal path for punishments already detached from the
// active set. Listener verdicts are ignored.
func (s *Service) expire(ctx context.Context, ps []models.Punishment) error {
	accepted := make([]events.Event, 0, len(ps))
	for _, p := range ps {
		ev := events.Event{Action: events.ActionRemove, Punishment: p, Automatic: true}
		s.gate.Pre(ctx, ev, events.Forced)
		accepted = append(accepted, ev)
		s.metrics.IncrementRemoved(string(p.Type), true)
	}
	return s.finishRemoval(ctx, ps, accepted)
}

func (s *Service) finishRemoval(ctx context.Context, removed []models.Punishment, accepted []events.Event) error {
	if len(removed) == 0 {
		return nil
	}
	if err := s.store.DeleteActive(ctx, removed...); err != nil {
		s.metrics.IncrementPersistenceFailures()
		s.logger.ErrorContext(ctx, "failed to persist punishment removal; memory and store may diverge until reload",
			"count", len(removed), "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist removal")
	}
	s.gate.Post(ctx, accepted...)
	return nil
}

// sweep detaches expired active entries and schedules their automatic
// removal. Entries with an explicit removal in flight are left to it.
func (s *Service) sweep(ctx context.Context) {
	now := s.now()

	s.mu.RLock()
	due := !s.nextExpiry.IsZero() && !s.nextExpiry.After(now)
	s.mu.RUnlock()
	if !due {
		return
	}

	s.mu.Lock()
	var expired []models.Punishment
	var next time.Time
	for key, p := range s.active {
		if p.Expired(now) {
			if _, busy := s.removing[key]; !busy {
				expired = append(expired, p)
				continue
			}
		}
		if !p.Permanent() && (next.IsZero() || p.Expiration.Before(next)) {
			next = p.Expiration
		}
	}
	for _, p := range expired {
		s.deleteActive(p)
	}
	s.nextExpiry = next
	s.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	_, err := s.runner.Submit("punishment.expire", func(context.Context) error {
		return s.expire(detached, expired)
	})
	if err != nil {
		// Nobody will announce the expiry; keep the entries for the next
		// sweep. Reads already skip expired entries.
		s.mu.Lock()
		for _, p := range expired {
			s.putActive(p)
		}
		s.mu.Unlock()
	}
}

// putActive and deleteActive require s.mu held for writing.
func (s *Service) putActive(p models.Punishment) {
	key := p.Key()
	s.active[key] = p
	slot := p.Slot()
	if s.bySlot[slot] == nil {
		s.bySlot[slot] = make(map[models.Key]struct{})
	}
	s.bySlot[slot][key] = struct{}{}
	if !p.Permanent() && (s.nextExpiry.IsZero() || p.Expiration.Before(s.nextExpiry)) {
		s.nextExpiry = p.Expiration
	}
}

func (s *Service) deleteActive(p models.Punishment) {
	key := p.Key()
	delete(s.active, key)
	slot := p.Slot()
	if keys := s.bySlot[slot]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.bySlot, slot)
		}
	}
}

func (s *Service) countLocked(slot models.Slot, now time.Time) int {
	n := 0
	for key := range s.bySlot[slot] {
		if !s.active[key].Expired(now) {
			n++
		}
	}
	return n
}

func (s *Service) release(p models.Punishment) {
	s.mu.Lock()
	s.releaseLocked(p)
	s.mu.Unlock()
}

func (s *Service) releaseLocked(p models.Punishment) {
	if p.Type.Tracked() {
		delete(s.reserved, p.Key())
	}
	if !p.Type.Unique() {
		return
	}
	slot := p.Slot()
	if s.pending[slot] <= 1 {
		delete(s.pending, slot)
		return
	}
	s.pending[slot]--
}

// Close waits for background work to finish. A runner passed in through
// WithRunner is left open for its owner to close.
func (s *Service) Close(ctx context.Context) error {
	if !s.ownsRunner {
		return nil
	}
	return s.runner.Close(ctx)
}
