package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"warden/internal/punishment/models"
	"warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Snapshot returns a copy of the active set. Expired entries are removed
// first and go through automatic removal.
func (s *Service) Snapshot(ctx context.Context) []models.Punishment {
	s.sweep(ctx)
	now := s.now()

	s.mu.RLock()
	out := make([]models.Punishment, 0, len(s.active))
	for _, p := range s.active {
		if !p.Expired(now) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	s.metrics.SetActive(len(out))
	sortNewestFirst(out)
	return out
}

// Tally returns every active punishment of type t for subject.
func (s *Service) Tally(ctx context.Context, subject domain.Subject, t models.Type) []models.Punishment {
	s.sweep(ctx)
	now := s.now()
	slot := models.Slot{Type: t, Subject: subject}

	s.mu.RLock()
	out := make([]models.Punishment, 0, len(s.bySlot[slot]))
	for key := range s.bySlot[slot] {
		if p := s.active[key]; !p.Expired(now) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

func (s *Service) Count(ctx context.Context, subject domain.Subject, t models.Type) int {
	return len(s.Tally(ctx, subject, t))
}

func (s *Service) IsBanned(ctx context.Context, subject domain.Subject) bool {
	return s.Count(ctx, subject, models.TypeBan) > 0
}

func (s *Service) IsMuted(ctx context.Context, subject domain.Subject) bool {
	return s.Count(ctx, subject, models.TypeMute) > 0
}

// Get returns the active punishment of type t for subject, or
// ErrMissingPunishment.
func (s *Service) Get(ctx context.Context, subject domain.Subject, t models.Type) (models.Punishment, error) {
	found := s.Tally(ctx, subject, t)
	if len(found) == 0 {
		return models.Punishment{}, dErrors.Wrap(models.ErrMissingPunishment, dErrors.CodeNotFound,
			fmt.Sprintf("%s has no active %s", subject, t))
	}
	return found[0], nil
}

// Find returns the first active punishment of type t held by any of
// subjects, in argument order.
func (s *Service) Find(ctx context.Context, t models.Type, subjects ...domain.Subject) (models.Punishment, bool) {
	for _, subject := range subjects {
		if found := s.Tally(ctx, subject, t); len(found) > 0 {
			return found[0], true
		}
	}
	return models.Punishment{}, false
}

// ActiveByType lists active punishments of type t, newest first.
func (s *Service) ActiveByType(ctx context.Context, t models.Type) []models.Punishment {
	all := s.Snapshot(ctx)
	out := all[:0]
	for _, p := range all {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// HistoryFilter narrows History. Zero fields match everything.
type HistoryFilter struct {
	Subject  domain.Subject
	Operator domain.Subject
	Type     models.Type
	Limit    int
}

func (f HistoryFilter) matches(p models.Punishment) bool {
	if !f.Subject.IsZero() && p.Subject != f.Subject {
		return false
	}
	if !f.Operator.IsZero() && p.Operator != f.Operator {
		return false
	}
	return f.Type == "" || p.Type == f.Type
}

// History lists history entries matching f, newest first.
func (s *Service) History(_ context.Context, f HistoryFilter) []models.Punishment {
	s.mu.RLock()
	var out []models.Punishment
	for _, p := range s.history {
		if f.matches(p) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func sortNewestFirst(ps []models.Punishment) {
	slices.SortStableFunc(ps, func(a, b models.Punishment) int {
		return cmp.Compare(b.DateMillis(), a.DateMillis())
	})
}
