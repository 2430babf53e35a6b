// Package adapters provides Platform implementations for running the
// enforcement engine outside a game host.
package adapters

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"warden/internal/enforcement/ports"
	"warden/internal/resolver/providers"
	dErrors "warden/pkg/domain-errors"
)

// SessionRegistry is an in-process Platform. Hosts report joins and leaves;
// disconnects drop the session and messages are logged.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]ports.Session
	logger   *slog.Logger
}

func NewSessionRegistry(logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{sessions: make(map[uuid.UUID]ports.Session), logger: logger}
}

// Join registers or replaces a live session.
func (r *SessionRegistry) Join(s ports.Session) {
	s.Address = s.Address.Unmap()
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func (r *SessionRegistry) Leave(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Sessions lists live sessions ordered by name.
func (r *SessionRegistry) Sessions(context.Context) []ports.Session {
	r.mu.RLock()
	out := make([]ports.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b ports.Session) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (r *SessionRegistry) Session(_ context.Context, id uuid.UUID) (ports.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *SessionRegistry) Disconnect(ctx context.Context, id uuid.UUID, message string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "session "+id.String()+" is not connected")
	}
	r.logger.InfoContext(ctx, "session disconnected", "player", s.ID, "name", s.Name, "message", message)
	return nil
}

func (r *SessionRegistry) SendMessage(ctx context.Context, id uuid.UUID, message string) error {
	s, ok := r.Session(ctx, id)
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "session "+id.String()+" is not connected")
	}
	r.logger.InfoContext(ctx, "session notified", "player", s.ID, "name", s.Name, "message", message)
	return nil
}

// ID names the registry as the resolver's internal name source.
func (r *SessionRegistry) ID() string { return "internal" }

// ByName answers name lookups from live sessions, case-insensitively.
func (r *SessionRegistry) ByName(_ context.Context, name string) (providers.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if strings.EqualFold(s.Name, name) {
			return providers.Profile{ID: s.ID, Name: s.Name}, nil
		}
	}
	return providers.Profile{}, providers.NewProviderError(providers.ErrorNotFound, r.ID(), "no session named "+name, nil)
}

func (r *SessionRegistry) ByID(ctx context.Context, id uuid.UUID) (providers.Profile, error) {
	if s, ok := r.Session(ctx, id); ok {
		return providers.Profile{ID: s.ID, Name: s.Name}, nil
	}
	return providers.Profile{}, providers.NewProviderError(providers.ErrorNotFound, r.ID(), "no session for "+id.String(), nil)
}
