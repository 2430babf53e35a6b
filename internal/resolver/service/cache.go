package service

import (
	"context"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/resolver/models"
	dErrors "warden/pkg/domain-errors"
)

// UpdateCache records an observation of id under name, optionally from addr.
// Unknown identifiers get a new row; known ones persist only what changed.
// Writes for one identifier are serialized.
func (s *Service) UpdateCache(ctx context.Context, id uuid.UUID, name string, addr netip.Addr) error {
	lock := s.writerFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, known := s.identities[id]
	s.mu.RUnlock()
	now := s.now().UTC().Truncate(time.Millisecond)

	if !known {
		identity := models.Identity{ID: id, Name: name, Updated: now}
		identity, _ = identity.WithAddress(addr)
		s.put(identity)
		if err := s.store.Insert(ctx, identity); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist identity", "identifier", id, "error", err)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist identity")
		}
		return nil
	}

	next := current.Clone()
	nameChanged := name != "" && !strings.EqualFold(current.Name, name)
	if nameChanged {
		next.Name = name
	}
	next, addrAdded := next.WithAddress(addr)
	if !nameChanged && !addrAdded {
		return nil
	}
	next.Updated = now
	s.put(next)
	if err := s.store.Update(ctx, next, nameChanged, addrAdded); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist identity update", "identifier", id, "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist identity update")
	}
	return nil
}

func (s *Service) writerFor(id uuid.UUID) *sync.Mutex {
	s.writersMu.Lock()
	defer s.writersMu.Unlock()
	m, ok := s.writers[id]
	if !ok {
		m = &sync.Mutex{}
		s.writers[id] = m
	}
	return m
}

func (s *Service) put(identity models.Identity) {
	s.mu.Lock()
	s.putLocked(identity)
	s.mu.Unlock()
}

func (s *Service) putLocked(identity models.Identity) {
	if old, ok := s.identities[identity.ID]; ok {
		if key := strings.ToLower(old.Name); s.byName[key] == identity.ID {
			delete(s.byName, key)
		}
	}
	s.identities[identity.ID] = identity
	if identity.Name != "" {
		s.byName[strings.ToLower(identity.Name)] = identity.ID
	}
	for _, addr := range identity.Addresses {
		ids := s.byAddr[addr]
		if ids == nil {
			ids = make(map[uuid.UUID]struct{})
			s.byAddr[addr] = ids
		}
		ids[identity.ID] = struct{}{}
	}
}

// Identity returns a copy of the cache entry for id.
func (s *Service) Identity(id uuid.UUID) (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	return identity.Clone(), ok
}

// Addresses lists every address observed for id.
func (s *Service) Addresses(id uuid.UUID) []netip.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.identities[id].Addresses)
}

// IdentifiersFor lists every identifier on record as having used addr.
func (s *Service) IdentifiersFor(addr netip.Addr) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIDs(s.byAddr[addr.Unmap()])
}

// AliasClosure lists every identifier reachable from addr by alternating
// between identities and the addresses they have used.
func (s *Service) AliasClosure(addr netip.Addr) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seenAddr := map[netip.Addr]struct{}{addr.Unmap(): {}}
	seenID := make(map[uuid.UUID]struct{})
	queue := []netip.Addr{addr.Unmap()}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for id := range s.byAddr[next] {
			if _, ok := seenID[id]; ok {
				continue
			}
			seenID[id] = struct{}{}
			for _, a := range s.identities[id].Addresses {
				if _, ok := seenAddr[a]; !ok {
					seenAddr[a] = struct{}{}
					queue = append(queue, a)
				}
			}
		}
	}
	return sortedIDs(seenID)
}

// Len is the number of cached identities.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities)
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return out
}
