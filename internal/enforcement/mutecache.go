package enforcement

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/enforcement/ports"
	"warden/internal/punishment/models"
	"warden/pkg/domain"
)

type muteKey struct {
	id   uuid.UUID
	addr netip.Addr
}

// muteEntry is a positive (mute set) or negative result. Positive entries
// of permanent mutes never expire on their own.
type muteEntry struct {
	mute      *models.Punishment
	expiresAt time.Time
}

// SubjectsFunc lists the subjects whose mutes apply to a session.
type SubjectsFunc func(id uuid.UUID, addr netip.Addr) []domain.Subject

// exactSubjects is the player plus the address it is connected from.
func exactSubjects(id uuid.UUID, addr netip.Addr) []domain.Subject {
	return []domain.Subject{domain.Player(id), domain.Address(addr)}
}

// MuteCache answers "is this session muted" without a full store query.
type MuteCache struct {
	mu          sync.RWMutex
	entries     map[muteKey]muteEntry
	punishments ports.Punishments
	subjects    SubjectsFunc
	negativeTTL time.Duration
	now         func() time.Time
}

// NewMuteCache builds a cache that looks misses up against subjects, or
// just the player and its current address when subjects is nil.
func NewMuteCache(punishments ports.Punishments, negativeTTL time.Duration, now func() time.Time, subjects SubjectsFunc) *MuteCache {
	if now == nil {
		now = time.Now
	}
	if subjects == nil {
		subjects = exactSubjects
	}
	return &MuteCache{
		entries:     make(map[muteKey]muteEntry),
		punishments: punishments,
		subjects:    subjects,
		negativeTTL: negativeTTL,
		now:         now,
	}
}

// Get returns the mute in force for the session, consulting the punishment
// store on a miss.
func (c *MuteCache) Get(ctx context.Context, id uuid.UUID, addr netip.Addr) (models.Punishment, bool) {
	key := muteKey{id: id, addr: addr.Unmap()}
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && (entry.expiresAt.IsZero() || now.Before(entry.expiresAt)) {
		if entry.mute == nil {
			return models.Punishment{}, false
		}
		return *entry.mute, true
	}

	mute, found := c.punishments.Find(ctx, models.TypeMute, c.subjects(id, key.addr)...)
	if found {
		c.Set(id, key.addr, mute)
		return mute, true
	}
	c.mu.Lock()
	c.entries[key] = muteEntry{expiresAt: now.Add(c.negativeTTL)}
	c.mu.Unlock()
	return models.Punishment{}, false
}

// Set records mute as enforced for the session.
func (c *MuteCache) Set(id uuid.UUID, addr netip.Addr, mute models.Punishment) {
	entry := muteEntry{mute: &mute}
	if !mute.Permanent() {
		entry.expiresAt = mute.Expiration
	}
	c.mu.Lock()
	c.entries[muteKey{id: id, addr: addr.Unmap()}] = entry
	c.mu.Unlock()
}

// Invalidate drops every entry holding mute.
func (c *MuteCache) Invalidate(mute models.Punishment) {
	key := mute.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.mute != nil && e.mute.Key() == key {
			delete(c.entries, k)
		}
	}
}

// Forget drops negative entries that a new mute on subject may contradict.
// An address mute can reach sessions on other addresses through linked
// identities, so it drops every negative entry.
func (c *MuteCache) Forget(subject domain.Subject) {
	id, isPlayer := subject.PlayerID()
	_, isAddr := subject.Addr()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.mute != nil {
			continue
		}
		if isAddr || (isPlayer && k.id == id) {
			delete(c.entries, k)
		}
	}
}

// Len is the number of cached entries, positive and negative.
func (c *MuteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
