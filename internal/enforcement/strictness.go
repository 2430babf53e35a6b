package enforcement

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"

	"warden/internal/enforcement/ports"
)

// Strictness selects how address punishments reach player sessions.
type Strictness string

const (
	// Lenient matches sessions connected from the exact address.
	Lenient Strictness = "lenient"
	// Normal matches every identity on record as having used the address.
	Normal Strictness = "normal"
	// Strict matches every identity linked to the address through shared
	// addresses, transitively.
	Strict Strictness = "strict"
)

func ParseStrictness(s string) (Strictness, error) {
	switch v := Strictness(strings.ToLower(strings.TrimSpace(s))); v {
	case Lenient, Normal, Strict:
		return v, nil
	default:
		return "", fmt.Errorf("unknown address strictness %q", s)
	}
}

// matcher selects the live sessions an address punishment applies to. It
// is built per enforcement call and never stored.
type matcher interface {
	matches(s ports.Session) bool
}

type exactMatcher struct {
	addr netip.Addr
}

func (m exactMatcher) matches(s ports.Session) bool {
	return s.Address.Unmap() == m.addr
}

type identityMatcher struct {
	ids map[uuid.UUID]struct{}
}

func (m identityMatcher) matches(s ports.Session) bool {
	_, ok := m.ids[s.ID]
	return ok
}

func newIdentityMatcher(ids []uuid.UUID) identityMatcher {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return identityMatcher{ids: set}
}

func buildMatcher(strictness Strictness, resolver ports.Resolver, addr netip.Addr) matcher {
	addr = addr.Unmap()
	switch strictness {
	case Normal:
		return newIdentityMatcher(resolver.IdentifiersFor(addr))
	case Strict:
		return newIdentityMatcher(resolver.AliasClosure(addr))
	default:
		return exactMatcher{addr: addr}
	}
}
