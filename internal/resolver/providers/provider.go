// Package providers implements the name and geo-location lookup sources used
// by the resolver's fallback chains.
package providers

import (
	"context"
	"net/netip"

	"github.com/google/uuid"

	"warden/internal/resolver/models"
)

// Profile is a name source's answer: an identifier and its current name.
type Profile struct {
	ID   uuid.UUID
	Name string
}

// NameProvider resolves player identities by name or identifier. Failures
// are *ProviderError values.
type NameProvider interface {
	ID() string
	ByName(ctx context.Context, name string) (Profile, error)
	ByID(ctx context.Context, id uuid.UUID) (Profile, error)
}

// GeoProvider resolves the location of a network address.
type GeoProvider interface {
	ID() string
	Lookup(ctx context.Context, addr netip.Addr) (models.GeoInfo, error)
}
