package ports

import (
	"context"
	"net/netip"

	"github.com/google/uuid"

	"warden/internal/punishment/models"
	"warden/pkg/domain"
)

// Resolver is the slice of the identity resolver used for address matching
// and connection bookkeeping.
type Resolver interface {
	UpdateCache(ctx context.Context, id uuid.UUID, name string, addr netip.Addr) error
	Addresses(id uuid.UUID) []netip.Addr
	IdentifiersFor(addr netip.Addr) []uuid.UUID
	AliasClosure(addr netip.Addr) []uuid.UUID
}

// Punishments answers active-punishment lookups.
type Punishments interface {
	Find(ctx context.Context, t models.Type, subjects ...domain.Subject) (models.Punishment, bool)
}
