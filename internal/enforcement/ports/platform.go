// Package ports declares what the enforcement engine needs from the hosting
// server and from the other core components.
package ports

//go:generate mockgen -source=platform.go -destination=mocks/platform_mock.go -package=mocks

import (
	"context"
	"net/netip"

	"github.com/google/uuid"
)

// Session is one connected player as seen by the host.
type Session struct {
	ID      uuid.UUID
	Name    string
	Address netip.Addr
}

// Platform is the hosting environment: session enumeration, message
// delivery and connection termination.
type Platform interface {
	Sessions(ctx context.Context) []Session
	Session(ctx context.Context, id uuid.UUID) (Session, bool)
	Disconnect(ctx context.Context, id uuid.UUID, message string) error
	SendMessage(ctx context.Context, id uuid.UUID, message string) error
}
