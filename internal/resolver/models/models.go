// Package models holds the resolver's identity and geo-location records.
package models

import (
	"errors"
	"net/netip"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPlayerNotFound means every name source failed for a lookup.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrNoGeoInfo means every geo provider failed for an address.
	ErrNoGeoInfo = errors.New("no geo information")
)

// Identity is one identity cache entry. Addresses is an insertion-ordered
// set.
type Identity struct {
	ID        uuid.UUID
	Name      string
	Addresses []netip.Addr
	Updated   time.Time
}

// HasAddress reports whether addr was ever observed for the identity.
func (i Identity) HasAddress(addr netip.Addr) bool {
	return slices.Contains(i.Addresses, addr.Unmap())
}

// WithAddress returns a copy with addr appended, and whether it was new.
func (i Identity) WithAddress(addr netip.Addr) (Identity, bool) {
	addr = addr.Unmap()
	if !addr.IsValid() || i.HasAddress(addr) {
		return i, false
	}
	i.Addresses = append(slices.Clip(i.Addresses), addr)
	return i, true
}

// Clone copies the address list so callers cannot mutate cached state.
func (i Identity) Clone() Identity {
	i.Addresses = slices.Clone(i.Addresses)
	return i
}

// GeoInfo is a provider's answer for one address.
type GeoInfo struct {
	Address     netip.Addr `json:"address"`
	CountryCode string     `json:"country_code"`
	CountryName string     `json:"country_name"`
	RegionCode  string     `json:"region_code"`
	RegionName  string     `json:"region_name"`
	City        string     `json:"city"`
	ZIP         string     `json:"zip"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Source      string     `json:"source"`
}
