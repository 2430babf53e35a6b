package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/pkg/domain"
)

// Type is the kind of sanction.
type Type string

const (
	TypeBan  Type = "BAN"
	TypeMute Type = "MUTE"
	TypeWarn Type = "WARN"
	TypeKick Type = "KICK"
)

// Types lists every punishment type.
var Types = []Type{TypeBan, TypeMute, TypeWarn, TypeKick}

// ParseType accepts a type name in any case.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeBan, TypeMute, TypeWarn, TypeKick:
		return t, nil
	}
	return "", fmt.Errorf("unknown punishment type %q", s)
}

// Unique reports whether at most one active punishment of this type may
// exist per subject.
func (t Type) Unique() bool {
	return t == TypeBan || t == TypeMute
}

// Tracked reports whether punishments of this type enter the active set.
func (t Type) Tracked() bool {
	return t != TypeKick
}

var (
	// ErrConflictingPunishment is returned when a unique type is already active for a subject.
	ErrConflictingPunishment = errors.New("conflicting punishment")
	// ErrMissingPunishment is returned when a punishment is not in the active set.
	ErrMissingPunishment = errors.New("missing punishment")
)

// Permanent is the persisted expiration of punishments that never expire.
const Permanent int64 = -1

// Punishment is an immutable sanction record. Date and Expiration are kept at
// millisecond precision; a zero Expiration means permanent.
type Punishment struct {
	Type       Type
	Subject    domain.Subject
	Operator   domain.Subject
	Reason     string
	Date       time.Time
	Expiration time.Time
}

// New builds a punishment dated now. A zero or negative duration is permanent.
func New(t Type, subject, operator domain.Subject, reason string, now time.Time, duration time.Duration) Punishment {
	p := Punishment{
		Type:     t,
		Subject:  subject,
		Operator: operator,
		Reason:   reason,
		Date:     truncate(now),
	}
	if duration > 0 {
		p.Expiration = truncate(now.Add(duration))
	}
	return p
}

func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// FromMillis rebuilds a punishment from its persisted columns.
func FromMillis(t Type, subject, operator domain.Subject, reason string, date, expiration int64) Punishment {
	p := Punishment{
		Type:     t,
		Subject:  subject,
		Operator: operator,
		Reason:   reason,
		Date:     time.UnixMilli(date).UTC(),
	}
	if expiration > 0 {
		p.Expiration = time.UnixMilli(expiration).UTC()
	}
	return p
}

// Validate checks the fields every stored punishment must have.
func (p Punishment) Validate() error {
	if _, err := ParseType(string(p.Type)); err != nil {
		return err
	}
	if p.Subject.IsZero() {
		return errors.New("punishment subject is required")
	}
	if p.Operator.IsZero() {
		return errors.New("punishment operator is required")
	}
	if p.Date.IsZero() {
		return errors.New("punishment date is required")
	}
	return nil
}

func (p Punishment) Permanent() bool {
	return p.Expiration.IsZero()
}

// Expired reports whether the expiration has passed at now.
func (p Punishment) Expired(now time.Time) bool {
	return !p.Permanent() && !p.Expiration.After(now)
}

// Retroactive reports whether the punishment was already expired when
// inserted at now.
func (p Punishment) Retroactive(now time.Time) bool {
	return p.Expired(now)
}

func (p Punishment) DateMillis() int64 {
	return p.Date.UnixMilli()
}

// ExpirationMillis returns the persisted expiration, Permanent when unset.
func (p Punishment) ExpirationMillis() int64 {
	if p.Permanent() {
		return Permanent
	}
	return p.Expiration.UnixMilli()
}

// Key identifies a punishment within the active and history sets.
type Key struct {
	Type    Type
	Subject domain.Subject
	Date    int64
}

func (p Punishment) Key() Key {
	return Key{Type: p.Type, Subject: p.Subject, Date: p.DateMillis()}
}

// Slot is the (subject, type) pair on which uniqueness is enforced.
type Slot struct {
	Type    Type
	Subject domain.Subject
}

func (p Punishment) Slot() Slot {
	return Slot{Type: p.Type, Subject: p.Subject}
}

func (p Punishment) String() string {
	return fmt.Sprintf("%s %s by %s at %d", p.Type, p.Subject, p.Operator, p.DateMillis())
}
