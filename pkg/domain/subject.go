package domain

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

// SubjectKind tags the variant held by a Subject.
type SubjectKind uint8

const (
	KindPlayer SubjectKind = iota + 1
	KindAddress
	KindConsole
)

func (k SubjectKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindAddress:
		return "address"
	case KindConsole:
		return "console"
	default:
		return "unknown"
	}
}

const (
	prefixPlayer  = "[subject:uuid]"
	prefixAddress = "[subject:addr]"
	tokenConsole  = "[subject:cons]"
)

var (
	// ErrInvalidIdentifier is returned when a player subject carries a malformed UUID.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrParse is returned for any other malformed serialized subject.
	ErrParse = errors.New("cannot parse subject")
)

// Subject is the punished identity or the identity that issued a sanction.
// It is one of Player, Address or Console. Values are comparable and safe to
// use as map keys; the zero value is not a valid subject.
type Subject struct {
	kind SubjectKind
	id   uuid.UUID
	addr netip.Addr
}

// Player returns a subject for the player identified by id.
func Player(id uuid.UUID) Subject {
	return Subject{kind: KindPlayer, id: id}
}

// Address returns a subject for a network address.
func Address(addr netip.Addr) Subject {
	return Subject{kind: KindAddress, addr: addr.Unmap()}
}

// Console returns the administrative console subject.
func Console() Subject {
	return Subject{kind: KindConsole}
}

func (s Subject) Kind() SubjectKind { return s.kind }

func (s Subject) IsZero() bool { return s.kind == 0 }

// PlayerID returns the player's identifier when s is a Player subject.
func (s Subject) PlayerID() (uuid.UUID, bool) {
	return s.id, s.kind == KindPlayer
}

// Addr returns the address when s is an Address subject.
func (s Subject) Addr() (netip.Addr, bool) {
	return s.addr, s.kind == KindAddress
}

// String returns the serialized form; see ParseSubject.
func (s Subject) String() string {
	switch s.kind {
	case KindPlayer:
		return prefixPlayer + strings.ReplaceAll(s.id.String(), "-", "")
	case KindAddress:
		return prefixAddress + s.addr.String()
	case KindConsole:
		return tokenConsole
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Subject) MarshalText() ([]byte, error) {
	if s.IsZero() {
		return nil, dErrors.Wrap(ErrParse, dErrors.CodeInvalidInput, "empty subject")
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Subject) UnmarshalText(text []byte) error {
	parsed, err := ParseSubject(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSubject reads the tagged-prefix format produced by String:
//
//	[subject:uuid]<32 hex digits>
//	[subject:addr]<address>
//	[subject:cons]
func ParseSubject(raw string) (Subject, error) {
	switch {
	case strings.HasPrefix(raw, prefixPlayer):
		hex := raw[len(prefixPlayer):]
		if len(hex) != 32 {
			return Subject{}, dErrors.Wrap(ErrInvalidIdentifier, dErrors.CodeInvalidInput,
				fmt.Sprintf("player identifier %q must be 32 hex digits", hex))
		}
		id, err := uuid.Parse(hex)
		if err != nil {
			return Subject{}, dErrors.Wrap(ErrInvalidIdentifier, dErrors.CodeInvalidInput,
				fmt.Sprintf("player identifier %q", hex))
		}
		return Player(id), nil
	case strings.HasPrefix(raw, prefixAddress):
		addr, err := netip.ParseAddr(raw[len(prefixAddress):])
		if err != nil {
			return Subject{}, dErrors.Wrap(ErrParse, dErrors.CodeInvalidInput,
				fmt.Sprintf("cannot parse %q as Subject address", raw))
		}
		return Address(addr), nil
	case raw == tokenConsole:
		return Console(), nil
	default:
		return Subject{}, dErrors.Wrap(ErrParse, dErrors.CodeInvalidInput,
			fmt.Sprintf("cannot parse %q as Subject", raw))
	}
}

// MustParseSubject is ParseSubject for constants and tests.
func MustParseSubject(raw string) Subject {
	s, err := ParseSubject(raw)
	if err != nil {
		panic(err)
	}
	return s
}
