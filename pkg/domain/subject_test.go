package domain

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "warden/pkg/domain-errors"
)

// TestSubject_RoundTrip validates that every variant survives serialization.
//
// Justification: the serialized form is the persisted key for punishments;
// a lossy encoding would orphan stored rows.
func TestSubject_RoundTrip(t *testing.T) {
	cases := map[string]Subject{
		"random player":  Player(uuid.New()),
		"all-zero uuid":  Player(uuid.Nil),
		"all-F uuid":     Player(uuid.MustParse("ffffffffffffffffffffffffffffffff")),
		"ipv4 address":   Address(netip.MustParseAddr("10.0.0.5")),
		"ipv6 address":   Address(netip.MustParseAddr("2001:db8::1")),
		"console":        Console(),
		"mapped address": Address(netip.MustParseAddr("::ffff:192.168.1.1")),
	}

	for name, subject := range cases {
		t.Run(name, func(t *testing.T) {
			parsed, err := ParseSubject(subject.String())
			require.NoError(t, err)
			assert.Equal(t, subject, parsed)
		})
	}
}

func TestSubject_Format(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "[subject:uuid]550e8400e29b41d4a716446655440000", Player(id).String())
	assert.Equal(t, "[subject:addr]10.0.0.5", Address(netip.MustParseAddr("10.0.0.5")).String())
	assert.Equal(t, "[subject:cons]", Console().String())
	assert.Equal(t, "[subject:addr]192.168.1.1", Address(netip.MustParseAddr("::ffff:192.168.1.1")).String())
}

func TestParseSubject_Errors(t *testing.T) {
	t.Run("bad uuid is an invalid identifier", func(t *testing.T) {
		for _, raw := range []string{
			"[subject:uuid]",
			"[subject:uuid]xyz",
			"[subject:uuid]zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
			"[subject:uuid]550e8400-e29b-41d4-a716-446655440000",
		} {
			_, err := ParseSubject(raw)
			require.Error(t, err, raw)
			assert.True(t, errors.Is(err, ErrInvalidIdentifier), raw)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		}
	})

	t.Run("unknown prefix is a parse failure naming the type", func(t *testing.T) {
		_, err := ParseSubject("[victim:uuid]00000000000000000000000000000000")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrParse)
		assert.Contains(t, err.Error(), "Subject")
	})

	t.Run("bad address is a parse failure", func(t *testing.T) {
		_, err := ParseSubject("[subject:addr]not-an-ip")
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestSubject_Equality(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, Player(id), Player(id))
	assert.NotEqual(t, Player(id), Player(uuid.New()))
	assert.NotEqual(t, Player(uuid.Nil), Console())
	assert.True(t, Subject{}.IsZero())

	got, ok := Player(id).PlayerID()
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = Console().Addr()
	assert.False(t, ok)
}

func TestSubject_Text(t *testing.T) {
	var s Subject
	require.NoError(t, s.UnmarshalText([]byte("[subject:cons]")))
	assert.Equal(t, Console(), s)

	_, err := Subject{}.MarshalText()
	assert.Error(t, err)
}
