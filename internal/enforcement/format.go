package enforcement

import (
	"fmt"

	"warden/internal/punishment/models"
)

// Formatter renders the message shown to a punished player.
type Formatter interface {
	Message(p models.Punishment) string
}

// PlainFormatter renders one line per punishment.
type PlainFormatter struct{}

const expiryLayout = "2006-01-02 15:04 MST"

func (PlainFormatter) Message(p models.Punishment) string {
	var verb string
	switch p.Type {
	case models.TypeBan:
		verb = "Banned"
	case models.TypeMute:
		verb = "Muted"
	case models.TypeWarn:
		verb = "Warned"
	case models.TypeKick:
		return fmt.Sprintf("Kicked: %s", reason(p))
	default:
		verb = string(p.Type)
	}
	if p.Permanent() {
		return fmt.Sprintf("%s: %s (permanent)", verb, reason(p))
	}
	return fmt.Sprintf("%s: %s (expires %s)", verb, reason(p), p.Expiration.UTC().Format(expiryLayout))
}

func reason(p models.Punishment) string {
	if p.Reason == "" {
		return "no reason given"
	}
	return p.Reason
}
