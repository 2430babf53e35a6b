package httptransport

import (
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/punishment/models"
	dErrors "warden/pkg/domain-errors"
)

const maxReasonLength = 256

// punishRequest is the body of POST /v1/punishments. Subject is a
// serialized subject, a bare identifier or address, or a player name.
type punishRequest struct {
	Type     string `json:"type"`
	Subject  string `json:"subject"`
	Reason   string `json:"reason"`
	Duration string `json:"duration,omitempty"`

	parsedType     models.Type
	parsedDuration time.Duration
}

func (r *punishRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeInvalidInput, "reason must be at most 256 characters")
	}

	r.Subject = strings.TrimSpace(r.Subject)
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Subject == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if r.Type == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "type is required")
	}

	t, err := models.ParseType(r.Type)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "unknown punishment type")
	}
	r.parsedType = t

	if r.Duration != "" {
		d, err := time.ParseDuration(r.Duration)
		if err != nil || d <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "duration must be a positive Go duration such as 30m or 72h")
		}
		r.parsedDuration = d
	}
	return nil
}

// joinRequest is the body of POST /v1/sessions: a host reporting a login.
type joinRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`

	parsedID   uuid.UUID
	parsedAddr netip.Addr
}

func (r *joinRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "id must be a player identifier")
	}
	addr, err := netip.ParseAddr(r.Address)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "address must be an IP address")
	}
	r.parsedID = id
	r.parsedAddr = addr.Unmap()
	return nil
}

// chatRequest is the body of POST /v1/sessions/{id}/chat. An empty command
// checks a plain chat line.
type chatRequest struct {
	Command string `json:"command,omitempty"`
}

func (r *chatRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Command = strings.TrimSpace(r.Command)
	return nil
}

// decisionResponse answers the host's login and chat checks.
type decisionResponse struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}
