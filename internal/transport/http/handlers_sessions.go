package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"warden/internal/enforcement/ports"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
)

// handleJoin checks a login reported by a host and tracks the session when
// it is allowed. A refusal carries the message to show the player.
func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[joinRequest](w, r, h.logger)
	if !ok {
		return
	}

	message, denied := h.gatekeeper.CheckConnection(ctx, req.parsedID, req.Name, req.parsedAddr)
	if denied {
		h.logger.InfoContext(ctx, "login denied", "player", req.parsedID, "name", req.Name, "address", req.parsedAddr)
		httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: false, Message: message})
		return
	}
	h.sessions.Join(ports.Session{ID: req.parsedID, Name: req.Name, Address: req.parsedAddr})
	httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: true})
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.sessions.Leave(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleChat checks a chat line or command from a tracked session.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseSessionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[chatRequest](w, r, h.logger)
	if !ok {
		return
	}
	session, online := h.sessions.Session(ctx, id)
	if !online {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session "+id.String()+" is not connected"))
		return
	}

	message, blocked := h.gatekeeper.CheckChat(ctx, session.ID, session.Address, req.Command)
	httputil.WriteJSON(w, http.StatusOK, decisionResponse{Allowed: !blocked, Message: message})
}

func parseSessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "session id must be a player identifier")
	}
	return id, nil
}
