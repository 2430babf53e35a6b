package httptransport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"warden/internal/punishment/models"
	"warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/auth"
)

// handlePunish issues one punishment on behalf of the token's operator and
// answers once it is persisted and announced.
func (h *Handler) handlePunish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[punishRequest](w, r, h.logger)
	if !ok {
		return
	}
	operator, err := operatorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, err := h.subjectOrName(ctx, req.Subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p := models.New(req.parsedType, subject, operator, req.Reason, h.now(), req.parsedDuration)
	task, err := h.writer.Add(ctx, p)
	if err != nil {
		h.logger.InfoContext(ctx, "punishment rejected", "punishment", p.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	if err := task.Wait(ctx); err != nil {
		h.logger.ErrorContext(ctx, "punishment not completed", "punishment", p.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "punishment issued", "punishment", p.String(), "operator", operator)
	httputil.WriteJSON(w, http.StatusCreated, toPunishmentResponse(p))
}

// handlePardon lifts the newest active punishment of a type from a subject.
func (h *Handler) handlePardon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, err := parseSubject(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := models.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "unknown punishment type"))
		return
	}

	p, err := h.writer.Get(ctx, subject, t)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	task, err := h.writer.Remove(ctx, p)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := task.Wait(ctx); err != nil {
		h.logger.ErrorContext(ctx, "removal not completed", "punishment", p.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "punishment lifted", "punishment", p.String(), "operator", auth.GetOperator(ctx))
	httputil.WriteJSON(w, http.StatusOK, toPunishmentResponse(p))
}

// operatorFrom maps the authenticated token subject onto a punishment
// operator. Open deployments act as the console.
func operatorFrom(ctx context.Context) (domain.Subject, error) {
	raw := auth.GetOperator(ctx)
	if raw == "" {
		return domain.Console(), nil
	}
	operator, err := parseSubject(raw)
	if err != nil {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized,
			"token operator "+strconv.Quote(raw)+" is not a player or the console")
	}
	if _, isAddr := operator.Addr(); isAddr {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "an address cannot issue punishments")
	}
	return operator, nil
}

// subjectOrName parses raw as a subject and otherwise resolves it as a
// player name through the full source chain.
func (h *Handler) subjectOrName(ctx context.Context, raw string) (domain.Subject, error) {
	if subject, err := parseSubject(raw); err == nil {
		return subject, nil
	}
	id, err := h.resolver.ResolveByName(ctx, raw, true)
	if err != nil {
		return domain.Subject{}, err
	}
	return domain.Player(id), nil
}
