package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"warden/internal/enforcement/ports"
	"warden/internal/platform/async"
	"warden/internal/punishment/models"
	"warden/internal/punishment/service"
	resolvermodels "warden/internal/resolver/models"
	"warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
)

// Punishments is the read side of the punishment store.
type Punishments interface {
	Snapshot(ctx context.Context) []models.Punishment
	ActiveByType(ctx context.Context, t models.Type) []models.Punishment
	History(ctx context.Context, f service.HistoryFilter) []models.Punishment
}

// Resolver answers identity and address questions.
type Resolver interface {
	ResolveByName(ctx context.Context, name string, allowExternal bool) (uuid.UUID, error)
	Identity(id uuid.UUID) (resolvermodels.Identity, bool)
	IdentifiersFor(addr netip.Addr) []uuid.UUID
	LookupGeo(ctx context.Context, addr netip.Addr) (resolvermodels.GeoInfo, error)
}

// PunishmentWriter issues and lifts punishments.
type PunishmentWriter interface {
	Add(ctx context.Context, ps ...models.Punishment) (*async.Task, error)
	Remove(ctx context.Context, ps ...models.Punishment) (*async.Task, error)
	Get(ctx context.Context, subject domain.Subject, t models.Type) (models.Punishment, error)
}

// Gatekeeper decides whether logins and chat lines go through.
type Gatekeeper interface {
	CheckConnection(ctx context.Context, id uuid.UUID, name string, addr netip.Addr) (string, bool)
	CheckChat(ctx context.Context, id uuid.UUID, addr netip.Addr, command string) (string, bool)
}

// SessionTracker keeps the live sessions hosts report.
type SessionTracker interface {
	Join(s ports.Session)
	Leave(id uuid.UUID)
	Session(ctx context.Context, id uuid.UUID) (ports.Session, bool)
}

const defaultHistoryLimit = 100

// Handler holds the admin endpoints. Write routes exist only when their
// dependencies are configured.
type Handler struct {
	punishments Punishments
	resolver    Resolver
	writer      PunishmentWriter
	gatekeeper  Gatekeeper
	sessions    SessionTracker
	logger      *slog.Logger
	now         func() time.Time
}

type HandlerOption func(*Handler)

// WithPunishmentWriter enables issuing and lifting punishments.
func WithPunishmentWriter(w PunishmentWriter) HandlerOption {
	return func(h *Handler) {
		h.writer = w
	}
}

// WithSessions enables the host session routes.
func WithSessions(g Gatekeeper, t SessionTracker) HandlerOption {
	return func(h *Handler) {
		h.gatekeeper = g
		h.sessions = t
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

func NewHandler(punishments Punishments, resolver Resolver, logger *slog.Logger, opts ...HandlerOption) (*Handler, error) {
	if punishments == nil {
		return nil, errors.New("punishments is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{punishments: punishments, resolver: resolver, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if (h.gatekeeper == nil) != (h.sessions == nil) {
		return nil, errors.New("session routes need both a gatekeeper and a session tracker")
	}
	return h, nil
}

type punishmentResponse struct {
	Type       models.Type `json:"type"`
	Subject    string      `json:"subject"`
	Operator   string      `json:"operator"`
	Reason     string      `json:"reason"`
	Date       time.Time   `json:"date"`
	Expiration *time.Time  `json:"expiration,omitempty"`
	Permanent  bool        `json:"permanent"`
}

type punishmentsResponse struct {
	Punishments []punishmentResponse `json:"punishments"`
}

func toResponse(ps []models.Punishment) punishmentsResponse {
	out := punishmentsResponse{Punishments: make([]punishmentResponse, 0, len(ps))}
	for _, p := range ps {
		out.Punishments = append(out.Punishments, toPunishmentResponse(p))
	}
	return out
}

func toPunishmentResponse(p models.Punishment) punishmentResponse {
	r := punishmentResponse{
		Type:      p.Type,
		Subject:   p.Subject.String(),
		Operator:  p.Operator.String(),
		Reason:    p.Reason,
		Date:      p.Date,
		Permanent: p.Permanent(),
	}
	if !p.Permanent() {
		exp := p.Expiration
		r.Expiration = &exp
	}
	return r
}

type playerResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Addresses []string  `json:"addresses"`
	Updated   time.Time `json:"updated,omitzero"`
}

// parseSubject accepts the serialized subject form as well as a bare
// identifier, address or "console".
func parseSubject(raw string) (domain.Subject, error) {
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	if strings.HasPrefix(raw, "[") {
		return domain.ParseSubject(raw)
	}
	if strings.EqualFold(raw, "console") {
		return domain.Console(), nil
	}
	if id, err := uuid.Parse(raw); err == nil {
		return domain.Player(id), nil
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return domain.Address(addr.Unmap()), nil
	}
	return domain.Subject{}, dErrors.New(dErrors.CodeInvalidInput, "cannot parse "+strconv.Quote(raw)+" as a subject")
}

func parseAddr(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, dErrors.New(dErrors.CodeInvalidInput, "cannot parse "+strconv.Quote(raw)+" as an address")
	}
	return addr.Unmap(), nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
	}
	return n, nil
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("type")
	if raw == "" {
		httputil.WriteJSON(w, http.StatusOK, toResponse(h.punishments.Snapshot(ctx)))
		return
	}
	t, err := models.ParseType(raw)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "unknown punishment type"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(h.punishments.ActiveByType(ctx, t)))
}

func (h *Handler) handleSubjectActive(w http.ResponseWriter, r *http.Request) {
	subject, err := parseSubject(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	all := h.punishments.Snapshot(r.Context())
	out := all[:0]
	for _, p := range all {
		if p.Subject == subject {
			out = append(out, p)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(out))
}

func (h *Handler) handleSubjectHistory(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, func(f *service.HistoryFilter, s domain.Subject) { f.Subject = s })
}

func (h *Handler) handleBlame(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, func(f *service.HistoryFilter, s domain.Subject) { f.Operator = s })
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, by func(*service.HistoryFilter, domain.Subject)) {
	subject, err := parseSubject(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter := service.HistoryFilter{Limit: limit}
	if raw := r.URL.Query().Get("type"); raw != "" {
		if filter.Type, err = models.ParseType(raw); err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "unknown punishment type"))
			return
		}
	}
	by(&filter, subject)
	httputil.WriteJSON(w, http.StatusOK, toResponse(h.punishments.History(r.Context(), filter)))
}

func (h *Handler) handlePlayer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	id, err := h.resolver.ResolveByName(ctx, name, false)
	if err != nil {
		h.logger.DebugContext(ctx, "player lookup missed", "name", name, "error", err)
		httputil.WriteError(w, err)
		return
	}
	resp := playerResponse{ID: id, Name: name, Addresses: []string{}}
	if identity, ok := h.resolver.Identity(id); ok {
		resp.Name = identity.Name
		resp.Updated = identity.Updated
		for _, addr := range identity.Addresses {
			resp.Addresses = append(resp.Addresses, addr.String())
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAddressPlayers(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ids := h.resolver.IdentifiersFor(addr)
	if ids == nil {
		ids = []uuid.UUID{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"address": addr.String(), "players": ids})
}

func (h *Handler) handleGeo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	info, err := h.resolver.LookupGeo(ctx, addr)
	if err != nil {
		h.logger.WarnContext(ctx, "geo lookup failed", "address", addr, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": body})
	}
}
