package providers

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Ashcon queries the ashcon.app Mojang mirror, which accepts either a name
// or an identifier on the same route.
type Ashcon struct {
	httpSource
}

type ashconUser struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
}

func NewAshcon(baseURL string, opts ...Option) *Ashcon {
	return &Ashcon{httpSource: newHTTPSource("ashcon", baseURL, opts)}
}

func (a *Ashcon) ByName(ctx context.Context, name string) (Profile, error) {
	return a.user(ctx, url.PathEscape(name))
}

func (a *Ashcon) ByID(ctx context.Context, id uuid.UUID) (Profile, error) {
	return a.user(ctx, id.String())
}

func (a *Ashcon) user(ctx context.Context, key string) (Profile, error) {
	var body ashconUser
	if err := a.getJSON(ctx, a.baseURL+"/"+key, &body); err != nil {
		return Profile{}, err
	}
	return profile(a.id, body.UUID, body.Username)
}

// Mojang queries the official profile and session APIs.
type Mojang struct {
	httpSource
	sessionURL string
}

type mojangProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func NewMojang(profileURL, sessionURL string, opts ...Option) *Mojang {
	return &Mojang{
		httpSource: newHTTPSource("mojang", profileURL, opts),
		sessionURL: strings.TrimRight(sessionURL, "/"),
	}
}

func (m *Mojang) ByName(ctx context.Context, name string) (Profile, error) {
	var body mojangProfile
	if err := m.getJSON(ctx, m.baseURL+"/"+url.PathEscape(name), &body); err != nil {
		return Profile{}, err
	}
	return profile(m.id, body.ID, body.Name)
}

func (m *Mojang) ByID(ctx context.Context, id uuid.UUID) (Profile, error) {
	var body mojangProfile
	nodash := strings.ReplaceAll(id.String(), "-", "")
	if err := m.getJSON(ctx, m.sessionURL+"/"+nodash, &body); err != nil {
		return Profile{}, err
	}
	return profile(m.id, body.ID, body.Name)
}

// profile validates a decoded answer. Both APIs accept dashed and undashed
// identifiers, which uuid.Parse handles.
func profile(providerID, rawID, name string) (Profile, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Profile{}, NewProviderError(ErrorBadData, providerID, "invalid identifier in response", err)
	}
	if name == "" {
		return Profile{}, NewProviderError(ErrorBadData, providerID, "empty name in response", nil)
	}
	return Profile{ID: id, Name: name}, nil
}
