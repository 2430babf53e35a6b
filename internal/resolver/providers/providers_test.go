package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/platform/config"
)

var notch = uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAshcon(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Notch", "/" + notch.String():
			_, _ = w.Write([]byte(`{"uuid":"069a79f4-44e9-4726-a5be-fca90e38aaf5","username":"Notch"}`))
		case "/garbled":
			_, _ = w.Write([]byte(`{"uuid":"not-a-uuid","username":"x"}`))
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	p := NewAshcon(srv.URL)
	ctx := context.Background()

	t.Run("resolves by name", func(t *testing.T) {
		got, err := p.ByName(ctx, "Notch")
		require.NoError(t, err)
		assert.Equal(t, Profile{ID: notch, Name: "Notch"}, got)
	})

	t.Run("resolves by identifier", func(t *testing.T) {
		got, err := p.ByID(ctx, notch)
		require.NoError(t, err)
		assert.Equal(t, "Notch", got.Name)
	})

	t.Run("unknown name is not found", func(t *testing.T) {
		_, err := p.ByName(ctx, "nobody")
		assert.Equal(t, ErrorNotFound, GetCategory(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("rate limit is retryable", func(t *testing.T) {
		_, err := p.ByName(ctx, "busy")
		assert.Equal(t, ErrorRateLimited, GetCategory(err))
		assert.True(t, IsRetryable(err))
	})

	t.Run("malformed identifier is bad data", func(t *testing.T) {
		_, err := p.ByName(ctx, "garbled")
		assert.Equal(t, ErrorBadData, GetCategory(err))
	})
}

func TestMojang(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profiles/Notch", "/session/069a79f444e94726a5befca90e38aaf5":
			_, _ = w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`))
		case "/profiles/ghost":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	p := NewMojang(srv.URL+"/profiles", srv.URL+"/session")
	ctx := context.Background()

	got, err := p.ByName(ctx, "Notch")
	require.NoError(t, err)
	assert.Equal(t, notch, got.ID)

	got, err = p.ByID(ctx, notch)
	require.NoError(t, err)
	assert.Equal(t, "Notch", got.Name)

	_, err = p.ByName(ctx, "ghost")
	assert.Equal(t, ErrorNotFound, GetCategory(err))

	_, err = p.ByName(ctx, "broken")
	assert.Equal(t, ErrorProviderOutage, GetCategory(err))
}

func TestHTTPSource_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	p := NewAshcon(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := p.ByName(context.Background(), "slow")

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorTimeout, pe.Category)
	assert.Equal(t, "ashcon", pe.ProviderID)
}

func TestGeoProviders(t *testing.T) {
	addr := netip.MustParseAddr("203.0.113.7")
	ctx := context.Background()

	t.Run("ipstack", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("access_key") {
			case "good":
				_, _ = w.Write([]byte(`{"country_code":"NL","country_name":"Netherlands","city":"Amsterdam","zip":"1012","latitude":52.37,"longitude":4.89}`))
			case "spent":
				_, _ = w.Write([]byte(`{"success":false,"error":{"code":104,"type":"usage_limit_reached"}}`))
			default:
				_, _ = w.Write([]byte(`{"success":false,"error":{"code":101,"type":"invalid_access_key"}}`))
			}
		})

		got, err := NewIPStack(srv.URL, "good").Lookup(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "NL", got.CountryCode)
		assert.Equal(t, "1012", got.ZIP)
		assert.Equal(t, "ipstack", got.Source)

		_, err = NewIPStack(srv.URL, "spent").Lookup(ctx, addr)
		assert.Equal(t, ErrorRateLimited, GetCategory(err))

		_, err = NewIPStack(srv.URL, "bad").Lookup(ctx, addr)
		assert.Equal(t, ErrorAuthentication, GetCategory(err))
	})

	t.Run("freegeoip", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/json/203.0.113.7", r.URL.Path)
			_, _ = w.Write([]byte(`{"country_code":"DE","country_name":"Germany","zip_code":"10115"}`))
		})
		got, err := NewFreeGeoIP(srv.URL + "/json").Lookup(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "DE", got.CountryCode)
		assert.Equal(t, "10115", got.ZIP)
	})

	t.Run("freegeoip quota", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := NewFreeGeoIP(srv.URL).Lookup(ctx, addr)
		assert.Equal(t, ErrorAuthentication, GetCategory(err))
	})

	t.Run("ipapi", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/10.0.0.1" {
				_, _ = w.Write([]byte(`{"status":"fail","message":"private range"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"success","country":"France","countryCode":"FR","regionName":"Ile-de-France","city":"Paris","lat":48.85,"lon":2.35}`))
		})
		got, err := NewIPAPI(srv.URL).Lookup(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "France", got.CountryName)
		assert.InDelta(t, 48.85, got.Latitude, 0.001)

		_, err = NewIPAPI(srv.URL).Lookup(ctx, netip.MustParseAddr("10.0.0.1"))
		assert.Equal(t, ErrorNotFound, GetCategory(err))
	})
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Fetchers
	names, geo := FromConfig(cfg, nil)
	require.Len(t, names, 2)
	assert.Equal(t, "ashcon", names[0].ID())
	assert.Equal(t, "mojang", names[1].ID())
	require.Len(t, geo, 2)
	assert.Equal(t, "freegeoip", geo[0].ID())

	cfg.Names.Ashcon = false
	cfg.Geo.IPStack.Enabled = true
	cfg.Geo.IPStack.Key = "k"
	names, geo = FromConfig(cfg, http.DefaultClient)
	require.Len(t, names, 1)
	assert.Equal(t, "mojang", names[0].ID())
	require.Len(t, geo, 3)
	assert.Equal(t, "ipstack", geo[0].ID())
}
