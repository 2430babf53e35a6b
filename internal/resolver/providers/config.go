package providers

import (
	"net/http"

	"warden/internal/platform/config"
)

// FromConfig builds the enabled external sources in their fixed priority
// order: ashcon then mojang for names; ipstack, freegeoip, then ipapi for geo.
// The internal name source is supplied by the host and is not built here.
func FromConfig(cfg config.Fetchers, client *http.Client) ([]NameProvider, []GeoProvider) {
	opts := []Option{WithTimeout(cfg.Timeout)}
	if client != nil {
		opts = append(opts, WithHTTPClient(client))
	}

	var names []NameProvider
	if cfg.Names.Ashcon {
		names = append(names, NewAshcon(cfg.Names.AshconURL, opts...))
	}
	if cfg.Names.Mojang {
		names = append(names, NewMojang(cfg.Names.MojangURL, cfg.Names.MojangSessionURL, opts...))
	}

	var geo []GeoProvider
	if cfg.Geo.IPStack.Enabled {
		geo = append(geo, NewIPStack(cfg.Geo.IPStack.URL, cfg.Geo.IPStack.Key, opts...))
	}
	if cfg.Geo.FreeGeoIP {
		geo = append(geo, NewFreeGeoIP(cfg.Geo.FreeGeoIPURL, opts...))
	}
	if cfg.Geo.IPAPI {
		geo = append(geo, NewIPAPI(cfg.Geo.IPAPIURL, opts...))
	}
	return names, geo
}
