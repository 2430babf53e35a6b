package providers

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"

	"warden/internal/resolver/models"
)

// IPStack queries api.ipstack.com. It reports quota and key problems in a
// 200 body, which are mapped onto the taxonomy.
type IPStack struct {
	httpSource
	key string
}

type ipstackBody struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	RegionCode  string  `json:"region_code"`
	RegionName  string  `json:"region_name"`
	City        string  `json:"city"`
	ZIP         string  `json:"zip"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`

	Success *bool `json:"success"`
	Error   *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

func NewIPStack(baseURL, key string, opts ...Option) *IPStack {
	return &IPStack{httpSource: newHTTPSource("ipstack", baseURL, opts), key: key}
}

func (p *IPStack) Lookup(ctx context.Context, addr netip.Addr) (models.GeoInfo, error) {
	var body ipstackBody
	u := fmt.Sprintf("%s/%s?access_key=%s", p.baseURL, addr, url.QueryEscape(p.key))
	if err := p.getJSON(ctx, u, &body); err != nil {
		return models.GeoInfo{}, err
	}
	if body.Success != nil && !*body.Success {
		category := ErrorInternal
		msg := "request rejected"
		if body.Error != nil {
			msg = body.Error.Type
			switch body.Error.Code {
			case 104:
				category = ErrorRateLimited
			case 101, 102, 105:
				category = ErrorAuthentication
			case 106:
				category = ErrorBadData
			}
		}
		return models.GeoInfo{}, NewProviderError(category, p.id, msg, nil)
	}
	if body.CountryCode == "" {
		return models.GeoInfo{}, NewProviderError(ErrorNotFound, p.id, "no location for address", nil)
	}
	return models.GeoInfo{
		Address:     addr,
		CountryCode: body.CountryCode,
		CountryName: body.CountryName,
		RegionCode:  body.RegionCode,
		RegionName:  body.RegionName,
		City:        body.City,
		ZIP:         body.ZIP,
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		Source:      p.id,
	}, nil
}

// FreeGeoIP queries a freegeoip-compatible JSON endpoint.
type FreeGeoIP struct {
	httpSource
}

type freegeoipBody struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	RegionCode  string  `json:"region_code"`
	RegionName  string  `json:"region_name"`
	City        string  `json:"city"`
	ZIPCode     string  `json:"zip_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func NewFreeGeoIP(baseURL string, opts ...Option) *FreeGeoIP {
	return &FreeGeoIP{httpSource: newHTTPSource("freegeoip", baseURL, opts)}
}

func (p *FreeGeoIP) Lookup(ctx context.Context, addr netip.Addr) (models.GeoInfo, error) {
	var body freegeoipBody
	if err := p.getJSON(ctx, p.baseURL+"/"+addr.String(), &body); err != nil {
		return models.GeoInfo{}, err
	}
	if body.CountryCode == "" {
		return models.GeoInfo{}, NewProviderError(ErrorNotFound, p.id, "no location for address", nil)
	}
	return models.GeoInfo{
		Address:     addr,
		CountryCode: body.CountryCode,
		CountryName: body.CountryName,
		RegionCode:  body.RegionCode,
		RegionName:  body.RegionName,
		City:        body.City,
		ZIP:         body.ZIPCode,
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		Source:      p.id,
	}, nil
}

// IPAPI queries ip-api.com, which signals failures with status "fail".
type IPAPI struct {
	httpSource
}

type ipapiBody struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	ZIP         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func NewIPAPI(baseURL string, opts ...Option) *IPAPI {
	return &IPAPI{httpSource: newHTTPSource("ipapi", baseURL, opts)}
}

func (p *IPAPI) Lookup(ctx context.Context, addr netip.Addr) (models.GeoInfo, error) {
	var body ipapiBody
	if err := p.getJSON(ctx, p.baseURL+"/"+addr.String(), &body); err != nil {
		return models.GeoInfo{}, err
	}
	if body.Status != "success" {
		category := ErrorNotFound
		if body.Message == "invalid query" {
			category = ErrorBadData
		}
		return models.GeoInfo{}, NewProviderError(category, p.id, body.Message, nil)
	}
	return models.GeoInfo{
		Address:     addr,
		CountryCode: body.CountryCode,
		CountryName: body.Country,
		RegionCode:  body.Region,
		RegionName:  body.RegionName,
		City:        body.City,
		ZIP:         body.ZIP,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
		Source:      p.id,
	}, nil
}
