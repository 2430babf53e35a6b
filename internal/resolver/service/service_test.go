package service

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"warden/internal/platform/metrics"
	"warden/internal/resolver/geocache"
	"warden/internal/resolver/models"
	"warden/internal/resolver/providers"
	"warden/internal/resolver/store"
	"warden/internal/storage/storagetest"
	"warden/pkg/platform/circuit"
	dErrors "warden/pkg/domain-errors"
)

// =============================================================================
// Resolver Service Test Suite
// =============================================================================
// Justification: the fallback chains hide individual source failures from
// callers, so these tests pin down which source answered, what reached the
// cache and what was persisted.

type fakeNames struct {
	id       string
	profiles []providers.Profile
	fail     providers.ErrorCategory
	calls    atomic.Int32
}

func (f *fakeNames) ID() string { return f.id }

func (f *fakeNames) ByName(_ context.Context, name string) (providers.Profile, error) {
	f.calls.Add(1)
	if f.fail != "" {
		return providers.Profile{}, providers.NewProviderError(f.fail, f.id, "failed", nil)
	}
	for _, p := range f.profiles {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return providers.Profile{}, providers.NewProviderError(providers.ErrorNotFound, f.id, "unknown", nil)
}

func (f *fakeNames) ByID(_ context.Context, id uuid.UUID) (providers.Profile, error) {
	f.calls.Add(1)
	if f.fail != "" {
		return providers.Profile{}, providers.NewProviderError(f.fail, f.id, "failed", nil)
	}
	for _, p := range f.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return providers.Profile{}, providers.NewProviderError(providers.ErrorNotFound, f.id, "unknown", nil)
}

type fakeGeo struct {
	id    string
	fail  providers.ErrorCategory
	calls atomic.Int32
}

func (f *fakeGeo) ID() string { return f.id }

func (f *fakeGeo) Lookup(_ context.Context, addr netip.Addr) (models.GeoInfo, error) {
	f.calls.Add(1)
	if f.fail != "" {
		return models.GeoInfo{}, providers.NewProviderError(f.fail, f.id, "failed", nil)
	}
	return models.GeoInfo{Address: addr, CountryCode: "NL", Source: f.id}, nil
}

type ResolverServiceSuite struct {
	suite.Suite
	store *store.SQLStore
	notch providers.Profile
}

func TestResolverServiceSuite(t *testing.T) {
	suite.Run(t, new(ResolverServiceSuite))
}

func (s *ResolverServiceSuite) SetupTest() {
	gw, tables := storagetest.NewSQLite(s.T())
	var err error
	s.store, err = store.NewSQL(gw, tables)
	s.Require().NoError(err)
	s.notch = providers.Profile{ID: uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5"), Name: "Notch"}
}

func (s *ResolverServiceSuite) newService(opts ...Option) *Service {
	opts = append([]Option{WithMetrics(metrics.New(prometheus.NewRegistry()))}, opts...)
	svc, err := New(s.store, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *ResolverServiceSuite) persisted() []models.Identity {
	rows, err := s.store.LoadAll(context.Background())
	s.Require().NoError(err)
	return rows
}

// =============================================================================
// Name Chain Tests
// =============================================================================

func (s *ResolverServiceSuite) TestResolveByName_FallsBackPastRateLimit() {
	ctx := context.Background()
	limited := &fakeNames{id: "ashcon", fail: providers.ErrorRateLimited}
	answering := &fakeNames{id: "mojang", profiles: []providers.Profile{s.notch}}
	svc := s.newService(WithNameProviders(limited, answering))

	id, err := svc.ResolveByName(ctx, "notch", true)
	s.Require().NoError(err)
	s.Equal(s.notch.ID, id)
	s.Equal(int32(1), limited.calls.Load())

	cached, ok := svc.Identity(s.notch.ID)
	s.True(ok)
	s.Equal("Notch", cached.Name)
	s.Require().Len(s.persisted(), 1)

	_, err = svc.ResolveByName(ctx, "NOTCH", true)
	s.Require().NoError(err)
	s.Equal(int32(1), answering.calls.Load(), "second lookup is served by the cache")
}

func (s *ResolverServiceSuite) TestResolveByName_AllSourcesFail() {
	ctx := context.Background()
	svc := s.newService(
		WithLocalSource(&fakeNames{id: "local"}),
		WithNameProviders(
			&fakeNames{id: "ashcon", fail: providers.ErrorRateLimited},
			&fakeNames{id: "mojang", fail: providers.ErrorProviderOutage},
		),
	)

	_, err := svc.ResolveByName(ctx, "Notch", true)
	s.Require().Error(err)
	s.ErrorIs(err, models.ErrPlayerNotFound)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Zero(svc.Len())
	s.Empty(s.persisted())
}

func (s *ResolverServiceSuite) TestResolve_LocalOnlyWithoutExternal() {
	ctx := context.Background()
	local := &fakeNames{id: "local", profiles: []providers.Profile{s.notch}}
	external := &fakeNames{id: "ashcon", profiles: []providers.Profile{s.notch}}
	svc := s.newService(WithLocalSource(local), WithNameProviders(external))

	name, err := svc.ResolveByID(ctx, s.notch.ID, false)
	s.Require().NoError(err)
	s.Equal("Notch", name)
	s.Zero(external.calls.Load())

	_, err = svc.ResolveByName(ctx, "jeb_", false)
	s.ErrorIs(err, models.ErrPlayerNotFound)
	s.Zero(external.calls.Load(), "external sources are not consulted")
}

func (s *ResolverServiceSuite) TestResolve_OpenBreakerSkipsSource() {
	ctx := context.Background()
	limited := &fakeNames{id: "ashcon", fail: providers.ErrorRateLimited}
	answering := &fakeNames{id: "mojang", profiles: []providers.Profile{
		s.notch, {ID: uuid.New(), Name: "jeb_"},
	}}
	svc := s.newService(
		WithNameProviders(limited, answering),
		WithBreakerOptions(circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour)),
	)

	_, err := svc.ResolveByName(ctx, "Notch", true)
	s.Require().NoError(err)
	_, err = svc.ResolveByName(ctx, "jeb_", true)
	s.Require().NoError(err)

	s.Equal(int32(1), limited.calls.Load(), "opened after the first rate limit")
	s.Equal(int32(2), answering.calls.Load())
}

func (s *ResolverServiceSuite) TestResolve_ConcurrentMissesShareOneLookup() {
	ctx := context.Background()
	source := &fakeNames{id: "mojang", profiles: []providers.Profile{s.notch}}
	svc := s.newService(WithNameProviders(source))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.ResolveByName(ctx, "Notch", true)
			s.NoError(err)
			s.Equal(s.notch.ID, id)
		}()
	}
	wg.Wait()
	s.LessOrEqual(source.calls.Load(), int32(16))
	s.Len(s.persisted(), 1)
}

// =============================================================================
// Cache Update Tests
// =============================================================================

func (s *ResolverServiceSuite) TestUpdateCache() {
	ctx := context.Background()
	svc := s.newService()
	id := uuid.New()
	first := netip.MustParseAddr("10.0.0.5")

	s.Require().NoError(svc.UpdateCache(ctx, id, "alpha", first))
	s.Require().NoError(svc.UpdateCache(ctx, id, "Alpha", first))
	got, _ := svc.Identity(id)
	s.Equal("alpha", got.Name, "case-only renames are not changes")

	s.Require().NoError(svc.UpdateCache(ctx, id, "beta", netip.MustParseAddr("10.0.0.9")))
	got, _ = svc.Identity(id)
	s.Equal("beta", got.Name)
	s.Equal([]netip.Addr{first, netip.MustParseAddr("10.0.0.9")}, got.Addresses)

	_, err := svc.ResolveByName(ctx, "alpha", false)
	s.ErrorIs(err, models.ErrPlayerNotFound, "old name no longer resolves")

	rows := s.persisted()
	s.Require().Len(rows, 1)
	s.Equal(got.Name, rows[0].Name)
	s.Equal(got.Addresses, rows[0].Addresses)
	s.True(got.Updated.Equal(rows[0].Updated))
}

func (s *ResolverServiceSuite) TestUpdateCache_ConcurrentAddressesAreNotLost() {
	ctx := context.Background()
	svc := s.newService()
	id := uuid.New()
	s.Require().NoError(svc.UpdateCache(ctx, id, "alpha", netip.Addr{}))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(svc.UpdateCache(ctx, id, "alpha", netip.MustParseAddr(fmt.Sprintf("10.1.0.%d", i+1))))
		}(i)
	}
	wg.Wait()

	s.Len(svc.Addresses(id), n)
	rows := s.persisted()
	s.Require().Len(rows, 1)
	s.Len(rows[0].Addresses, n)
}

func (s *ResolverServiceSuite) TestLoad() {
	ctx := context.Background()
	writer := s.newService()
	id := uuid.New()
	s.Require().NoError(writer.UpdateCache(ctx, id, "alpha", netip.MustParseAddr("10.0.0.5")))

	reader := s.newService()
	s.Require().NoError(reader.Load(ctx))
	resolved, err := reader.ResolveByName(ctx, "ALPHA", false)
	s.Require().NoError(err)
	s.Equal(id, resolved)
	s.Equal([]uuid.UUID{id}, reader.IdentifiersFor(netip.MustParseAddr("10.0.0.5")))
}

// =============================================================================
// Address Relation Tests
// =============================================================================

func (s *ResolverServiceSuite) TestAddressRelations() {
	ctx := context.Background()
	svc := s.newService()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	shared := netip.MustParseAddr("10.0.0.5")
	hop := netip.MustParseAddr("10.0.0.9")

	s.Require().NoError(svc.UpdateCache(ctx, a, "a", shared))
	s.Require().NoError(svc.UpdateCache(ctx, b, "b", shared))
	s.Require().NoError(svc.UpdateCache(ctx, b, "b", hop))
	s.Require().NoError(svc.UpdateCache(ctx, c, "c", hop))
	s.Require().NoError(svc.UpdateCache(ctx, uuid.New(), "unrelated", netip.MustParseAddr("192.0.2.1")))

	s.ElementsMatch([]uuid.UUID{a, b}, svc.IdentifiersFor(shared))
	s.ElementsMatch([]uuid.UUID{a, b, c}, svc.AliasClosure(shared))
	s.ElementsMatch([]uuid.UUID{a, b, c}, svc.AliasClosure(hop))
	s.Empty(svc.AliasClosure(netip.MustParseAddr("198.51.100.1")))
}

// =============================================================================
// Geo Chain Tests
// =============================================================================

func (s *ResolverServiceSuite) TestLookupGeo() {
	ctx := context.Background()
	addr := netip.MustParseAddr("203.0.113.7")

	s.Run("falls back and caches the answer", func() {
		down := &fakeGeo{id: "freegeoip", fail: providers.ErrorProviderOutage}
		up := &fakeGeo{id: "ipapi"}
		svc := s.newService(WithGeoProviders(down, up), WithGeoCache(geocache.NewMemory(), time.Hour))

		info, err := svc.LookupGeo(ctx, addr)
		s.Require().NoError(err)
		s.Equal("ipapi", info.Source)

		_, err = svc.LookupGeo(ctx, addr)
		s.Require().NoError(err)
		s.Equal(int32(1), up.calls.Load())
	})

	s.Run("exhausted chain reports no geo info", func() {
		svc := s.newService(WithGeoProviders(
			&fakeGeo{id: "ipstack", fail: providers.ErrorAuthentication},
			&fakeGeo{id: "ipapi", fail: providers.ErrorRateLimited},
		))
		_, err := svc.LookupGeo(ctx, addr)
		s.ErrorIs(err, models.ErrNoGeoInfo)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *ResolverServiceSuite) TestNew() {
	_, err := New(nil)
	s.ErrorContains(err, "identity store is required")

	_, err = New(s.store, WithNameProviders(nil))
	s.ErrorContains(err, "name provider is nil")
}
