// Package service is the identity and address resolver. It owns the
// identity cache and resolves misses through ordered fallback chains of
// lookup sources.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"warden/internal/platform/metrics"
	"warden/internal/resolver/geocache"
	"warden/internal/resolver/models"
	"warden/internal/resolver/providers"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/circuit"
	"warden/pkg/platform/sentinel"
)

var tracer = otel.Tracer("warden/resolver")

const (
	chainNames  = "names"
	chainGeo    = "geo"
	sourceLocal = "local"
	sourceCache = "cache"
)

// Store persists identity cache rows.
type Store interface {
	LoadAll(ctx context.Context) ([]models.Identity, error)
	Insert(ctx context.Context, identity models.Identity) error
	Update(ctx context.Context, identity models.Identity, nameChanged, addressesChanged bool) error
}

type nameSource struct {
	provider providers.NameProvider
	breaker  *circuit.Breaker
}

type geoSource struct {
	provider providers.GeoProvider
	breaker  *circuit.Breaker
}

// Service resolves names, identifiers, addresses and locations. The
// identity cache is never evicted.
type Service struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]models.Identity
	byName     map[string]uuid.UUID
	byAddr     map[netip.Addr]map[uuid.UUID]struct{}

	writersMu sync.Mutex
	writers   map[uuid.UUID]*sync.Mutex

	store    Store
	local    providers.NameProvider
	external []providers.NameProvider
	geoProv  []providers.GeoProvider
	names    []nameSource
	geo      []geoSource
	geoCache geocache.Cache
	geoTTL   time.Duration
	group    singleflight.Group

	breakerOpts []circuit.Option
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLocalSource enables the host's own player records as the first name
// source. It is consulted regardless of allowExternal.
func WithLocalSource(p providers.NameProvider) Option {
	return func(s *Service) {
		s.local = p
	}
}

// WithNameProviders sets the external name sources in priority order.
func WithNameProviders(ps ...providers.NameProvider) Option {
	return func(s *Service) {
		s.external = ps
	}
}

// WithGeoProviders sets the geo sources in priority order.
func WithGeoProviders(ps ...providers.GeoProvider) Option {
	return func(s *Service) {
		s.geoProv = ps
	}
}

// WithGeoCache caches successful geo answers for ttl.
func WithGeoCache(c geocache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.geoCache = c
		s.geoTTL = ttl
	}
}

// WithBreakerOptions configures the circuit breaker wrapped around every
// external source.
func WithBreakerOptions(opts ...circuit.Option) Option {
	return func(s *Service) {
		s.breakerOpts = opts
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	s := &Service{
		identities: make(map[uuid.UUID]models.Identity),
		byName:     make(map[string]uuid.UUID),
		byAddr:     make(map[netip.Addr]map[uuid.UUID]struct{}),
		writers:    make(map[uuid.UUID]*sync.Mutex),
		store:      store,
		geoTTL:     24 * time.Hour,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range s.external {
		if p == nil {
			return nil, errors.New("name provider is nil")
		}
		s.names = append(s.names, nameSource{provider: p, breaker: circuit.New(p.ID(), s.breakerOpts...)})
	}
	for _, p := range s.geoProv {
		if p == nil {
			return nil, errors.New("geo provider is nil")
		}
		s.geo = append(s.geo, geoSource{provider: p, breaker: circuit.New(p.ID(), s.breakerOpts...)})
	}
	return s, nil
}

// Load replaces the identity cache with the persisted rows.
func (s *Service) Load(ctx context.Context) error {
	rows, err := s.store.LoadAll(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity storage unavailable")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identities")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = make(map[uuid.UUID]models.Identity, len(rows))
	s.byName = make(map[string]uuid.UUID, len(rows))
	s.byAddr = make(map[netip.Addr]map[uuid.UUID]struct{})
	for _, identity := range rows {
		s.putLocked(identity)
	}
	s.logger.InfoContext(ctx, "identities loaded", "count", len(rows))
	return nil
}

// ResolveByName returns the identifier for name. External sources are only
// tried when allowExternal is set.
func (s *Service) ResolveByName(ctx context.Context, name string, allowExternal bool) (uuid.UUID, error) {
	s.mu.RLock()
	id, ok := s.byName[strings.ToLower(name)]
	s.mu.RUnlock()
	if ok {
		s.metrics.ObserveLookup(chainNames, sourceCache, "hit")
		return id, nil
	}

	key := fmt.Sprintf("name:%s:%t", strings.ToLower(name), allowExternal)
	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.resolve(ctx, "resolver.ByName", allowExternal,
			func(ctx context.Context, np providers.NameProvider) (providers.Profile, error) {
				return np.ByName(ctx, name)
			})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("no player named %q", name))
		}
		return p, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return v.(providers.Profile).ID, nil
}

// ResolveByID returns the current name of id.
func (s *Service) ResolveByID(ctx context.Context, id uuid.UUID, allowExternal bool) (string, error) {
	s.mu.RLock()
	identity, ok := s.identities[id]
	s.mu.RUnlock()
	if ok {
		s.metrics.ObserveLookup(chainNames, sourceCache, "hit")
		return identity.Name, nil
	}

	key := fmt.Sprintf("id:%s:%t", id, allowExternal)
	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.resolve(ctx, "resolver.ByID", allowExternal,
			func(ctx context.Context, np providers.NameProvider) (providers.Profile, error) {
				return np.ByID(ctx, id)
			})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("no player with identifier %s", id))
		}
		return p, nil
	})
	if err != nil {
		return "", err
	}
	return v.(providers.Profile).Name, nil
}

// resolve walks the name chain and records the first answer in the cache.
// Source failures are logged and never returned individually.
func (s *Service) resolve(ctx context.Context, op string, allowExternal bool,
	call func(context.Context, providers.NameProvider) (providers.Profile, error),
) (providers.Profile, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.Bool("resolver.external", allowExternal)))
	defer span.End()

	profile, source, found := s.walkNames(ctx, allowExternal, call)
	if !found {
		span.SetStatus(codes.Error, "exhausted")
		return providers.Profile{}, models.ErrPlayerNotFound
	}
	span.SetAttributes(attribute.String("resolver.source", source))
	if err := s.UpdateCache(ctx, profile.ID, profile.Name, netip.Addr{}); err != nil {
		s.logger.WarnContext(ctx, "resolved identity not persisted", "identifier", profile.ID, "error", err)
	}
	return profile, nil
}

func (s *Service) walkNames(ctx context.Context, allowExternal bool,
	call func(context.Context, providers.NameProvider) (providers.Profile, error),
) (providers.Profile, string, bool) {
	if s.local != nil {
		p, err := call(ctx, s.local)
		if err == nil {
			s.metrics.ObserveLookup(chainNames, sourceLocal, "success")
			return p, sourceLocal, true
		}
		s.metrics.ObserveLookup(chainNames, sourceLocal, "miss")
	}
	if !allowExternal {
		return providers.Profile{}, "", false
	}
	for _, src := range s.names {
		id := src.provider.ID()
		if !src.breaker.Allow() {
			s.metrics.ObserveLookup(chainNames, id, "skipped")
			s.logger.DebugContext(ctx, "lookup source skipped while circuit is open", "source", id)
			continue
		}
		p, err := call(ctx, src.provider)
		if err != nil {
			s.recordFailure(ctx, chainNames, id, src.breaker, err)
			continue
		}
		s.recordSuccess(ctx, chainNames, id, src.breaker)
		return p, id, true
	}
	return providers.Profile{}, "", false
}

// LookupGeo returns location data for addr from the cache or the first geo
// source that answers.
func (s *Service) LookupGeo(ctx context.Context, addr netip.Addr) (models.GeoInfo, error) {
	addr = addr.Unmap()
	if s.geoCache != nil {
		info, ok, err := s.geoCache.Get(ctx, addr)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "geo cache read failed", "address", addr, "error", err)
		case ok:
			s.metrics.ObserveLookup(chainGeo, sourceCache, "hit")
			return info, nil
		}
	}

	v, err, _ := s.group.Do("geo:"+addr.String(), func() (any, error) {
		ctx, span := tracer.Start(ctx, "resolver.LookupGeo")
		defer span.End()

		for _, src := range s.geo {
			id := src.provider.ID()
			if !src.breaker.Allow() {
				s.metrics.ObserveLookup(chainGeo, id, "skipped")
				continue
			}
			info, err := src.provider.Lookup(ctx, addr)
			if err != nil {
				s.recordFailure(ctx, chainGeo, id, src.breaker, err)
				continue
			}
			s.recordSuccess(ctx, chainGeo, id, src.breaker)
			span.SetAttributes(attribute.String("resolver.source", id))
			if s.geoCache != nil {
				if err := s.geoCache.Set(ctx, info, s.geoTTL); err != nil {
					s.logger.WarnContext(ctx, "geo cache write failed", "address", addr, "error", err)
				}
			}
			return info, nil
		}
		span.SetStatus(codes.Error, "exhausted")
		return nil, dErrors.Wrap(models.ErrNoGeoInfo, dErrors.CodeUnavailable,
			fmt.Sprintf("no geo source answered for %s", addr))
	})
	if err != nil {
		return models.GeoInfo{}, err
	}
	return v.(models.GeoInfo), nil
}

func (s *Service) recordFailure(ctx context.Context, chain, source string, b *circuit.Breaker, err error) {
	category := providers.GetCategory(err)
	s.metrics.ObserveLookup(chain, source, string(category))
	s.logger.WarnContext(ctx, "lookup source failed", "chain", chain, "source", source,
		"category", category, "error", err)

	if category == providers.ErrorNotFound {
		b.RecordSuccess()
		return
	}
	if !providers.IsRetryable(err) {
		return
	}
	if _, change := b.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "lookup source circuit opened", "chain", chain, "source", source)
	}
}

func (s *Service) recordSuccess(ctx context.Context, chain, source string, b *circuit.Breaker) {
	s.metrics.ObserveLookup(chain, source, "success")
	if _, change := b.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "lookup source circuit closed", "chain", chain, "source", source)
	}
}
