package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"warden/internal/enforcement"
	"warden/internal/enforcement/adapters"
	"warden/internal/notify/kafka"
	"warden/internal/platform/async"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/metrics"
	platformredis "warden/internal/platform/redis"
	"warden/internal/punishment/events"
	punishmentservice "warden/internal/punishment/service"
	punishmentstore "warden/internal/punishment/store"
	"warden/internal/resolver/geocache"
	"warden/internal/resolver/providers"
	resolverservice "warden/internal/resolver/service"
	resolverstore "warden/internal/resolver/store"
	"warden/internal/storage"
	httptransport "warden/internal/transport/http"
	"warden/pkg/platform/middleware/auth"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the punishment store, enforcement engine and admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(load)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// serve wires every component and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gw, err := storage.Open(ctx, cfg.Storage, storage.WithLogger(log))
	if err != nil {
		return err
	}
	defer gw.Close()
	tables, err := storage.NewTables(cfg.Storage.TablePrefix)
	if err != nil {
		return err
	}
	if _, err := storage.Migrate(ctx, gw, tables); err != nil {
		return err
	}

	redisClient, err := platformredis.New(ctx, cfg.Cache.Redis)
	if err != nil {
		return err
	}
	var rc *goredis.Client
	if redisClient != nil {
		defer redisClient.Close()
		rc = redisClient.Client
	}

	sessions := adapters.NewSessionRegistry(log)

	identities, err := resolverstore.NewSQL(gw, tables, resolverstore.WithLogger(log))
	if err != nil {
		return err
	}
	names, geo := providers.FromConfig(cfg.Fetchers, nil)
	resolverOpts := []resolverservice.Option{
		resolverservice.WithLogger(log),
		resolverservice.WithMetrics(m),
		resolverservice.WithNameProviders(names...),
		resolverservice.WithGeoProviders(geo...),
		resolverservice.WithGeoCache(geocache.New(rc), cfg.Cache.GeoTTL),
	}
	if cfg.Fetchers.Names.Internal {
		resolverOpts = append(resolverOpts, resolverservice.WithLocalSource(sessions))
	}
	resolver, err := resolverservice.New(identities, resolverOpts...)
	if err != nil {
		return err
	}
	if err := resolver.Load(ctx); err != nil {
		return err
	}

	runner := async.New(8, async.WithLogger(log))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runner.Close(closeCtx); err != nil {
			log.Error("background work did not finish", "error", err)
		}
	}()

	gate := events.NewGate(events.WithLogger(log))
	rows, err := punishmentstore.NewSQL(gw, tables, punishmentstore.WithLogger(log))
	if err != nil {
		return err
	}
	punishments, err := punishmentservice.New(rows, gate,
		punishmentservice.WithLogger(log),
		punishmentservice.WithMetrics(m),
		punishmentservice.WithRunner(runner),
	)
	if err != nil {
		return err
	}
	if err := punishments.Load(ctx); err != nil {
		return err
	}

	strictness, err := enforcement.ParseStrictness(cfg.Enforcement.Strictness)
	if err != nil {
		return err
	}
	engine, err := enforcement.New(sessions, resolver, punishments,
		enforcement.WithLogger(log),
		enforcement.WithMetrics(m),
		enforcement.WithStrictness(strictness),
		enforcement.WithMuteCommands(cfg.Enforcement.MuteCommands),
		enforcement.WithNegativeTTL(cfg.Cache.MuteNegativeTTL),
	)
	if err != nil {
		return err
	}
	gate.OnPost(engine.OnPost)

	if len(cfg.Events.Kafka.Brokers) > 0 {
		publisher, err := kafka.New(cfg.Events.Kafka, kafka.WithLogger(log))
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := publisher.Close(closeCtx); err != nil {
				log.Error("lifecycle records not flushed", "error", err)
			}
		}()
		if err := publisher.EnsureTopic(ctx, -1, -1); err != nil {
			log.WarnContext(ctx, "lifecycle topic not ensured", "topic", cfg.Events.Kafka.Topic, "error", err)
		}
		gate.OnPost(publisher.OnPost)
	}

	handler, err := httptransport.NewHandler(punishments, resolver, log,
		httptransport.WithPunishmentWriter(punishments),
		httptransport.WithSessions(engine, sessions),
	)
	if err != nil {
		return err
	}
	routerOpts := []httptransport.RouterOption{
		httptransport.WithLogger(log),
		httptransport.WithGatherer(reg),
		httptransport.WithHealthCheck("storage", gw.Ping),
	}
	if redisClient != nil {
		routerOpts = append(routerOpts, httptransport.WithHealthCheck("redis", redisClient.Health))
	}
	if cfg.HTTP.AdminJWTKey != "" {
		signer, err := auth.NewHMAC(cfg.HTTP.AdminJWTKey)
		if err != nil {
			return err
		}
		routerOpts = append(routerOpts, httptransport.WithAuth(signer))
	} else {
		log.WarnContext(ctx, "admin API is unauthenticated; set http.admin_jwt_key to protect it")
	}
	srv := httpserver.New(cfg.HTTP.Addr, httptransport.NewRouter(handler, routerOpts...),
		httpserver.WithLogger(log),
		httpserver.WithShutdownTimeout(shutdownTimeout),
	)

	log.Info("admin API listening", "addr", srv.Addr(),
		"strictness", string(strictness),
		"active", len(punishments.Snapshot(ctx)),
		"identities", resolver.Len(),
	)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
