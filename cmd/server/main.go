package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
	"mellium.im/xmpp/jid"

	"courier/internal/cluster"
	"courier/internal/events"
	"courier/internal/platform/config"
	"courier/internal/platform/httpserver"
	"courier/internal/platform/logger"
	platformredis "courier/internal/platform/redis"
	"courier/internal/presence"
	rosterengine "courier/internal/roster/engine"
	rosterstore "courier/internal/roster/store"
	"courier/internal/router"
	"courier/internal/stanza"
)

type sqlHealth struct {
	db *sql.DB
}

func (h sqlHealth) Health(ctx context.Context) error { return h.db.PingContext(ctx) }

// main wires the routing core: roster store, cluster cache and bus, routing
// table, presence manager, and subscription engine. Session layers register
// their routes against the table; this process runs the shared state and the
// operational HTTP surface.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpserver.HealthChecker{}

	var rosterStore rosterstore.Store = rosterstore.NewMemory()
	if cfg.PostgresURL != "" {
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		rosterStore = rosterstore.NewPostgres(db)
		checks["postgres"] = sqlHealth{db: db}
	}

	var cache cluster.Cache = cluster.NewMemoryCache()
	var remote *cluster.RedisRouter
	if cfg.RedisURL != "" {
		client, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		cache = cluster.NewRedisCache(client.Client, cluster.WithTimeout(cfg.ClusterTimeout))
		remote = cluster.NewRedisRouter(client.Client, cfg.NodeID,
			cluster.WithRouterLogger(log),
			cluster.WithRouterTimeout(cfg.ClusterTimeout),
		)
		checks["redis"] = client
	}

	registry := router.NewRegistry()
	deliverer := router.NewLocalDeliverer(registry, log)
	bouncer := router.NewBouncer(deliverer, log)

	tableOpts := []router.Option{router.WithLogger(log)}
	if remote != nil {
		tableOpts = append(tableOpts, router.WithRemoteRouter(remote))
	}
	if cfg.DeliverToAll {
		tableOpts = append(tableOpts, router.WithDeliverToAll())
	}
	table := router.NewTable(cfg.Domain, cfg.NodeID, registry, cache, bouncer, nil, tableOpts...)

	manager := presence.NewManager(cfg.Domain, rosterStore, table, deliverer, presence.WithLogger(log))
	table.BindPresence(manager, manager)

	var sink events.Sink = events.NewLogSink(log)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafka.Close(closeCtx); err != nil {
				log.Warn("kafka close failed", "error", err)
			}
		}()
		sink = kafka
	}

	engine := rosterengine.New(cfg.Domain, rosterStore, table, deliverer, manager,
		rosterengine.WithLogger(log),
		rosterengine.WithSink(sink),
	)

	// Inbound stanza entry point: session layers and the admin endpoint feed
	// it, and it dispatches by kind to the subscription engine, the presence
	// manager, or plain routing.
	intake := func(ctx context.Context, st stanza.Stanza) error {
		if p, ok := st.(*stanza.Presence); ok {
			if p.Subscription() {
				return engine.Process(ctx, p)
			}
			return manager.HandlePresence(ctx, p)
		}
		return table.RoutePacket(ctx, st, false)
	}

	srv := httpserver.New(cfg.Addr, httpserver.NewRouter(checks, intake))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting courier", "domain", cfg.Domain, "node", cfg.NodeID, "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if remote != nil {
		g.Go(func() error {
			err := remote.Run(ctx, func(ctx context.Context, to jid.JID, st stanza.Stanza) {
				route, ok := registry.Session(to)
				if !ok {
					return
				}
				if err := route.Process(ctx, st); err != nil {
					log.Warn("inbound cluster delivery failed", "to", to.String(), "error", err)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		table.LeftCluster(shutdownCtx, cfg.NodeID)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("courier stopped")
}
