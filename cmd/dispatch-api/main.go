// README: Entry point; loads config, wires stores, engine and sinks, starts HTTP server and cron jobs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/jobs"
	"dispatch/internal/maps"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/geo"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/preptime"
	"dispatch/internal/modules/rider"
	"dispatch/internal/modules/zone"
	"dispatch/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dispatch-api stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var orderRepo order.Repository = order.NewMemoryStore()
	var zoneSrc zone.Source = zone.FileSource{Path: cfg.ZonesFile}
	var prepSrc preptime.Source = preptime.FileSource{Path: cfg.PrepTableFile}
	var routeSrc rider.RouteSource = rider.RouteFileSource{Path: cfg.RiderRoutesFile}
	var orderOpts []order.Option
	var pool rider.Pool = rider.NewMemoryPool()
	var estimator geo.Estimator = geo.NewHaversine(cfg.Maps.AvgSpeedKmh)
	var verifier infra.TokenVerifier
	sinks := assignment.NewFanOut(logger)

	if cfg.DB.DSN != "" {
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		orderRepo = order.NewStore(db)
		zoneSrc = zone.NewStore(db)
		prepSrc = preptime.NewStore(db)
		routeSrc = rider.NewRouteStore(db)
		sinks.Add(assignment.NewPGSink(db))
	} else {
		logger.Warn("DISPATCH_DB_DSN not set; orders are kept in memory")
	}

	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		pool = rider.NewRedisPool(rdb)
		sinks.Add(notify.NewRedisVisualizer(rdb))
	}

	if cfg.Maps.APIKey != "" {
		ds, err := maps.NewDistanceService(cfg.Maps.APIKey, maps.WithQPS(cfg.Maps.QPS, int(cfg.Maps.QPS)))
		if err != nil {
			return err
		}
		estimator = ds
		gs, err := maps.NewGeocodeService(cfg.Maps.APIKey, maps.WithQPS(cfg.Maps.QPS, int(cfg.Maps.QPS)))
		if err != nil {
			return err
		}
		orderOpts = append(orderOpts, order.WithGeocoder(gs))
		if cfg.Maps.GeocodeFallback != nil {
			orderOpts = append(orderOpts, order.WithGeocodeFallback(*cfg.Maps.GeocodeFallback))
		}
	} else {
		logger.Warn("GOOGLE_MAPS_API_KEY not set; using haversine travel estimates", "speed_kmh", cfg.Maps.AvgSpeedKmh)
	}

	if cfg.AMQP.URL != "" {
		mq, err := infra.DialAMQP(cfg.AMQP.URL, notify.AssignmentsExchange)
		if err != nil {
			return err
		}
		defer mq.Close()
		sinks.Add(notify.NewAMQPPublisher(mq))
	}

	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
		fcm, err := infra.NewFirebaseMessaging(ctx, app)
		if err != nil {
			return err
		}
		sinks.Add(notify.NewFCMNotifier(fcm))
	} else {
		logger.Warn("FIREBASE_PROJECT_ID not set; authentication disabled")
	}

	zones, err := zone.NewRegistry(nil)
	if err != nil {
		return err
	}
	n, err := zones.Reload(ctx, zoneSrc)
	if err != nil {
		return err
	}
	logger.Info("zones loaded", "count", n)

	agg, err := preptime.AggregatorByName(cfg.Assignment.PrepAggregation)
	if err != nil {
		return err
	}
	prepOpts := []preptime.Option{preptime.WithAggregator(agg)}
	if cfg.Assignment.PrepFallback > 0 {
		prepOpts = append(prepOpts, preptime.WithFallback(cfg.Assignment.PrepFallback))
	}
	prep := preptime.NewLookup(nil, prepOpts...)
	if n, err = prep.Reload(ctx, prepSrc); err != nil {
		return err
	}
	logger.Info("prep table loaded", "items", n, "aggregation", agg.Name())

	routes := rider.NewRoutes(nil)
	if n, err = routes.Reload(ctx, routeSrc); err != nil {
		return err
	}
	logger.Info("rider routes loaded", "zones", n)

	orders := order.NewService(orderRepo, zones, orderOpts...)
	engine := assignment.NewEngine(zones, prep, estimator, pool, cfg.Assignment, logger, assignment.WithRoutes(routes))
	coord := assignment.NewCoordinator(orders, engine, pool, sinks, logger)

	jm := jobs.NewJobManager(
		jobs.NewSweepJob(coord, cfg.Jobs.SweepSpec, cfg.Jobs.SweepBatch, logger),
		jobs.NewRefreshJob(cfg.Jobs.RefreshSpec, logger,
			jobs.Reloader{Name: "zones", Reload: func(ctx context.Context) (int, error) { return zones.Reload(ctx, zoneSrc) }},
			jobs.Reloader{Name: "prep_times", Reload: func(ctx context.Context) (int, error) { return prep.Reload(ctx, prepSrc) }},
			jobs.Reloader{Name: "rider_routes", Reload: func(ctx context.Context) (int, error) { return routes.Reload(ctx, routeSrc) }},
		),
	)
	if err := jm.StartAll(); err != nil {
		return err
	}
	defer jm.StopAll()

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.ServerDeps{
		Orders:      orders,
		Coordinator: coord,
		Pool:        pool,
		Verifier:    verifier,
		Logger:      logger,
		SweepBatch:  cfg.Jobs.SweepBatch,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
