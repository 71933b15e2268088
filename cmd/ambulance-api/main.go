// README: Entry point; loads config, wires services, starts HTTP server and background workers.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ambulance/internal/config"
	"ambulance/internal/events"
	httptransport "ambulance/internal/http"
	"ambulance/internal/infra"
	"ambulance/internal/lock"
	"ambulance/internal/logging"
	"ambulance/internal/maps"
	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/fleet"
	"ambulance/internal/modules/payment"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/modules/rating"
)

type stores struct {
	rates    pricing.RateStore
	bookings booking.Repository
	payments payment.Repository
	fleet    fleet.Repository
	ratings  rating.Repository
}

func newStores(db *pgxpool.Pool) stores {
	if db == nil {
		return stores{
			bookings: booking.NewMemoryStore(),
			payments: payment.NewMemoryStore(),
			fleet:    fleet.NewMemoryStore(),
			ratings:  rating.NewMemoryStore(),
		}
	}
	return stores{
		rates:    pricing.NewStore(db),
		bookings: booking.NewStore(db),
		payments: payment.NewStore(db),
		fleet:    fleet.NewStore(db),
		ratings:  rating.NewStore(db),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ambulance-api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	var db *pgxpool.Pool
	if cfg.DB.DSN != "" {
		db, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
	} else {
		logger.Warn("AMB_DB_DSN not set; using in-memory stores")
	}
	st := newStores(db)

	var (
		locker  lock.Locker = lock.NewKeyedMutex()
		tracker fleet.Tracker
	)
	if cfg.Redis.Addr != "" {
		var client *redis.Client
		client, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.Redis.LockTTL)
		tracker = fleet.NewRedisTracker(client)
	}

	hub := events.NewHub()
	sinks := []events.Sink{hub, events.NewLogSink(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}
	bus := events.NewBus(0, logger, sinks...)

	var route *maps.RouteService
	if cfg.Maps.APIKey != "" {
		route, err = maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
	}

	pricingSvc := pricing.NewService(st.rates, pricing.RateFromConfig(cfg.Pricing))
	if err := pricingSvc.Load(ctx); err != nil {
		return err
	}

	ledger := booking.NewLedger(st.bookings, pricingSvc, booking.Options{
		Locker:   locker,
		Events:   bus,
		Policy:   booking.PolicyFromConfig(cfg.Lifecycle),
		Logger:   logger.Named("booking"),
		Distance: maps.NewEstimator(route, logger.Named("maps")),
	})
	resolver := fleet.NewResolver(st.fleet, ledger, fleet.Options{
		Locker:  locker,
		Tracker: tracker,
		Logger:  logger.Named("fleet"),
	})
	ledger.SetReleaser(resolver)
	reconciler := payment.NewReconciler(st.payments, ledger, payment.Options{
		Locker: locker,
		Events: bus,
		Logger: logger.Named("payment"),
		TTL:    cfg.Lifecycle.PaymentTTL,
	})
	ratings := rating.NewService(st.ratings, ledger, rating.Options{
		Locker: locker,
		Logger: logger.Named("rating"),
	})

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Bookings:      ledger,
		Payments:      reconciler,
		Fleet:         resolver,
		Ratings:       ratings,
		Pricing:       pricingSvc,
		Hub:           hub,
		Verifier:      verifier,
		CallbackToken: cfg.Auth.CallbackToken,
		Logger:        logger.Named("http"),
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return reconciler.RunExpirySweeper(gctx, cfg.Workers.ExpiryTick) })
	g.Go(func() error {
		return reconciler.RunReminder(gctx, cfg.Workers.ExpiryTick, cfg.Workers.ReminderWindow)
	})
	g.Go(func() error { return resolver.RunDispatchLoop(gctx, cfg.Workers.DispatchTick) })

	return g.Wait()
}
