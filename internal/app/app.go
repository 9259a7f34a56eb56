// Package app wires the storefront fulfillment service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-fulfillment/internal/domain/discount"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
	"github.com/xenking/storefront-fulfillment/internal/domain/subscription"
	"github.com/xenking/storefront-fulfillment/internal/handler"
	"github.com/xenking/storefront-fulfillment/internal/lease"
	"github.com/xenking/storefront-fulfillment/internal/notify"
	"github.com/xenking/storefront-fulfillment/internal/notify/amqp"
	"github.com/xenking/storefront-fulfillment/internal/notify/kafka"
	"github.com/xenking/storefront-fulfillment/internal/provider"
	"github.com/xenking/storefront-fulfillment/internal/storage/postgres"
	"github.com/xenking/storefront-fulfillment/internal/sweep"
	"github.com/xenking/storefront-fulfillment/pkg/health"
	"github.com/xenking/storefront-fulfillment/pkg/httpmiddleware"
)

const sweepLeaseKey = "storefront:sweep:lease"

// Run creates all dependencies, starts the HTTP server and the sweeper, and
// handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Sweep lease: Redis when configured, otherwise process-local.
	var sweepLease lease.Lease = &lease.Local{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		sweepLease = lease.NewRedis(rdb, sweepLeaseKey, cfg.Sweep.LeaseTTL)
	}

	notifier, closeNotifier, err := newNotifier(ctx, cfg.Notify, lg)
	if err != nil {
		return errors.Wrap(err, "create notifier")
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			lg.Warn("Close notifier", zap.Error(err))
		}
	}()

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	offerRepo := postgres.NewOfferRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	orderTx := postgres.NewOrderTransactor(pool)
	subscriptionTx := postgres.NewSubscriptionTransactor(pool)

	// Domain services.
	pricer := discount.NewService(offerRepo, productRepo)
	checkout := order.NewCheckout(pricer, orderTx, notifier)
	orders := order.NewMachine(orderTx, notifier)
	subscriptions := subscription.NewMachine(subscriptionTx)

	var accounts payment.AccountCreator
	if cfg.Provider.BaseURL != "" {
		accounts = provider.New(provider.Config{
			BaseURL:   cfg.Provider.BaseURL,
			KeyID:     cfg.Provider.KeyID,
			KeySecret: cfg.Provider.KeySecret,
			Timeout:   cfg.Provider.Timeout,
		}, m.TracerProvider(), m.MeterProvider())
	}
	processor, err := payment.NewProcessor(payment.Config{
		Secret:        []byte(cfg.Webhook.Secret),
		EffectTimeout: cfg.Webhook.EffectTimeout,
	}, orders, subscriptions, accounts, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create webhook processor")
	}
	applier := payment.NewApplier(processor, cfg.Webhook.ApplyTimeout, cfg.Webhook.Concurrency)

	sweeper, err := sweep.New(sweep.Config{
		Interval:      cfg.Sweep.Interval,
		PaymentWindow: cfg.Sweep.PaymentWindow,
		BatchSize:     cfg.Sweep.BatchSize,
	}, orders, sweepLease, lg.Named("sweep"), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create sweeper")
	}

	// HTTP: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.New(pricer, checkout, orders, processor, applier).
		Register(mux, handler.APIKeyAuth(apikeyRepo, []byte(cfg.APIKeyPepper)))

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument("storefront-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	if cfg.Sweep.Enabled {
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}
	// Graceful shutdown: stop advertising readiness, drain HTTP, then let
	// acknowledged webhook events finish applying.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := applier.Wait(shutdownCtx); err != nil {
			lg.Error("Webhook events still applying at shutdown", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

// newNotifier builds the configured status change publisher and its close
// function.
func newNotifier(ctx context.Context, cfg NotifyConfig, lg *zap.Logger) (order.Notifier, func() error, error) {
	switch cfg.Driver {
	case "kafka":
		n := kafka.New(cfg.Brokers, cfg.Topic)
		return n, n.Close, nil
	case "amqp":
		n, err := amqp.Dial(ctx, cfg.AMQPURL, cfg.Exchange, lg)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	default:
		return notify.NewLog(lg.Named("notify")), func() error { return nil }, nil
	}
}
