// Package app wires the bookstore pickup service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-pickup/internal/domain/claim"
	"github.com/xenking/bookstore-pickup/internal/domain/claimcode"
	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
	"github.com/xenking/bookstore-pickup/internal/handler"
	"github.com/xenking/bookstore-pickup/internal/notify"
	"github.com/xenking/bookstore-pickup/internal/storage/postgres"
	"github.com/xenking/bookstore-pickup/pkg/health"
	"github.com/xenking/bookstore-pickup/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("broker", cfg.Broker.Kind),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	broadcaster, err := openBroker(cfg.Broker)
	if err != nil {
		return errors.Wrap(err, "open broker")
	}
	defer func() {
		if err := broadcaster.Close(); err != nil {
			lg.Warn("Broker close error", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadiness(health.Probe{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Check:   health.PingCheck(pool),
	})
	if p, ok := broadcaster.(health.Pinger); ok {
		healthSvc.AddReadiness(health.Probe{
			Name:             "broker",
			Timeout:          5 * time.Second,
			FailureThreshold: 5,
			Check:            health.PingCheck(p),
		})
	}
	healthSvc.AddLiveness(health.Probe{
		Name:  "goroutines",
		Check: health.GoroutineCountCheck(10000),
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	bookRepo := postgres.NewBookRepository(pool)
	memberRepo := postgres.NewMemberRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	logRepo := postgres.NewProcessingLogRepository(pool)
	tx := postgres.NewTransactor(pool)

	// Domain services.
	discounts := discount.NewEngine(orderRepo)
	notifier := notify.NewDispatcher(notify.LogMailer{}, broadcaster)
	orderService := order.NewService(
		bookRepo,
		memberRepo,
		orderRepo,
		tx,
		discounts,
		claimcode.NewIssuer(cfg.Claim.MaxIssueAttempts),
		notifier,
	)
	queries := order.NewQueries(orderRepo, bookRepo, memberRepo, discounts)
	processor, err := claim.NewProcessor(tx, orderRepo, memberRepo, logRepo, queries, notifier,
		claim.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create claim processor")
	}

	limiter := httpmiddleware.NewLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	go limiter.Run(ctx)

	// Router: health endpoints + API routes on one server.
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(orderService, queries, processor).
		Mount(router, httpmiddleware.RateLimit(limiter, handler.StaffKey))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("bookstore-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func openBroker(cfg BrokerConfig) (notify.Broadcaster, error) {
	switch cfg.Kind {
	case BrokerAMQP:
		return notify.DialAMQP(cfg.AMQPURL, cfg.Exchange)
	case BrokerKafka:
		return notify.NewKafka(cfg.KafkaBrokers, cfg.Topic), nil
	default:
		return notify.Nop{}, nil
	}
}
