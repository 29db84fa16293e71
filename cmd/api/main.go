package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pharmalink/pharmalink-backend/api/routes"
	"github.com/pharmalink/pharmalink-backend/internal/cart"
	"github.com/pharmalink/pharmalink-backend/internal/checkout"
	"github.com/pharmalink/pharmalink-backend/internal/deliveries"
	"github.com/pharmalink/pharmalink-backend/internal/fees"
	"github.com/pharmalink/pharmalink-backend/internal/inventory"
	"github.com/pharmalink/pharmalink-backend/internal/orders"
	"github.com/pharmalink/pharmalink-backend/internal/payments"
	"github.com/pharmalink/pharmalink-backend/internal/reservations"
	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/gateway"
	"github.com/pharmalink/pharmalink-backend/pkg/instance"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/metrics"
	"github.com/pharmalink/pharmalink-backend/pkg/migrate"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
	"github.com/pharmalink/pharmalink-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := buildServices(cfg, logg, dbClient, redisClient, registry)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Params{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			Idempotency:  redisClient,
			Gatherer:     registry,
			Cart:         deps.cart,
			Checkout:     deps.engine,
			Orders:       deps.orders,
			Reservations: deps.reservations,
			Deliveries:   deps.deliveries,
			Payments:     deps.payments,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "graceful shutdown failed", err)
		}
	}
}

type services struct {
	cart         cart.Service
	engine       *checkout.Engine
	orders       orders.Service
	reservations reservations.Service
	deliveries   deliveries.Service
	payments     payments.Service
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*services, error) {
	gormDB := dbClient.DB()

	calc, err := fees.FromConfig(cfg.Fees)
	if err != nil {
		return nil, err
	}
	settlementMetrics := metrics.NewSettlementMetrics(reg)
	emitter := outbox.NewService(outbox.NewRepository(gormDB), logg)
	ledger := inventory.NewLedger()
	inventoryRepo := inventory.NewRepository(gormDB)
	cartRepo := cart.NewRepository(gormDB)
	ordersRepo := orders.NewRepository(gormDB)
	reservationsRepo := reservations.NewRepository(gormDB)

	cartSvc, err := cart.NewService(dbClient, cartRepo, inventoryRepo, calc)
	if err != nil {
		return nil, err
	}

	engine, err := checkout.NewEngine(checkout.EngineParams{
		Tx:          dbClient,
		Carts:       cartRepo,
		Orders:      ordersRepo,
		Ledger:      ledger,
		Calculator:  calc,
		Outbox:      emitter,
		Metrics:     settlementMetrics,
		Logger:      logg,
		LockTimeout: cfg.Settlement.LockTimeout,
	})
	if err != nil {
		return nil, err
	}

	ordersSvc, err := orders.NewService(dbClient, ordersRepo, emitter)
	if err != nil {
		return nil, err
	}

	reservationsSvc, err := reservations.NewService(reservations.Params{
		Tx:          dbClient,
		Repo:        reservationsRepo,
		Inventory:   inventoryRepo,
		Ledger:      ledger,
		Calculator:  calc,
		Outbox:      emitter,
		Metrics:     settlementMetrics,
		Logger:      logg,
		LockTimeout: cfg.Settlement.LockTimeout,
	})
	if err != nil {
		return nil, err
	}

	deliveriesSvc, err := deliveries.NewService(dbClient, deliveries.NewRepository(gormDB), emitter)
	if err != nil {
		return nil, err
	}

	gatewayClient, err := gateway.NewClient(cfg.Gateway, nil)
	if err != nil {
		return nil, err
	}
	guard, err := payments.NewCallbackGuard(redisClient, cfg.Settlement.CallbackTTL)
	if err != nil {
		return nil, err
	}
	paymentsSvc, err := payments.NewService(payments.Params{
		Tx:           dbClient,
		Sessions:     payments.NewRepository(gormDB),
		Carts:        cartRepo,
		Reservations: reservationsRepo,
		Inventory:    inventoryRepo,
		Calculator:   calc,
		Engine:       engine,
		Gateway:      gatewayClient,
		Guard:        guard,
		Outbox:       emitter,
		Metrics:      settlementMetrics,
		Logger:       logg,
		Config:       cfg.Gateway,
	})
	if err != nil {
		return nil, err
	}

	return &services{
		cart:         cartSvc,
		engine:       engine,
		orders:       ordersSvc,
		reservations: reservationsSvc,
		deliveries:   deliveriesSvc,
		payments:     paymentsSvc,
	}, nil
}
