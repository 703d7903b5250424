package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/dispatch-core/internal/config"
	"github.com/example/dispatch-core/internal/dispatch"
	"github.com/example/dispatch-core/internal/eta"
	"github.com/example/dispatch-core/internal/geo"
	httpapi "github.com/example/dispatch-core/internal/http"
	"github.com/example/dispatch-core/internal/ingest"
	"github.com/example/dispatch-core/internal/logging"
	"github.com/example/dispatch-core/internal/matcher"
	"github.com/example/dispatch-core/internal/notify"
	"github.com/example/dispatch-core/internal/payments"
	"github.com/example/dispatch-core/internal/pricing"
	"github.com/example/dispatch-core/internal/scoring"
	"github.com/example/dispatch-core/internal/storage"
	"github.com/example/dispatch-core/internal/trips"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	pc, err := config.LoadPricingConfig(cfg.PricingFile)
	if err != nil {
		logger.Error("invalid pricing configuration", "error", err)
		os.Exit(1)
	}

	var index geo.Index
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("geo index: redis", "addr", cfg.RedisAddr)
	} else {
		index = geo.NewMemoryIndex()
		logger.Info("geo index: in-memory")
	}

	var store storage.OrderStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN, logger); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
		ps, err := storage.NewPostgresOrderStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = ps
		logger.Info("order store: postgres")
	} else {
		store = storage.NewMemoryOrderStore()
		logger.Info("order store: in-memory")
	}

	est := &eta.Estimator{Cache: eta.NewCache(cfg.ETACacheTTL), SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMEndpoint != "" {
		est.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
		logger.Info("eta client: osrm", "endpoint", cfg.OSRMEndpoint)
	}

	scorer, err := scoring.New(pc.Weights, cfg.Dispatch.MaxETASeconds, est)
	if err != nil {
		logger.Error("invalid scoring weights", "error", err)
		os.Exit(1)
	}
	engine := pricing.NewEngine(pc.Verticals, pc.Surge)

	wsreg := dispatch.NewWSRegistry()
	offers := &dispatch.Fallback{Chain: []dispatch.Dispatcher{wsreg}}
	if cfg.OfferWebhookURL != "" {
		offers.Chain = append(offers.Chain, dispatch.NewWebhookDispatcher(cfg.OfferWebhookURL))
	}

	svc := matcher.NewService(index, scorer, engine, store, offers, est, cfg.Dispatch, logger)
	if cfg.TripServiceURL != "" {
		svc.Trips = trips.NewClient(cfg.TripServiceURL)
	}
	if cfg.NotifyURL != "" {
		svc.Notify = notify.NewClient(cfg.NotifyURL)
	}
	if sc := payments.NewStripeClient(os.Getenv("STRIPE_CURRENCY")); sc != nil {
		svc.Payments = sc
		logger.Info("stripe fare holds enabled")
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		logger.Info("kafka producer enabled", "topic", cfg.KafkaTopic)
	}

	api := httpapi.NewServer(svc, index, kp, wsreg, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("dispatch-core listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	path := filepath.Join("migrations", "001_create_orders.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := db.Exec(string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", path)
	return nil
}
