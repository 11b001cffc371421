package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/swappool/internal/access"
	"github.com/xtrntr/swappool/internal/api"
	"github.com/xtrntr/swappool/internal/archive"
	"github.com/xtrntr/swappool/internal/auth"
	"github.com/xtrntr/swappool/internal/config"
	"github.com/xtrntr/swappool/internal/db"
	"github.com/xtrntr/swappool/internal/events"
	"github.com/xtrntr/swappool/internal/logging"
	"github.com/xtrntr/swappool/internal/metrics"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/payout"
	"github.com/xtrntr/swappool/internal/pool"
	"github.com/xtrntr/swappool/migrations"
)

func main() {
	configPath := flag.String("config", os.Getenv("SWAPPOOL_CONFIG"), "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Service, cfg.Env, cfg.LogFile)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	currencies := make([]pool.Currency, 0, len(cfg.Pool.Currencies))
	for _, c := range cfg.Pool.Currencies {
		currencies = append(currencies, pool.Currency{Symbol: c.Symbol, Name: c.Name, SettlementWindow: c.SettlementWindow.Duration})
	}
	registry := pool.NewStaticRegistry(currencies...)

	bootstrap := access.State{
		Administrator: cfg.Roles.Administrator,
		Spare:         cfg.Roles.Spare,
		Oracles:       cfg.Roles.Oracles,
	}

	var (
		roles    *access.Roles
		accounts auth.AccountStore
		payouts  api.PayoutReader
		opts     []pool.Option
		health   func() error
		database *db.DB
		err      error
	)
	if cfg.DatabaseURL != "" {
		database, err = db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close(context.Background())
		if err := database.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
		state, err := database.LoadRoles(ctx, bootstrap)
		if err != nil {
			return err
		}
		roles = access.NewRoles(state, database)
		accounts = database
		payouts = database
		opts = append(opts, pool.WithStore(database), pool.WithSender(payout.NewLedgerSender(database, logger)))
		health = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return database.Ping(pingCtx)
		}
	} else {
		logger.Warn("no database configured, ledger state is kept in memory only")
		ledger := payout.NewMemoryLedger()
		roles = access.NewRoles(bootstrap, nil)
		accounts = auth.NewMemoryAccounts()
		payouts = ledger
		opts = append(opts, pool.WithSender(payout.NewLedgerSender(ledger, logger)))
	}

	arch, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		return err
	}
	defer arch.Close()
	archivedOffers, archivedSwaps, err := arch.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("archive opened", "path", cfg.ArchivePath, "offers", archivedOffers, "swaps", archivedSwaps)

	emitters := events.Multi{metrics.Ledger()}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaEmitter := events.NewKafkaEmitter(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, logger)
		defer kafkaEmitter.Close()
		emitters = append(emitters, kafkaEmitter)
	}
	feed := newHub(logger)
	emitters = append(emitters, feed)

	opts = append(opts, pool.WithArchive(arch), pool.WithEmitter(emitters), pool.WithLogger(logger))
	ledgerPool, err := pool.New(pool.Config{
		MinDeposit: cfg.Pool.MinDeposit,
		MinLock:    cfg.Pool.MinLock.Duration,
		Registry:   registry,
		Access:     roles,
	}, opts...)
	if err != nil {
		return err
	}
	var snap models.Snapshot
	if database != nil {
		if snap, err = database.LoadSnapshot(ctx); err != nil {
			return err
		}
	}
	if snap, err = raiseCounters(ctx, snap, arch); err != nil {
		return err
	}
	if err := ledgerPool.Restore(snap); err != nil {
		return err
	}
	logger.Info("ledger restored", "offers", len(snap.Offers), "swaps", len(snap.Swaps),
		"next_offer", snap.OfferCounter, "next_swap", snap.SwapCounter)

	feed.pool = ledgerPool
	go feed.run(ctx, cfg.BroadcastInterval.Duration)

	authService := auth.NewAuthService(accounts, cfg.JWTSecret, cfg.TokenTTL.Duration)
	handler := api.NewHandler(ledgerPool, registry, roles, authService, payouts, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		Limiter: api.NewRateLimiter(api.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}),
		Health: health,
		Extra: func(r chi.Router) {
			r.Get("/ws", feed.handleWebSocket)
		},
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", "addr", cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// raiseCounters keeps new identifiers above every archived one. Without a
// database the counters would otherwise restart at 0 while the archive
// survives.
func raiseCounters(ctx context.Context, snap models.Snapshot, arch *archive.Store) (models.Snapshot, error) {
	maxOffer, maxSwap, err := arch.MaxIDs(ctx)
	if err != nil {
		return snap, err
	}
	snap.OfferCounter = max(snap.OfferCounter, maxOffer+1)
	snap.SwapCounter = max(snap.SwapCounter, maxSwap+1)
	return snap, nil
}
