package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/swappool/internal/access"
	"github.com/xtrntr/swappool/internal/auth"
	"github.com/xtrntr/swappool/internal/config"
	"github.com/xtrntr/swappool/internal/db"
	"github.com/xtrntr/swappool/internal/logging"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
	"github.com/xtrntr/swappool/migrations"
)

const tez = 1_000_000

// Seed the database with demo accounts, offers and one matched swap
func main() {
	configPath := flag.String("config", os.Getenv("SWAPPOOL_CONFIG"), "path to the YAML configuration")
	password := flag.String("password", "password123", "password for every demo account")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required to seed")
	}
	logger := logging.Setup(cfg.Service+"-seed", cfg.Env, "")
	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)
	if err := database.Migrate(ctx, migrations.FS); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	snap, err := database.LoadSnapshot(ctx)
	if err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}
	if snap.OfferCounter > 0 {
		fmt.Printf("Database already has %d offers. No need to seed.\n", snap.OfferCounter)
		os.Exit(0)
	}

	authService := auth.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL.Duration)
	identities := []string{"tz1depositorA", "tz1depositorB", "tz1requester", "tz1oracle", "tz1admin", "tz1spare"}
	for _, identity := range identities {
		if _, err := authService.Register(ctx, identity, *password); err != nil && !errors.Is(err, pool.ErrDuplicateKey) {
			log.Fatalf("Failed to create account %s: %v", identity, err)
		}
	}

	state, err := database.LoadRoles(ctx, access.State{
		Administrator: "tz1admin",
		Spare:         "tz1spare",
		Oracles:       map[string]string{"tz1oracle": "demo oracle"},
	})
	if err != nil {
		log.Fatalf("Failed to seed roles: %v", err)
	}

	currencies := make([]pool.Currency, 0, len(cfg.Pool.Currencies))
	for _, c := range cfg.Pool.Currencies {
		currencies = append(currencies, pool.Currency{Symbol: c.Symbol, Name: c.Name, SettlementWindow: c.SettlementWindow.Duration})
	}
	p, err := pool.New(pool.Config{
		MinDeposit: cfg.Pool.MinDeposit,
		MinLock:    cfg.Pool.MinLock.Duration,
		Registry:   pool.NewStaticRegistry(currencies...),
		Access:     access.NewRoles(state, nil),
	}, pool.WithStore(database), pool.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create pool: %v", err)
	}

	// every configured currency is accepted by both demo offers
	accepted := make(map[string]string, len(currencies))
	for _, c := range currencies {
		accepted[c.Symbol] = "demo-" + c.Symbol + "-address"
	}
	for _, o := range []struct {
		depositor string
		amount    int64
	}{
		{"tz1depositorA", 13 * tez},
		{"tz1depositorB", 9 * tez},
	} {
		if _, err := p.CreateOffer(ctx, o.depositor, accepted, o.amount); err != nil {
			log.Fatalf("Failed to create offer for %s: %v", o.depositor, err)
		}
	}

	swap, err := p.RequestSwap(ctx, models.SwapRequest{
		Beneficiary:  "tz1requester",
		Amount:       15 * tez,
		Currency:     currencies[0].Symbol,
		ExchangeRate: decimal.RequireFromString("8600.63"),
	})
	if err != nil {
		log.Fatalf("Failed to request swap: %v", err)
	}

	fmt.Printf("Successfully seeded 2 offers and swap %d drawing on offers %v!\n", swap.ID, swap.SourceOffers)
}
