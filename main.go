package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-engine/internal/api"
	"signal-engine/internal/audit"
	"signal-engine/internal/events"
	"signal-engine/internal/execution"
	"signal-engine/internal/formula"
	"signal-engine/internal/indicators"
	"signal-engine/internal/market"
	"signal-engine/internal/notify"
	"signal-engine/internal/risk"
	"signal-engine/internal/scheduler"
	"signal-engine/internal/store"
	"signal-engine/pkg/config"
	"signal-engine/pkg/db"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("🚀 signal engine %s starting (port=%s interval=%s)", version, cfg.Port, cfg.EvalInterval)
	log.Printf("using database at %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	st := store.New(database.DB)
	if cfg.SeedPath != "" {
		seed, err := store.LoadSeedFile(cfg.SeedPath)
		if err != nil {
			log.Fatalf("failed to load seed file: %v", err)
		}
		if err := st.ApplySeed(seed); err != nil {
			log.Fatalf("failed to apply seed: %v", err)
		}
		log.Printf("seeded %d policies, %d formulas, %d subscriptions from %s",
			len(seed.Policies), len(seed.Formulas), len(seed.Subscriptions), cfg.SeedPath)
	}

	auditLog := audit.NewLog(database.DB)
	defer auditLog.Close()

	supplier := buildSupplier(ctx, cfg, bus, st)

	// Brokers
	registry := execution.NewRegistry()
	paper := execution.NewPaperBroker(cfg.PaperInitialBalance)
	paper.FeeRate = cfg.PaperFeeRate
	paper.SlippageBps = cfg.PaperSlippageBps
	registry.Register(paper)

	hub := notify.NewHub(bus, notify.LogDispatcher{})

	execRouter := execution.NewRouter(registry, execution.NewApprovalStore(database.DB), hub, auditLog, bus, database.DB)
	execRouter.ExecTimeout = cfg.ExecTimeout

	engine := &scheduler.Engine{
		Store:         st,
		Supplier:      supplier,
		Indicators:    indicators.NewEngine(7, 25, 14, 100),
		Evaluator:     formula.NewEvaluator(cfg.EvalTimeout),
		Validator:     risk.NewValidator(),
		Router:        execRouter,
		Audit:         auditLog,
		Bus:           bus,
		Interval:      cfg.EvalInterval,
		Workers:       cfg.Workers,
		ClockTriggers: cfg.ClockTriggers,
	}
	engine.Start(ctx)

	// Stale approvals get swept once an hour.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		approvals := execution.NewApprovalStore(database.DB)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := approvals.ExpireStale(cfg.ApprovalMaxAge); err != nil {
					log.Printf("approval sweep error: %v", err)
				} else if n > 0 {
					log.Printf("expired %d stale approvals", n)
				}
			}
		}
	}()

	server := api.NewServer(bus, database, st, engine, execRouter, auditLog, hub,
		api.SystemMeta{
			UseMockFeed: cfg.UseMockFeed,
			Interval:    cfg.EvalInterval,
			Version:     version,
		}, cfg.JWTSecret)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()
	log.Printf("✅ api listening on :%s", cfg.Port)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down...")
	cancel()
	engine.Wait()
	if err := auditLog.Flush(); err != nil {
		log.Printf("audit flush error: %v", err)
	}
	log.Println("bye")
}

// buildSupplier picks the market data source: mock for development, REST
// against a quote API otherwise, optionally fronted by a websocket stream
// cache.
func buildSupplier(ctx context.Context, cfg *config.Config, bus *events.Bus, st *store.Store) market.Supplier {
	var supplier market.Supplier
	if cfg.UseMockFeed || cfg.MarketAPIURL == "" {
		log.Println("using mock market feed")
		supplier = market.NewMockSupplier(50000, 0.002)
	} else {
		supplier = market.NewRESTSupplier(cfg.MarketAPIURL, cfg.MarketAPIKey, cfg.MarketRateLimit)
	}

	if cfg.MarketStreamURL == "" {
		return supplier
	}

	symbols := streamSymbols(st)
	if len(symbols) == 0 {
		log.Println("no active symbols yet, stream feed disabled")
		return supplier
	}
	feed := market.NewStreamFeed(cfg.MarketStreamURL, symbols, bus)
	feed.Start(ctx)
	return &market.CachedSupplier{Feed: feed, Fallback: supplier, MaxAge: cfg.SnapshotMaxAge}
}

func streamSymbols(st *store.Store) []string {
	pairs, err := st.ActivePairs()
	if err != nil {
		log.Printf("failed to load active pairs for stream feed: %v", err)
		return nil
	}
	return store.Symbols(pairs)
}
