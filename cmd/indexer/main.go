// Package main provides the headless indexing daemon: it subscribes to
// the contract event feed, projects stream state into storage, and can
// backfill a ledger range before going live.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stellar-stream-indexer/internal/codec"
	"stellar-stream-indexer/internal/events"
	"stellar-stream-indexer/internal/ingestion"
	"stellar-stream-indexer/internal/ledger"
	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/projector"
	"stellar-stream-indexer/internal/storage"
	"stellar-stream-indexer/internal/storage/memory"
	"stellar-stream-indexer/internal/storage/migrations"
	pgstore "stellar-stream-indexer/internal/storage/postgres"
)

func main() {
	mode := flag.String("mode", "live", "Ingestion mode: live or backfill")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("LEDGER_RPC_ENDPOINT"), "Ledger RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("LEDGER_WS_ENDPOINT"), "Ledger WebSocket endpoint")
	contract := flag.String("contract", os.Getenv("STREAM_CONTRACT"), "Stream contract address to index")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	fromLedger := flag.Int64("from-ledger", 0, "Start ledger for backfill")
	toLedger := flag.Int64("to-ledger", 0, "End ledger for backfill (0 = latest)")
	lagWindow := flag.Int64("lag-window", 2, "Ledgers to buffer before processing")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	if *contract == "" {
		logger.Fatal("--contract is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	dec := codec.NewDecoder(codec.WithDiagnosticHook(func(d codec.Diagnostic) {
		observability.RecordDecodeFallback(d.Reason)
	}))
	parser := events.NewParser(dec, events.WithSkipHook(func(string) {
		observability.RecordEventSkipped()
	}))
	proj := projector.New(stores.txer)

	newRunner := func(source ingestion.FeedSource) *ingestion.Runner {
		return ingestion.NewRunner(ingestion.RunnerOptions{
			Source:       source,
			Parser:       parser,
			Applier:      proj,
			LedgerHashes: stores.hashes,
			LagWindow:    *lagWindow,
			Logger:       log.New(os.Stdout, "[ingestion] ", log.LstdFlags|log.Lshortfile),
		})
	}

	switch *mode {
	case "backfill":
		if *rpcEndpoint == "" {
			logger.Fatal("--rpc-endpoint is required for backfill")
		}
		if err := runBackfill(ctx, newRunner(nil), *rpcEndpoint, *contract, *fromLedger, *toLedger, logger); err != nil {
			logger.Fatalf("Backfill failed: %v", err)
		}

	case "live":
		if *wsEndpoint == "" {
			logger.Fatal("--ws-endpoint is required for live mode")
		}
		ws, err := ledger.NewWSClient(ctx, *wsEndpoint, *contract, nil)
		if err != nil {
			logger.Fatalf("Failed to connect feed: %v", err)
		}
		defer ws.Close()

		if err := newRunner(ws).Run(ctx); err != nil && err != context.Canceled {
			logger.Fatalf("Ingestion failed: %v", err)
		}

	default:
		logger.Fatalf("Unknown mode %q", *mode)
	}

	close(done)
	logger.Println("Shutdown complete")
}

func runBackfill(ctx context.Context, runner *ingestion.Runner, rpcEndpoint, contract string, from, to int64, logger *log.Logger) error {
	rpc := ledger.NewHTTPClient(rpcEndpoint)

	if to == 0 {
		latest, err := rpc.LatestLedger(ctx)
		if err != nil {
			return fmt.Errorf("resolve latest ledger: %w", err)
		}
		to = latest.Seq
	}
	if from <= 0 || from > to {
		return fmt.Errorf("invalid ledger range %d..%d", from, to)
	}

	logger.Printf("Backfilling ledgers %d..%d", from, to)
	raws, err := rpc.Events(ctx, contract, from, to)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	runner.Backfill(ctx, raws)
	logger.Printf("Backfill complete: %d events", len(raws))
	return nil
}

// indexerStores holds the stores the indexer needs.
type indexerStores struct {
	txer   storage.Transactor
	hashes storage.LedgerHashStore
}

func createStores(ctx context.Context, postgresDSN string, useMemory bool) (*indexerStores, func(), error) {
	if useMemory {
		streams := memory.NewStreamStore()
		audit := memory.NewAuditLogStore()
		return &indexerStores{
			txer:   memory.NewTransactor(streams, audit),
			hashes: memory.NewLedgerHashStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	return &indexerStores{
		txer:   pgstore.NewTransactor(pool),
		hashes: pgstore.NewLedgerHashStore(pool),
	}, pool.Close, nil
}
