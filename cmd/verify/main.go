// Package main provides a one-shot ledger hash verification pass:
// compare the hashes recorded during ingestion against the live node
// and report any divergence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"stellar-stream-indexer/internal/ledger"
	"stellar-stream-indexer/internal/storage/postgres"
	"stellar-stream-indexer/internal/verifier"
)

func main() {
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("LEDGER_RPC_ENDPOINT"), "Ledger RPC HTTP endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	fromLedger := flag.Int64("from-ledger", 0, "Start of the sequence range")
	toLedger := flag.Int64("to-ledger", 0, "End of the sequence range (0 = latest recorded)")
	fetchTimeout := flag.Duration("fetch-timeout", 10*time.Second, "Per-sequence source fetch timeout")

	flag.Parse()

	logger := log.New(os.Stdout, "[verify] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}
	if *fromLedger <= 0 {
		logger.Fatal("--from-ledger is required")
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	rpc := ledger.NewHTTPClient(*rpcEndpoint)

	to := *toLedger
	if to == 0 {
		latest, err := rpc.LatestLedger(ctx)
		if err != nil {
			logger.Fatalf("Failed to resolve latest ledger: %v", err)
		}
		to = latest.Seq
	}

	v := verifier.New(postgres.NewLedgerHashStore(pool), rpc, verifier.Options{
		FetchTimeout: *fetchTimeout,
		Logger:       logger,
	})

	logger.Printf("Verifying ledgers %d..%d", *fromLedger, to)
	report, err := v.Verify(ctx, *fromLedger, to)
	if err != nil {
		logger.Fatalf("Verification failed: %v", err)
	}

	fmt.Printf("Verified:   %d\n", report.Verified)
	fmt.Printf("Skipped:    %d\n", report.Skipped)
	fmt.Printf("Mismatches: %d\n", len(report.Mismatches))
	for _, m := range report.Mismatches {
		fmt.Printf("  seq %d: recorded %s, source %s\n", m.Seq, m.Recorded, m.Source)
	}

	if !report.Clean() {
		os.Exit(2)
	}
}
