// Package main provides the unified service that runs all components
// together:
// - Ingestion (continuous): event feed, projection, fanout
// - Maintenance (scheduled): snapshots, retention archiving, stale sweep
// - HTTP API: audit log, stream state, snapshots, archive, live updates
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"stellar-stream-indexer/internal/codec"
	"stellar-stream-indexer/internal/events"
	"stellar-stream-indexer/internal/fanout"
	"stellar-stream-indexer/internal/ingestion"
	"stellar-stream-indexer/internal/ledger"
	"stellar-stream-indexer/internal/maintenance"
	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/projector"
	"stellar-stream-indexer/internal/storage"
	chstore "stellar-stream-indexer/internal/storage/clickhouse"
	"stellar-stream-indexer/internal/storage/memory"
	"stellar-stream-indexer/internal/storage/migrations"
	pgstore "stellar-stream-indexer/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	wsEndpoint string
	contract   string

	stores *allStores
	hub    *fanout.Hub
	runner *maintenance.Runner
	logger *log.Logger

	mu      sync.Mutex
	started time.Time
}

// allStores holds all storage implementations.
type allStores struct {
	streams   storage.StreamStore
	audit     storage.AuditLogStore
	snapshots storage.SnapshotStore
	archive   storage.ArchiveStore
	hashes    storage.LedgerHashStore
	txer      storage.Transactor
}

func main() {
	loadEnvFile()

	wsEndpoint := flag.String("ws-endpoint", os.Getenv("LEDGER_WS_ENDPOINT"), "Ledger WebSocket endpoint")
	contract := flag.String("contract", os.Getenv("STREAM_CONTRACT"), "Stream contract address to index")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the cold archive (optional)")
	httpAddr := flag.String("http-addr", ":8080", "HTTP API address")
	lagWindow := flag.Int64("lag-window", 2, "Ledgers to buffer before processing")
	maintenanceInterval := flag.Duration("maintenance-interval", 24*time.Hour, "Maintenance run interval")
	sweepInterval := flag.Duration("sweep-interval", time.Minute, "Stale stream sweep interval")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *contract == "" {
		logger.Fatal("--contract is required")
	}
	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	server := &Server{
		wsEndpoint: *wsEndpoint,
		contract:   *contract,
		stores:     stores,
		hub:        fanout.NewHub(),
		runner:     maintenance.NewRunner(stores.streams, stores.audit, stores.snapshots, stores.archive),
		logger:     logger,
		started:    time.Now(),
	}

	done := make(chan error, 1)

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

	go server.startHTTPServer(*httpAddr)

	scheduler := maintenance.NewScheduler(maintenance.SchedulerOptions{
		Runner:              server.runner,
		Reconciler:          maintenance.NewReconciler(stores.streams),
		MaintenanceInterval: *maintenanceInterval,
		SweepInterval:       *sweepInterval,
	})
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("Scheduler error: %v", err)
		}
	}()

	err = server.runIngestion(ctx, *lagWindow)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		streams := memory.NewStreamStore()
		audit := memory.NewAuditLogStore()
		return &allStores{
			streams:   streams,
			audit:     audit,
			snapshots: memory.NewSnapshotStore(),
			archive:   memory.NewArchiveStore(),
			hashes:    memory.NewLedgerHashStore(),
			txer:      memory.NewTransactor(streams, audit),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &allStores{
		streams:   pgstore.NewStreamStore(pool),
		audit:     pgstore.NewAuditLogStore(pool),
		snapshots: pgstore.NewSnapshotStore(pool),
		archive:   pgstore.NewArchiveStore(pool),
		hashes:    pgstore.NewLedgerHashStore(pool),
		txer:      pgstore.NewTransactor(pool),
	}
	cleanup := func() { pool.Close() }

	// With ClickHouse configured, aged audit entries go to the cold
	// store instead of the archive table in PostgreSQL.
	if clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.archive = chstore.NewArchiveStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// runIngestion runs the live pipeline until the context is cancelled.
func (s *Server) runIngestion(ctx context.Context, lagWindow int64) error {
	s.logger.Println("Starting ingestion...")

	ws, err := ledger.NewWSClient(ctx, s.wsEndpoint, s.contract, nil)
	if err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	defer ws.Close()

	dec := codec.NewDecoder(codec.WithDiagnosticHook(func(d codec.Diagnostic) {
		observability.RecordDecodeFallback(d.Reason)
	}))
	parser := events.NewParser(dec, events.WithSkipHook(func(string) {
		observability.RecordEventSkipped()
	}))
	proj := projector.New(s.stores.txer, projector.WithNotifier(s.hub))

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:       ws,
		Parser:       parser,
		Applier:      proj,
		LedgerHashes: s.stores.hashes,
		LagWindow:    lagWindow,
		Logger:       log.New(os.Stdout, "[ingestion] ", log.LstdFlags|log.Lshortfile),
	})

	s.logger.Println("Ingestion started")
	return runner.Run(ctx)
}

// startHTTPServer starts the HTTP API.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("GET /streams", s.handleListStreams)
	mux.HandleFunc("GET /streams/{id}", s.handleGetStream)
	mux.HandleFunc("GET /audit/recent", s.handleRecentAudit)
	mux.HandleFunc("GET /audit/stream/{id}", s.handleStreamAudit)
	mux.HandleFunc("GET /snapshots/{id}", s.handleStreamSnapshots)
	mux.HandleFunc("GET /snapshots/{id}/{month}", s.handleSnapshot)
	mux.HandleFunc("GET /archive/{id}", s.handleStreamArchive)
	mux.HandleFunc("POST /maintenance/run", s.handleMaintenanceRun)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(started).String(),
		"started": started,
	})
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.stores.streams.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, streamViews(streams))
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	st, err := s.stores.streams.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, streamView(st))
}

func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := storage.RecentDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.stores.audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, auditViews(entries))
}

func (s *Server) handleStreamAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stores.audit.ForStream(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, auditViews(entries))
}

func (s *Server) handleStreamSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.stores.snapshots.ForStream(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotViews(snaps))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.stores.snapshots.Get(r.Context(), r.PathValue("id"), r.PathValue("month"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snap))
}

func (s *Server) handleStreamArchive(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stores.archive.ForStream(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, archiveViews(entries))
}

func (s *Server) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Run(r.Context())
	if errors.Is(err, maintenance.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "maintenance already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshotsCreated": res.SnapshotsCreated,
		"logsArchived":     res.LogsArchived,
		"duration":         res.Duration.String(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is consumed cross-origin by wallets and dashboards.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and streams notifications for the
// requested addresses until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var addresses []string
	for _, addr := range r.URL.Query()["address"] {
		if addr != "" {
			addresses = append(addresses, addr)
		}
	}
	if len(addresses) == 0 {
		writeError(w, http.StatusBadRequest, "at least one non-empty address query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(addresses...)
	if sub == nil {
		return
	}
	defer s.hub.Unsubscribe(sub)

	// Reader goroutine: consume control frames, detect disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-closed:
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
