// Package integration_test contains integration tests for the
// PostgreSQL adapter. These require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./track/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/adapters/postgres"
	"github.com/tracklane/processor/track/migrations"
	"github.com/tracklane/processor/track/store"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "postgres")
	password := envOr("POSTGRES_PASSWORD", "postgres")
	dbname := envOr("POSTGRES_DB", "tracklane_test")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	if _, err := db.Exec(`
		DROP TABLE IF EXISTS processor_claims CASCADE;
		DROP TABLE IF EXISTS events CASCADE;
	`); err != nil {
		t.Fatalf("failed to drop tables: %v", err)
	}

	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:   tmpDir,
		OutputFilename: "test.sql",
		EventsTable:    "events",
		ClaimsTable:    "processor_claims",
	}
	if err := migrations.GeneratePostgres(&config); err != nil {
		t.Fatalf("generate migration: %v", err)
	}

	sqlBytes, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := db.Exec(string(sqlBytes)); err != nil {
		t.Fatalf("execute migration: %v", err)
	}
}

func insertEvent(t *testing.T, db *sql.DB, eventType string, payload []byte) int64 {
	t.Helper()
	var position int64
	err := db.QueryRow(
		`INSERT INTO events (aggregate_id, event_type, payload) VALUES ($1, $2, $3) RETURNING global_position`,
		uuid.New(), eventType, payload,
	).Scan(&position)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return position
}

func TestTokenStore_InitializeFetchClaimAndStore(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	ts := postgres.NewTokenStore(db, postgres.DefaultTokenStoreConfig())

	if err := ts.InitializeTokenSegments(ctx, "proc-a", 2, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ids, err := ts.FetchSegments(ctx, "proc-a")
	if err != nil {
		t.Fatalf("fetch segments: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(ids))
	}

	if _, err := ts.FetchToken(ctx, "proc-a", 0, "owner-1"); err != nil {
		t.Fatalf("fetch token: %v", err)
	}
	if err := ts.StoreToken(ctx, track.GlobalSequenceToken(5), "proc-a", 0, "owner-1"); err != nil {
		t.Fatalf("store token: %v", err)
	}

	if _, err := ts.FetchToken(ctx, "proc-a", 0, "owner-2"); !errors.Is(err, store.ErrUnableToClaim) {
		t.Fatalf("expected ErrUnableToClaim for a live claim held by another owner, got %v", err)
	}

	if err := ts.ReleaseClaim(ctx, "proc-a", 0, "owner-1"); err != nil {
		t.Fatalf("release claim: %v", err)
	}

	token, err := ts.FetchToken(ctx, "proc-a", 0, "owner-2")
	if err != nil {
		t.Fatalf("fetch token after release: %v", err)
	}
	if token != track.GlobalSequenceToken(5) {
		t.Errorf("expected the released claim's stored token to survive, got %v", token)
	}
}

func TestTokenStore_StoreTokenUpsertsForFreshlySplitSegment(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	ts := postgres.NewTokenStore(db, postgres.DefaultTokenStoreConfig())

	if err := ts.InitializeTokenSegments(ctx, "proc-split", 1, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Segment 99 has never had a claim row: StoreToken must still
	// succeed, matching Processor.SplitSegment's need to create fresh
	// claim rows for both halves of a split.
	if err := ts.StoreToken(ctx, track.GlobalSequenceToken(3), "proc-split", 99, "owner-1"); err != nil {
		t.Fatalf("store token for new segment: %v", err)
	}

	token, err := ts.FetchToken(ctx, "proc-split", 99, "owner-2")
	if err != nil {
		t.Fatalf("fetch token: %v", err)
	}
	if token != track.GlobalSequenceToken(3) {
		t.Errorf("expected token 3, got %v", token)
	}
}

func TestMessageSource_OpenStreamDeliversAppendedEvents(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	insertEvent(t, db, "TestEventCreated", []byte(`{"n":1}`))
	insertEvent(t, db, "TestEventCreated", []byte(`{"n":2}`))

	src := postgres.NewMessageSource(db, postgres.DefaultMessageSourceConfig())
	stream, err := src.OpenStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := stream.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("next available: %v", err)
	}
	second, err := stream.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("next available: %v", err)
	}

	if first.Token().(track.GlobalSequenceToken) >= second.Token().(track.GlobalSequenceToken) {
		t.Errorf("expected strictly increasing tokens, got %v then %v", first.Token(), second.Token())
	}
}
