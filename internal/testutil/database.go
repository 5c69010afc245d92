// Package testutil provides database helpers for repository tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/engagic/engagic/internal/migrate"
)

// EnvTestDatabaseURL names the DSN tests connect to. Tests that need a
// database skip when it is unset so the suite passes without infrastructure.
const EnvTestDatabaseURL = "TEST_DATABASE_URL"

var (
	migrateOnce sync.Once
	migrateErr  error
)

// SetupTestDB opens the test database, migrates it to the current schema and
// truncates all tables so the test starts clean. The connection is closed via
// t.Cleanup. Skips the calling test when TEST_DATABASE_URL is not set.
func SetupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := os.Getenv(EnvTestDatabaseURL)
	if dsn == "" {
		t.Skipf("%s not set, skipping database test", EnvTestDatabaseURL)
	}

	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrateOnce.Do(func() {
		migrateErr = migrate.RunWithDB(ctx, sqldb)
	})
	if migrateErr != nil {
		sqldb.Close()
		t.Fatalf("migrate test database: %v", migrateErr)
	}

	db := bun.NewDB(sqldb, pgdialect.New(), bun.WithDiscardUnknownColumns())
	t.Cleanup(func() { db.Close() })

	truncateAll(ctx, t, db)
	return db
}

// truncateAll clears every application table. CASCADE keeps the list honest
// if a foreign key is missed.
func truncateAll(ctx context.Context, t *testing.T, db *bun.DB) {
	t.Helper()
	_, err := db.ExecContext(ctx, `
		TRUNCATE
			sync_log,
			queue_jobs,
			processing_cache,
			matter_appearances,
			matter_topics,
			item_topics,
			meeting_topics,
			items,
			city_matters,
			meetings,
			zipcodes,
			cities
		CASCADE`)
	if err != nil {
		t.Fatalf("truncate test database: %v", err)
	}
}
