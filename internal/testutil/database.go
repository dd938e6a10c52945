package testutil

import (
	"database/sql"
	"testing"

	"github.com/owid/chart-sync/internal/chartsync"
	"github.com/owid/chart-sync/internal/database"
	"github.com/owid/chart-sync/internal/database/migrations"
)

// NewTestRecordStore creates an in-memory record store with the schema
// migrated. The store is automatically closed when the test completes.
func NewTestRecordStore(t *testing.T, clock chartsync.Clock) *database.SQLiteRecordStore {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	store := database.NewRecordStoreFromDB(sqlDB, clock)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// environmentSchema is the subset of an environment database the store
// queries, for use in tests.
const environmentSchema = `
CREATE TABLE charts (
    id INTEGER PRIMARY KEY,
    slug TEXT NOT NULL,
    config TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    published_at TIMESTAMP,
    last_edited_by_user_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE variables (
    id INTEGER PRIMARY KEY,
    catalog_path TEXT,
    data_checksum TEXT,
    metadata_checksum TEXT,
    data_edited_at TIMESTAMP NOT NULL,
    metadata_edited_at TIMESTAMP NOT NULL
);

CREATE TABLE chart_dimensions (
    chart_id INTEGER NOT NULL REFERENCES charts(id),
    variable_id INTEGER NOT NULL REFERENCES variables(id),
    property TEXT NOT NULL,
    dim_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE chart_slug_redirects (
    slug TEXT PRIMARY KEY,
    chart_id INTEGER NOT NULL
);

CREATE TABLE tags (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE chart_tags (
    chart_id INTEGER NOT NULL REFERENCES charts(id),
    tag_id INTEGER NOT NULL REFERENCES tags(id)
);
`

// NewTestEnvironmentDB creates an in-memory environment database with the
// chart schema applied. The connection is closed when the test completes.
func NewTestEnvironmentDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if _, err := sqlDB.Exec(environmentSchema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return sqlDB
}
