package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/Portunus/gate/internal/db"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	sqlitestore "github.com/BrandonDHaskell/Portunus/gate/internal/gate/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// openTestDB returns an in-memory SQLite connection with the production
// PRAGMAs and schema.  Closed automatically when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return sqlitestore.New(conn, w), conn
}

func testVector(seed float64) types.Vector {
	v := make(types.Vector, types.VectorLength)
	for i := range v {
		v[i] = seed + float64(i)/1000
	}
	return v
}

func seedIdentity(t *testing.T, s *sqlitestore.Store, id string, seed float64) {
	t.Helper()
	err := s.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertIdentity(ctx, types.Identity{
			ID:          id,
			DisplayName: id,
			Vector:      testVector(seed),
			EnrolledAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		})
	})
	if err != nil {
		t.Fatalf("seed identity %s: %v", id, err)
	}
}
