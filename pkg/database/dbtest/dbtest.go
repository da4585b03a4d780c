// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"entgo.io/ent/dialect"

	"github.com/jordanlanch/callops/pkg/database"
)

var counter atomic.Int64

// Open returns a fresh, fully migrated database private to the test
func Open(t *testing.T) *database.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, counter.Add(1))

	db, err := sql.Open(dialect.SQLite, dsn)
	if err != nil {
		t.Fatalf("failed opening sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db, dialect.SQLite, "up"); err != nil {
		t.Fatalf("failed migrating sqlite: %v", err)
	}

	return &database.Client{DB: db, Dialect: dialect.SQLite}
}
