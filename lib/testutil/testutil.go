package testutil

import (
	"database/sql"
	"testing"

	"ojsbot-backend/lib/configutil"
)

// OpenDB opens an in-memory database with the schema applied, it is closed
// when the test finishes.
func OpenDB(t testing.TB, schema string) *sql.DB {
	t.Helper()
	db, err := configutil.Database{File: ":memory:"}.OpenDB(schema)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
