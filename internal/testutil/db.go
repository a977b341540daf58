package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/comicvault/internal/db"
	"github.com/vrsandeep/comicvault/internal/store"
)

// SetupTestDB opens an in-memory SQLite database with every migration
// applied. It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(":memory:")
	require.NoError(t, err, "open in-memory database")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.RunMigrations(database), "apply migrations")
	return database
}

// SetupTestStore is SetupTestDB wrapped in a store.
func SetupTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(SetupTestDB(t))
}
