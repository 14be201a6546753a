package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEmbeddedMigrationsParse guards against the migration files going
// missing from the embedded filesystem: it checks that at least one
// .up.sql and one .down.sql file are embedded, without reaching a real
// Postgres instance. The SQL itself is not parsed here.
func TestEmbeddedMigrationsParse(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var hasUp, hasDown bool
	for _, e := range entries {
		switch {
		case len(e.Name()) > 7 && e.Name()[len(e.Name())-7:] == ".up.sql":
			hasUp = true
		case len(e.Name()) > 9 && e.Name()[len(e.Name())-9:] == ".down.sql":
			hasDown = true
		}
	}
	require.True(t, hasUp, "expected at least one .up.sql migration")
	require.True(t, hasDown, "expected at least one .down.sql migration")
}
