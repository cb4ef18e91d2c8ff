package repository

import (
	"path/filepath"
	"testing"

	"github.com/garyjia/opsflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/opsflow/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestDB opens a migrated sqlite database in a temp dir
func newTestDB(t *testing.T) *sqldb.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "opsflow.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).RunMigrations()
	require.NoError(t, err)

	return sqldb.NewDB(db.DB, db.Dialect, logger)
}
