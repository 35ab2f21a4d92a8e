package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/catalogue/internal/testutil"
	pkgdb "github.com/smallbiznis/catalogue/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Positive(t, ups)
	assert.Equal(t, ups, downs)
}

func TestMigrateSQLiteCreatesEveryTable(t *testing.T) {
	db := testutil.OpenDB(t)

	require.NoError(t, Migrate(db, pkgdb.TypeSQLite))

	for _, table := range []string{
		"rco_formations",
		"converted_formations",
		"update_history",
		"establishments",
		"ps_formations",
		"reports",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestMigrateRejectsNilHandle(t *testing.T) {
	assert.Error(t, Migrate(nil, pkgdb.TypeSQLite))
}
