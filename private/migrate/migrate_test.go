// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package migrate_test

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gestima.io/gestima/private/migrate"
	"gestima.io/gestima/private/testcontext"
)

func TestMigration_Run(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	migration := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				DB:          db,
				Description: "create example",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE example (id INTEGER PRIMARY KEY, name TEXT)`,
				},
			},
			{
				DB:          db,
				Description: "add column",
				Version:     1,
				Action: migrate.SQL{
					`ALTER TABLE example ADD COLUMN note TEXT`,
				},
			},
		},
	}

	log := zaptest.NewLogger(t)
	require.NoError(t, migration.Run(ctx, log))

	version, err := migration.CurrentVersion(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 1, version)

	// rerunning applies nothing new
	require.NoError(t, migration.Run(ctx, log))

	_, err = db.ExecContext(ctx, `INSERT INTO example (name, note) VALUES ('a', 'b')`)
	require.NoError(t, err)
}

func TestMigration_FailedStepRollsBack(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	migration := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				DB:          db,
				Description: "broken step",
				Version:     0,
				Action:      migrate.SQL{`THIS IS NOT SQL`},
			},
		},
	}

	require.Error(t, migration.Run(ctx, zaptest.NewLogger(t)))

	version, err := migration.CurrentVersion(ctx, db)
	require.NoError(t, err)
	require.Equal(t, -1, version)
}

func TestMigration_Validation(t *testing.T) {
	bad := migrate.Migration{Table: "versions; DROP TABLE parts"}
	require.Error(t, bad.ValidTableName())

	outOfOrder := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{Version: 1},
			{Version: 0},
		},
	}
	require.Error(t, outOfOrder.ValidateSteps())
}
