// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package gestimadb implements the SQLite storage backend.
package gestimadb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/batches"
	"gestima.io/gestima/files"
	"gestima.io/gestima/inforsync"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/partners"
	"gestima.io/gestima/parts"
	"gestima.io/gestima/private/migrate"
	"gestima.io/gestima/production"
	"gestima.io/gestima/quotes"
	"gestima.io/gestima/workcenters"
)

var (
	// Error is the default gestimadb errs class.
	Error = errs.Class("gestimadb")

	mon = monkit.Package()
)

// DB is the single SQLite database holding every domain table. Writes outside
// an explicit transaction are serialized by an in-process mutex; SQLite's
// busy timeout covers the rest.
type DB struct {
	log *zap.Logger
	db  *sql.DB
	mu  sync.Mutex

	nowFn func() time.Time
}

// Open opens or creates the database file.
func Open(ctx context.Context, log *zap.Logger, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	sqlDB, err := sql.Open("sqlite3",
		"file:"+path+"?_busy_timeout=10000&_journal=WAL&_foreign_keys=on&_loc=UTC")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errs.Combine(Error.Wrap(err), sqlDB.Close())
	}

	return &DB{log: log, db: sqlDB, nowFn: time.Now}, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// TestingSetNow overrides the clock used for audit timestamps.
func (db *DB) TestingSetNow(nowFn func() time.Time) { db.nowFn = nowFn }

// MigrateToLatest applies all pending schema migrations.
func (db *DB) MigrateToLatest(ctx context.Context) error {
	return db.Migration().Run(ctx, db.log.Named("migration"))
}

// Domain accessors.

// Parts returns the part storage.
func (db *DB) Parts() parts.DB { return &partsDB{db} }

// Operations returns the operation storage.
func (db *DB) Operations() parts.OperationsDB { return &operationsDB{db} }

// MaterialItems returns the material master storage.
func (db *DB) MaterialItems() parts.MaterialItemsDB { return &materialItemsDB{db} }

// MaterialInputs returns the material input storage.
func (db *DB) MaterialInputs() parts.MaterialInputsDB { return &materialInputsDB{db} }

// Partners returns the partner storage.
func (db *DB) Partners() partners.DB { return &partnersDB{db} }

// WorkCenters returns the work center storage.
func (db *DB) WorkCenters() workcenters.DB { return &workCentersDB{db} }

// Batches returns the batch and batch set storage.
func (db *DB) Batches() batches.DB { return &batchesDB{db} }

// Quotes returns the quote storage.
func (db *DB) Quotes() quotes.DB { return &quotesDB{db} }

// Files returns the file registry storage.
func (db *DB) Files() files.DB { return &filesDB{db} }

// Production returns the production telemetry storage.
func (db *DB) Production() production.DB { return &productionDB{db} }

// SyncState returns the sync scheduler state storage.
func (db *DB) SyncState() inforsync.DB { return &syncStateDB{db} }

// Numbers returns the number allocation queries.
func (db *DB) Numbers() numbers.DB { return &numbersDB{db} }

// Migration returns the versioned schema of the database.
func (db *DB) Migration() *migrate.Migration {
	return &migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				DB:          db.db,
				Description: "Initial schema",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE parts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						part_number INTEGER NOT NULL UNIQUE,
						article_number TEXT NOT NULL DEFAULT '',
						name TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'quote',
						stock_shape TEXT NOT NULL DEFAULT '',
						stock_diameter REAL NOT NULL DEFAULT 0,
						stock_width REAL NOT NULL DEFAULT 0,
						stock_height REAL NOT NULL DEFAULT 0,
						stock_length REAL NOT NULL DEFAULT 0,
						file_id INTEGER,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE INDEX idx_parts_article ON parts (article_number)`,
					`CREATE TABLE operations (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						part_id INTEGER NOT NULL REFERENCES parts (id),
						seq INTEGER NOT NULL,
						work_center_id INTEGER,
						setup_time_min REAL NOT NULL DEFAULT 0,
						operation_time_min REAL NOT NULL DEFAULT 0,
						manning_percent REAL NOT NULL DEFAULT 100,
						utilization_percent REAL NOT NULL DEFAULT 100,
						is_coop INTEGER NOT NULL DEFAULT 0,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1,
						UNIQUE (part_id, seq)
					)`,
					`CREATE TABLE material_items (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						item_number INTEGER NOT NULL UNIQUE,
						code TEXT NOT NULL UNIQUE,
						name TEXT NOT NULL DEFAULT '',
						shape TEXT NOT NULL DEFAULT '',
						density REAL NOT NULL DEFAULT 0,
						price_per_kg REAL NOT NULL DEFAULT 0,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE TABLE material_inputs (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						part_id INTEGER NOT NULL REFERENCES parts (id),
						seq INTEGER NOT NULL,
						price_category_id INTEGER,
						material_item_id INTEGER REFERENCES material_items (id),
						shape TEXT NOT NULL DEFAULT '',
						diameter REAL NOT NULL DEFAULT 0,
						width REAL NOT NULL DEFAULT 0,
						height REAL NOT NULL DEFAULT 0,
						length REAL NOT NULL DEFAULT 0,
						quantity REAL NOT NULL DEFAULT 0,
						cut_length_mm REAL,
						pieces INTEGER,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1,
						UNIQUE (part_id, seq)
					)`,
					`CREATE TABLE partners (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						partner_number INTEGER NOT NULL UNIQUE,
						name TEXT NOT NULL DEFAULT '',
						is_customer INTEGER NOT NULL DEFAULT 0,
						is_supplier INTEGER NOT NULL DEFAULT 0,
						ico TEXT NOT NULL DEFAULT '',
						dic TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE TABLE work_centers (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						number INTEGER NOT NULL UNIQUE,
						name TEXT NOT NULL DEFAULT '',
						type TEXT NOT NULL DEFAULT '',
						rate_machine REAL NOT NULL DEFAULT 0,
						rate_labor REAL NOT NULL DEFAULT 0,
						rate_overhead REAL NOT NULL DEFAULT 0,
						rate_margin REAL NOT NULL DEFAULT 0,
						can_turn INTEGER NOT NULL DEFAULT 0,
						can_mill INTEGER NOT NULL DEFAULT 0,
						can_drill INTEGER NOT NULL DEFAULT 0,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE TABLE batch_sets (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						set_number INTEGER NOT NULL UNIQUE,
						part_id INTEGER REFERENCES parts (id),
						name TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'draft',
						frozen_at TIMESTAMP,
						frozen_by TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE TABLE batches (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						batch_number INTEGER NOT NULL UNIQUE,
						part_id INTEGER NOT NULL REFERENCES parts (id),
						batch_set_id INTEGER REFERENCES batch_sets (id),
						quantity REAL NOT NULL DEFAULT 0,
						material_cost REAL NOT NULL DEFAULT 0,
						operation_cost REAL NOT NULL DEFAULT 0,
						coop_cost REAL NOT NULL DEFAULT 0,
						unit_cost REAL NOT NULL DEFAULT 0,
						total_cost REAL NOT NULL DEFAULT 0,
						is_frozen INTEGER NOT NULL DEFAULT 0,
						frozen_at TIMESTAMP,
						frozen_by TEXT NOT NULL DEFAULT '',
						unit_price_frozen REAL,
						total_price_frozen REAL,
						snapshot_data BLOB,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE TABLE quotes (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						quote_number INTEGER NOT NULL UNIQUE,
						partner_id INTEGER NOT NULL REFERENCES partners (id),
						title TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'draft',
						discount_percent REAL NOT NULL DEFAULT 0,
						tax_percent REAL NOT NULL DEFAULT 0,
						subtotal REAL NOT NULL DEFAULT 0,
						discount_amount REAL NOT NULL DEFAULT 0,
						tax_amount REAL NOT NULL DEFAULT 0,
						total REAL NOT NULL DEFAULT 0,
						snapshot_data BLOB,
						sent_at TIMESTAMP,
						approved_at TIMESTAMP,
						rejected_at TIMESTAMP,
						notes TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE TABLE quote_items (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						quote_id INTEGER NOT NULL REFERENCES quotes (id),
						part_id INTEGER NOT NULL REFERENCES parts (id),
						part_number INTEGER NOT NULL DEFAULT 0,
						part_name TEXT NOT NULL DEFAULT '',
						quantity REAL NOT NULL DEFAULT 0,
						unit_price REAL NOT NULL DEFAULT 0,
						line_total REAL NOT NULL DEFAULT 0,
						notes TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE TABLE files (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						hash TEXT NOT NULL,
						path TEXT NOT NULL UNIQUE,
						original_name TEXT NOT NULL DEFAULT '',
						size INTEGER NOT NULL DEFAULT 0,
						type TEXT NOT NULL DEFAULT '',
						mime TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'active',
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE INDEX idx_files_hash ON files (hash)`,
					`CREATE TABLE file_links (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						file_id INTEGER NOT NULL REFERENCES files (id),
						entity_type TEXT NOT NULL,
						entity_id INTEGER NOT NULL,
						is_primary INTEGER NOT NULL DEFAULT 0,
						revision TEXT NOT NULL DEFAULT '',
						link_type TEXT NOT NULL DEFAULT 'drawing',
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1
					)`,
					`CREATE UNIQUE INDEX idx_file_links_live
						ON file_links (file_id, entity_type, entity_id)
						WHERE deleted_at IS NULL`,
					`CREATE INDEX idx_file_links_entity ON file_links (entity_type, entity_id)`,
					`CREATE TABLE production_records (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						part_id INTEGER NOT NULL REFERENCES parts (id),
						infor_order_number TEXT NOT NULL,
						operation_seq INTEGER NOT NULL,
						work_center_id INTEGER,
						planned_setup_min REAL NOT NULL DEFAULT 0,
						planned_operation_min REAL NOT NULL DEFAULT 0,
						actual_setup_min REAL NOT NULL DEFAULT 0,
						actual_operation_min REAL NOT NULL DEFAULT 0,
						planned_manning_percent REAL NOT NULL DEFAULT 100,
						actual_manning_percent REAL NOT NULL DEFAULT 100,
						released_quantity REAL NOT NULL DEFAULT 0,
						is_coop INTEGER NOT NULL DEFAULT 0,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						created_by TEXT NOT NULL DEFAULT '',
						updated_by TEXT NOT NULL DEFAULT '',
						deleted_at TIMESTAMP,
						deleted_by TEXT NOT NULL DEFAULT '',
						version INTEGER NOT NULL DEFAULT 1,
						UNIQUE (part_id, infor_order_number, operation_seq)
					)`,
				},
			},
			{
				DB:          db.db,
				Description: "Sync scheduler state",
				Version:     1,
				Action: migrate.SQL{
					`CREATE TABLE sync_state (
						step TEXT PRIMARY KEY,
						enabled INTEGER NOT NULL DEFAULT 0,
						interval_sec INTEGER NOT NULL DEFAULT 3600,
						last_sync_at TIMESTAMP,
						last_status TEXT NOT NULL DEFAULT '',
						last_error TEXT NOT NULL DEFAULT '',
						updated_at TIMESTAMP NOT NULL
					)`,
					`CREATE TABLE sync_log (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						step TEXT NOT NULL,
						started_at TIMESTAMP NOT NULL,
						finished_at TIMESTAMP NOT NULL,
						status TEXT NOT NULL,
						count INTEGER NOT NULL DEFAULT 0,
						error TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX idx_sync_log_step ON sync_log (step, started_at)`,
				},
			},
			{
				DB:          db.db,
				Description: "Material input to operation links",
				Version:     2,
				Action: migrate.SQL{
					`CREATE TABLE material_input_operations (
						input_id INTEGER NOT NULL REFERENCES material_inputs (id),
						operation_id INTEGER NOT NULL REFERENCES operations (id),
						consumed_quantity REAL,
						PRIMARY KEY (input_id, operation_id)
					)`,
				},
			},
		},
	}
}
