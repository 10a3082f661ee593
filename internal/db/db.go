// Package db keeps recovery slots: serialized workspace documents written
// after each mutation so an interrupted session can be restored.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vxco/phase/internal/config"
	_ "modernc.org/sqlite"
)

// FileName is the recovery store inside the PHASe home directory.
const FileName = "recovery.db"

// migration upgrades the schema from version-1 to version.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations run in order; user_version records the last one applied.
var migrations = []migration{
	{
		version: 1,
		name:    "recovery slots",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS recovery_slots (
			  id             TEXT PRIMARY KEY,
			  workspace_key  TEXT NOT NULL,
			  name           TEXT NOT NULL,
			  generation     INTEGER NOT NULL,
			  particle_count INTEGER NOT NULL,
			  document       BLOB NOT NULL,
			  created_at     INTEGER NOT NULL
			)`,
			// Slot ids are ULIDs, so id order within a key is write order.
			`CREATE INDEX IF NOT EXISTS idx_recovery_slots_key_id
			 ON recovery_slots(workspace_key, id DESC)`,
		},
	},
}

// CurrentSchemaVersion is the version a fresh store ends at.
var CurrentSchemaVersion = migrations[len(migrations)-1].version

// Init opens the recovery store under baseDir, creating baseDir and its
// exports directory on first use. Tests pass t.TempDir() instead of ~/.phase.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "exports")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		// best-effort, may not work on all platforms
		_ = os.Chmod(dir, 0700)
	}

	dbPath := filepath.Join(baseDir, FileName)
	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery store: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Slots hold full documents, keep them private.
	_ = os.Chmod(dbPath, 0600)
	return db, nil
}

// ConfigurePool applies connection pool settings from config. Zero values
// keep the driver defaults.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies every migration above the stored user_version, each in its
// own transaction. A store written by a newer build is refused rather than
// modified.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("recovery store schema %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	return nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	// PRAGMA takes no bind parameters; version is a constant from the table.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}

func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion returns the schema version stored in the user_version pragma.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion overwrites the stored schema version.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
