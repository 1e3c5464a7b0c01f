// database.go - Kern-Datenbank-Funktionen der Trainings-History
// Enthaelt: DB struct, Open, Close, init, Hilfsfunktionen

package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion definiert die aktuelle Datenbank-Schema-Version.
// Wird bei Schema-Aenderungen erhoeht, die Migrationen erfordern.
const currentSchemaVersion = 2

// DB umhuellt die SQLite-Verbindung der Trainings-History.
// Schreiber werden von SQLite serialisiert, Application-Level-Locks sind nicht noetig.
type DB struct {
	conn *sql.DB
}

// Open oeffnet (oder erstellt) die History-Datenbank unter path
// Fehlende Verzeichnisse werden angelegt
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verbindung testen
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return db, nil
}

// Close schliesst die Datenbankverbindung
func (db *DB) Close() error {
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return db.conn.Close()
}

// init initialisiert das Datenbankschema
func (db *DB) init() error {
	if _, err := db.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO meta (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL DEFAULT '',
		optimizer TEXT NOT NULL DEFAULT '',
		loss TEXT NOT NULL DEFAULT '',
		epochs INTEGER NOT NULL DEFAULT 0,
		batch_logical INTEGER NOT NULL DEFAULT 0,
		batch_physical INTEGER NOT NULL DEFAULT 0,
		val_split REAL NOT NULL DEFAULT 0,
		seed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		train_loss REAL,
		train_loss_unc REAL,
		train_acc REAL,
		train_acc_unc REAL,
		val_loss REAL,
		val_loss_unc REAL,
		val_acc REAL,
		val_acc_unc REAL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, epoch),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_epochs_run_id ON epochs(run_id);
	`, currentSchemaVersion)

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	// Schema-Version pruefen und bei Bedarf migrieren
	if err := db.migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	return nil
}

// getSchemaVersion gibt die aktuelle Schema-Version zurueck
func (db *DB) getSchemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow("SELECT schema_version FROM meta").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// setSchemaVersion setzt die Schema-Version
func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec("UPDATE meta SET schema_version = ?", version)
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// duplicateColumnError prueft ob ein SQLite-Fehler eine doppelte Spalte meldet
func duplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
