// migrations.go - Datenbank-Schema-Migrationen
// Enthaelt: migrate(), migrateVxToVy() Funktionen

package history

import "fmt"

// migrate fuehrt Datenbank-Schema-Migrationen durch
func (db *DB) migrate() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return fmt.Errorf("get schema version after migration attempt: %w", err)
	}

	for version < currentSchemaVersion {
		switch version {
		case 1:
			// status Spalte zur runs Tabelle hinzufuegen
			if err := db.migrateV1ToV2(); err != nil {
				return fmt.Errorf("migrate v1 to v2: %w", err)
			}
			version = 2
		default:
			// Unbekannte Version - auf aktuell setzen
			if err := db.setSchemaVersion(currentSchemaVersion); err != nil {
				return err
			}
			version = currentSchemaVersion
		}
	}

	return nil
}

// migrateV1ToV2 fuegt die status Spalte zur runs Tabelle hinzu.
// Bereits beendete Laeufe werden als finished markiert.
func (db *DB) migrateV1ToV2() error {
	_, err := db.conn.Exec(`ALTER TABLE runs ADD COLUMN status TEXT NOT NULL DEFAULT 'running';`)
	if err != nil && !duplicateColumnError(err) {
		return fmt.Errorf("add status column: %w", err)
	}

	_, err = db.conn.Exec(`UPDATE runs SET status = 'finished' WHERE finished_at IS NOT NULL;`)
	if err != nil {
		return fmt.Errorf("backfill status: %w", err)
	}

	return db.setSchemaVersion(2)
}
