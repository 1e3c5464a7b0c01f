// config_features.go - Laufzeit- und Trainings-Konfiguration
//
// Dieses Modul enthaelt:
// - Backend-Einstellungen (Threads, Buffer-Groesse)
// - Trainings-Einstellungen (Seed)
// - History-Schalter
package envconfig

// =============================================================================
// Backend-Einstellungen
// =============================================================================

var (
	// NumThreads setzt die Anzahl der CPU-Threads, 0 waehlt automatisch
	// Konfigurierbar via TRAIN_NUM_THREADS
	NumThreads = Uint("TRAIN_NUM_THREADS", 0)

	// MaxBufferSize begrenzt einzelne Compute-Buffer (in Bytes), 0 = unbegrenzt
	// Konfigurierbar via TRAIN_MAX_BUFFER_SIZE
	MaxBufferSize = Uint64("TRAIN_MAX_BUFFER_SIZE", 0)
)

// =============================================================================
// Trainings-Einstellungen
// =============================================================================

var (
	// Seed initialisiert Datengenerierung, Gewichte und das Mischen
	// Konfigurierbar via TRAIN_SEED
	Seed = Uint64("TRAIN_SEED", 0)
)

// =============================================================================
// History
// =============================================================================

var (
	// NoHistory deaktiviert das Speichern von Trainingslaeufen
	NoHistory = Bool("TRAIN_NOHISTORY")
)
