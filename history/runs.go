// runs.go - CRUD Operationen fuer Trainingslaeufe und Epochen
// Enthaelt: Run, Epoch, CreateRun, RecordEpoch, FinishRun, Runs, Run, Epochs

package history

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Status eines Trainingslaufs
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// ErrRunNotFound wird zurueckgegeben wenn kein Lauf zur ID passt
var ErrRunNotFound = errors.New("history: run not found")

// ErrAmbiguousRun wird zurueckgegeben wenn ein ID-Praefix mehrere Laeufe trifft
var ErrAmbiguousRun = errors.New("history: ambiguous run id")

// ErrEmptyPrefix wird zurueckgegeben wenn Run ohne ID-Praefix aufgerufen wird
var ErrEmptyPrefix = errors.New("history: run id prefix required")

// Run beschreibt einen Trainingslauf
type Run struct {
	ID            string
	Task          string
	Optimizer     string
	Loss          string
	Epochs        int64
	BatchLogical  int64
	BatchPhysical int64
	ValSplit      float64
	Seed          uint64
	Status        string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Epoch enthaelt die Kennzahlen einer Epoche.
// Nicht definierte Werte (z.B. ohne Validierung) sind NaN.
type Epoch struct {
	Epoch        int64
	TrainLoss    float64
	TrainLossUnc float64
	TrainAcc     float64
	TrainAccUnc  float64
	ValLoss      float64
	ValLossUnc   float64
	ValAcc       float64
	ValAccUnc    float64
	Duration     time.Duration
}

// CreateRun legt einen neuen Lauf an und gibt seine ID zurueck
// ID, Status und StartedAt von r werden ueberschrieben
func (db *DB) CreateRun(r Run) (string, error) {
	id := uuid.New().String()
	_, err := db.conn.Exec(`
		INSERT INTO runs (id, task, optimizer, loss, epochs, batch_logical, batch_physical, val_split, seed, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, r.Task, r.Optimizer, r.Loss, r.Epochs, r.BatchLogical, r.BatchPhysical, r.ValSplit,
		int64(r.Seed), StatusRunning, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	return id, nil
}

// RecordEpoch speichert die Kennzahlen einer Epoche
// Eine bereits gespeicherte Epoche wird ersetzt
func (db *DB) RecordEpoch(runID string, e Epoch) error {
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO epochs (run_id, epoch, train_loss, train_loss_unc, train_acc, train_acc_unc,
			val_loss, val_loss_unc, val_acc, val_acc_unc, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, e.Epoch,
		nullable(e.TrainLoss), nullable(e.TrainLossUnc), nullable(e.TrainAcc), nullable(e.TrainAccUnc),
		nullable(e.ValLoss), nullable(e.ValLossUnc), nullable(e.ValAcc), nullable(e.ValAccUnc),
		e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert epoch: %w", err)
	}

	return nil
}

// FinishRun setzt den Endstatus eines Laufs
func (db *DB) FinishRun(runID, status string) error {
	res, err := db.conn.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	return nil
}

const runColumns = `id, task, optimizer, loss, epochs, batch_logical, batch_physical, val_split, seed, status, started_at, finished_at`

// Runs gibt alle Laeufe zurueck, neueste zuerst
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.conn.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Run gibt den Lauf mit der ID oder dem eindeutigen ID-Praefix zurueck
// Der Praefix wird woertlich verglichen, % und _ sind keine Platzhalter
func (db *DB) Run(prefix string) (Run, error) {
	if prefix == "" {
		return Run{}, ErrEmptyPrefix
	}

	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs WHERE substr(id, 1, length(?1)) = ?1 LIMIT 2`, prefix)
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate runs: %w", err)
	}

	switch len(runs) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case 1:
		return runs[0], nil
	default:
		return Run{}, fmt.Errorf("%w: %s", ErrAmbiguousRun, prefix)
	}
}

// Epochs gibt die Epochen eines Laufs in aufsteigender Reihenfolge zurueck
func (db *DB) Epochs(runID string) ([]Epoch, error) {
	rows, err := db.conn.Query(`
		SELECT epoch, train_loss, train_loss_unc, train_acc, train_acc_unc,
			val_loss, val_loss_unc, val_acc, val_acc_unc, duration_ms
		FROM epochs
		WHERE run_id = ?
		ORDER BY epoch ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		var vals [8]sql.NullFloat64
		var ms int64
		if err := rows.Scan(&e.Epoch, &vals[0], &vals[1], &vals[2], &vals[3],
			&vals[4], &vals[5], &vals[6], &vals[7], &ms); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}

		e.TrainLoss, e.TrainLossUnc = value(vals[0]), value(vals[1])
		e.TrainAcc, e.TrainAccUnc = value(vals[2]), value(vals[3])
		e.ValLoss, e.ValLossUnc = value(vals[4]), value(vals[5])
		e.ValAcc, e.ValAccUnc = value(vals[6]), value(vals[7])
		e.Duration = time.Duration(ms) * time.Millisecond
		epochs = append(epochs, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate epochs: %w", err)
	}

	return epochs, nil
}

// scanRun liest eine Zeile mit runColumns
func scanRun(rows *sql.Rows) (Run, error) {
	var r Run
	var seed int64
	var finished sql.NullTime
	if err := rows.Scan(&r.ID, &r.Task, &r.Optimizer, &r.Loss, &r.Epochs, &r.BatchLogical, &r.BatchPhysical,
		&r.ValSplit, &seed, &r.Status, &r.StartedAt, &finished); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	r.Seed = uint64(seed)
	if finished.Valid {
		r.FinishedAt = finished.Time
	}

	return r, nil
}

// nullable bildet NaN auf NULL ab
func nullable(f float64) any {
	if math.IsNaN(f) {
		return nil
	}
	return f
}

// value bildet NULL auf NaN ab
func value(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}
