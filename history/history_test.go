package history

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSchemaVersion(t *testing.T) {
	db := openTest(t)
	version, err := db.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestRunLifecycle(t *testing.T) {
	db := openTest(t)

	id, err := db.CreateRun(Run{
		Task:          "classify",
		Optimizer:     "adamw",
		Loss:          "cross_entropy",
		Epochs:        2,
		BatchLogical:  16,
		BatchPhysical: 8,
		ValSplit:      0.25,
		Seed:          math.MaxUint64,
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	r, err := db.Run(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, uint64(math.MaxUint64), r.Seed, "Seed ueberlebt den int64-Roundtrip")
	assert.True(t, r.FinishedAt.IsZero())
	assert.False(t, r.StartedAt.IsZero())

	require.NoError(t, db.FinishRun(id, StatusFinished))
	r, err = db.Run(id[:8])
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, r.Status)
	assert.False(t, r.FinishedAt.IsZero())
	assert.Equal(t, "classify", r.Task)
	assert.Equal(t, int64(8), r.BatchPhysical)
	assert.InDelta(t, 0.25, r.ValSplit, 1e-12)
}

func TestEpochsRoundTrip(t *testing.T) {
	db := openTest(t)
	id, err := db.CreateRun(Run{Task: "regress"})
	require.NoError(t, err)

	nan := math.NaN()
	want := []Epoch{
		{Epoch: 1, TrainLoss: 0.9, TrainLossUnc: 0.1, TrainAcc: nan, TrainAccUnc: nan,
			ValLoss: nan, ValLossUnc: nan, ValAcc: nan, ValAccUnc: nan, Duration: 1500 * time.Millisecond},
		{Epoch: 2, TrainLoss: 0.5, TrainLossUnc: 0.05, TrainAcc: 0.75, TrainAccUnc: 0.02,
			ValLoss: 0.6, ValLossUnc: 0.07, ValAcc: 0.7, ValAccUnc: 0.03, Duration: time.Second},
	}

	// Reihenfolge beim Schreiben ist egal
	require.NoError(t, db.RecordEpoch(id, want[1]))
	require.NoError(t, db.RecordEpoch(id, want[0]))

	got, err := db.Epochs(id)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Epochen unterscheiden sich (-want +got):\n%s", diff)
	}

	// Ueberschreiben einer Epoche
	replaced := want[0]
	replaced.TrainLoss = 0.8
	require.NoError(t, db.RecordEpoch(id, replaced))
	got, err = db.Epochs(id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.8, got[0].TrainLoss, 1e-12)
}

func TestRunsOrderAndLookup(t *testing.T) {
	db := openTest(t)

	var ids []string
	for range 3 {
		id, err := db.CreateRun(Run{Task: "classify"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{runs[0].ID, runs[1].ID, runs[2].ID}, "neueste zuerst")

	cases := []struct {
		name   string
		prefix string
		err    error
	}{
		{"volle ID", ids[1], nil},
		{"unbekannt", "zzzz", ErrRunNotFound},
		{"leerer Praefix", "", ErrEmptyPrefix},
		{"Prozent ist kein Platzhalter", "%", ErrRunNotFound},
		{"Unterstrich ist kein Platzhalter", "_", ErrRunNotFound},
		{"gemeinsamer Praefix", "abc-", ErrAmbiguousRun},
		{"eindeutiger Praefix", "abc-1", nil},
	}

	for _, id := range []string{"abc-1", "abc-2"} {
		_, err := db.conn.Exec(`INSERT INTO runs (id) VALUES (?)`, id)
		require.NoError(t, err)
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Run(tt.prefix)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestFinishRunUnknown(t *testing.T) {
	db := openTest(t)
	assert.ErrorIs(t, db.FinishRun("gibt-es-nicht", StatusFailed), ErrRunNotFound)
}

func TestDeleteCascades(t *testing.T) {
	db := openTest(t)
	id, err := db.CreateRun(Run{})
	require.NoError(t, err)
	require.NoError(t, db.RecordEpoch(id, Epoch{Epoch: 1}))

	_, err = db.conn.Exec(`DELETE FROM runs WHERE id = ?`, id)
	require.NoError(t, err)

	epochs, err := db.Epochs(id)
	require.NoError(t, err)
	assert.Empty(t, epochs)
}

func TestMigrateV1ToV2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")

	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = conn.Exec(`
	CREATE TABLE meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT 1
	);
	INSERT INTO meta (id) VALUES (1);

	CREATE TABLE runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL DEFAULT '',
		optimizer TEXT NOT NULL DEFAULT '',
		loss TEXT NOT NULL DEFAULT '',
		epochs INTEGER NOT NULL DEFAULT 0,
		batch_logical INTEGER NOT NULL DEFAULT 0,
		batch_physical INTEGER NOT NULL DEFAULT 0,
		val_split REAL NOT NULL DEFAULT 0,
		seed INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	INSERT INTO runs (id, task) VALUES ('alt-offen', 'regress');
	INSERT INTO runs (id, task, finished_at) VALUES ('alt-fertig', 'regress', CURRENT_TIMESTAMP);
	`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	version, err := db.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	open, err := db.Run("alt-offen")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, open.Status)

	done, err := db.Run("alt-fertig")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, done.Status)
}
