package cmd

import (
	"bytes"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/train/history"
	"github.com/ollama/train/opt"
)

func validOptions() fitOptions {
	return fitOptions{
		Task:      taskClassify,
		Features:  2,
		Classes:   3,
		NData:     64,
		Hidden:    []int{8},
		Epochs:    2,
		Batch:     16,
		UBatch:    8,
		ValSplit:  0.25,
		Optimizer: opt.OptimizerAdamW,
		Loss:      opt.LossCrossEntropy,
		LR:        1e-2,
		Seed:      3,
		Threads:   2,
		Silent:    true,
	}
}

func TestNewCLI(t *testing.T) {
	root := NewCLI()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"fit", "history"}, names)

	fit, _, err := root.Find([]string{"fit"})
	require.NoError(t, err)
	usage := fit.UsageString()
	assert.Contains(t, usage, "Environment Variables:")
	assert.Contains(t, usage, "TRAIN_NUM_THREADS")
	assert.Contains(t, usage, "TRAIN_NOHISTORY")
}

func TestFitOptionsFromFlags(t *testing.T) {
	cases := []struct {
		name  string
		args  []string
		env   map[string]string
		check func(t *testing.T, o fitOptions)
	}{
		{
			name: "Defaults",
			check: func(t *testing.T, o fitOptions) {
				assert.Equal(t, taskClassify, o.Task)
				assert.Equal(t, opt.LossCrossEntropy, o.Loss)
				assert.Equal(t, opt.OptimizerAdamW, o.Optimizer)
				assert.Equal(t, []int{32}, o.Hidden)
				assert.Equal(t, int64(64), o.Batch)
				assert.Equal(t, int64(32), o.UBatch)
			},
		},
		{
			name: "Regression waehlt mse",
			args: []string{"--task", "regress", "--optimizer", "sgd", "--hidden", "16,8"},
			check: func(t *testing.T, o fitOptions) {
				assert.Equal(t, opt.LossMeanSquaredError, o.Loss)
				assert.Equal(t, opt.OptimizerSGD, o.Optimizer)
				assert.Equal(t, []int{16, 8}, o.Hidden)
			},
		},
		{
			name: "Seed und Threads aus der Umgebung",
			env:  map[string]string{"TRAIN_SEED": "17", "TRAIN_NUM_THREADS": "3"},
			check: func(t *testing.T, o fitOptions) {
				assert.Equal(t, uint64(17), o.Seed)
				assert.Equal(t, 3, o.Threads)
			},
		},
		{
			name: "Flags schlagen die Umgebung",
			args: []string{"--seed", "5", "--threads", "1"},
			env:  map[string]string{"TRAIN_SEED": "17", "TRAIN_NUM_THREADS": "3"},
			check: func(t *testing.T, o fitOptions) {
				assert.Equal(t, uint64(5), o.Seed)
				assert.Equal(t, 1, o.Threads)
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TRAIN_SEED", "")
			t.Setenv("TRAIN_NUM_THREADS", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			c := newFitCmd()
			require.NoError(t, c.ParseFlags(tt.args))
			o, err := fitOptionsFromFlags(c)
			require.NoError(t, err)
			tt.check(t, o)
		})
	}
}

func TestFitOptionsFromFlagsErrors(t *testing.T) {
	cases := [][]string{
		{"--optimizer", "lion"},
		{"--loss", "hinge"},
		{"--loss", "sum"},
		{"--task", "regress", "--loss", "cross_entropy"},
	}

	for _, args := range cases {
		c := newFitCmd()
		require.NoError(t, c.ParseFlags(args))
		_, err := fitOptionsFromFlags(c)
		assert.Error(t, err, "%v", args)
	}
}

func TestFitOptionsValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*fitOptions)
		want string
	}{
		{"unbekannte Aufgabe", func(o *fitOptions) { o.Task = "cluster" }, "unknown task"},
		{"keine Merkmale", func(o *fitOptions) { o.Features = 0 }, "features"},
		{"eine Klasse", func(o *fitOptions) { o.Classes = 1 }, "at least 2 classes"},
		{"keine Epochen", func(o *fitOptions) { o.Epochs = 0 }, "epochs"},
		{"ubatch teilt batch nicht", func(o *fitOptions) { o.UBatch = 5 }, "not a multiple of ubatch"},
		{"batch teilt ndata nicht", func(o *fitOptions) { o.Batch = 24; o.UBatch = 8 }, "not a multiple of batch"},
		{"Split zu gross", func(o *fitOptions) { o.ValSplit = 1 }, "val-split"},
		{"Lernrate null", func(o *fitOptions) { o.LR = 0 }, "learning rate"},
		{"negativer Weight Decay", func(o *fitOptions) { o.WD = -1 }, "weight decay"},
	}

	require.NoError(t, validOptions().validate())

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mod(&o)
			err := o.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewMLP(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	m, err := newMLP(2, []int{4}, 3, 8, rng)
	require.NoError(t, err)
	defer m.Free()

	assert.Len(t, m.layers, 2)
	assert.Equal(t, int64(2*4+4+4*3+3), m.NumParams())
	assert.Equal(t, []int64{3, 8}, m.outputs.Ne[:2])

	limit := math.Sqrt(6.0 / 6.0)
	for _, v := range m.layers[0].w.Floats() {
		assert.LessOrEqual(t, math.Abs(float64(v)), limit)
	}
	for _, l := range m.layers {
		assert.True(t, l.w.IsParam())
		assert.True(t, l.b.IsParam())
	}

	_, err = newMLP(2, []int{0}, 3, 8, rng)
	assert.Error(t, err)
}

func TestSyntheticDataset(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))

	ds, err := syntheticDataset(taskClassify, 3, 4, 32, rng)
	require.NoError(t, err)
	defer ds.Free()
	assert.Equal(t, int64(32), ds.NData())

	labels := ds.Labels().Floats()
	for i := range 32 {
		var sum float32
		for _, v := range labels[4*i : 4*i+4] {
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-6, "Datenpunkt %d ist nicht one-hot", i)
	}

	reg, err := syntheticDataset(taskRegress, 2, 0, 16, rng)
	require.NoError(t, err)
	defer reg.Free()
	x, y := reg.Data().Floats(), reg.Labels().Floats()
	for i := range 16 {
		want := (math.Sin(math.Pi*float64(x[2*i])) + math.Sin(math.Pi*float64(x[2*i+1]))) / 2
		assert.InDelta(t, want, y[i], 1e-5)
	}

	_, err = syntheticDataset("cluster", 2, 2, 8, rng)
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		got, want string
	}{
		{formatValue(0.5, 0.01), "0.50000±0.01000"},
		{formatValue(0.5, nan), "0.50000"},
		{formatValue(nan, nan), "-"},
		{formatPercent(0.755, 0.012), "75.50±1.20%"},
		{formatPercent(1, nan), "100.00%"},
		{formatPercent(nan, 0), "-"},
		{formatDuration(1234567 * time.Microsecond), "1.235s"},
	}

	for _, tt := range cases {
		assert.Equal(t, tt.want, tt.got)
	}
}

func TestRunFitRecordsHistory(t *testing.T) {
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	var out, progress bytes.Buffer
	require.NoError(t, runFit(&out, &progress, validOptions(), db))

	assert.Empty(t, progress.String(), "silent schreibt keinen Fortschritt")
	assert.Contains(t, out.String(), "EPOCH")
	assert.Contains(t, out.String(), "TRAIN LOSS")

	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, history.StatusFinished, r.Status)
	assert.Equal(t, "adamw", r.Optimizer)
	assert.Equal(t, "cross_entropy", r.Loss)
	assert.Contains(t, out.String(), "run "+r.ID)

	epochs, err := db.Epochs(r.ID)
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	for _, e := range epochs {
		assert.False(t, math.IsNaN(e.TrainLoss))
		assert.False(t, math.IsNaN(e.ValLoss))
		assert.GreaterOrEqual(t, e.ValAcc, 0.0)
		assert.LessOrEqual(t, e.ValAcc, 1.0)
	}

	var list bytes.Buffer
	require.NoError(t, listRuns(&list, db))
	assert.Contains(t, list.String(), shortID(r.ID))
	assert.Contains(t, list.String(), "finished")

	var show bytes.Buffer
	require.NoError(t, showRun(&show, db, shortID(r.ID)))
	assert.True(t, strings.HasPrefix(show.String(), "run        "+r.ID+"\n"))
	assert.Contains(t, show.String(), "batch      16/8\n")
}

func TestRunFitRegressionWithoutHistory(t *testing.T) {
	o := validOptions()
	o.Task = taskRegress
	o.Loss = opt.LossMeanSquaredError
	o.Optimizer = opt.OptimizerSGD
	o.ValSplit = 0

	var out bytes.Buffer
	require.NoError(t, runFit(&out, &bytes.Buffer{}, o, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "Kopfzeile und zwei Epochen")
	assert.NotContains(t, out.String(), "run ")

	fields := strings.Fields(lines[1])
	if diff := cmp.Diff([]string{"1", "-", "-", "-"}, []string{fields[0], fields[2], fields[3], fields[4]}); diff != "" {
		t.Errorf("Regression ohne Validierung hat keine Accuracy und keinen Val-Loss (-want +got):\n%s", diff)
	}
}
