package opt

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	train     bool
	ibatch    int64
	ibatchMax int64
}

func recorder(calls *[]call) EpochCallback {
	return func(train bool, _ *Context, _ *Dataset, _ *Result, ibatch, ibatchMax int64, _ time.Time) {
		*calls = append(*calls, call{train, ibatch, ibatchMax})
	}
}

func TestEpochSplit(t *testing.T) {
	cases := []struct {
		name      string
		split     int64
		want      []call
		wantTrain int64
		wantVal   int64
	}{
		{"halb", 4, []call{{true, 1, 1}, {false, 1, 1}}, 4, 4},
		{"alles Training", -1, []call{{true, 1, 2}, {true, 2, 2}}, 8, 0},
		{"nur Validierung", 0, []call{{false, 1, 2}, {false, 2, 2}}, 0, 8},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m := newLinear(t, 3, 2, 4)
			ds := classification(8, 5)
			c, err := New(m.params(LossCrossEntropy))
			require.NoError(t, err)
			defer c.Free()

			var calls []call
			train, val := NewResult(), NewResult()
			require.NoError(t, Epoch(c, ds, train, val, tt.split, recorder(&calls), recorder(&calls)))

			if diff := cmp.Diff(tt.want, calls, cmp.AllowUnexported(call{})); diff != "" {
				t.Errorf("falsche Callback-Folge (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantTrain, train.NData())
			assert.Equal(t, tt.wantVal, val.NData())
			assert.Equal(t, 1+tt.wantTrain/4, c.Iter())
		})
	}
}

func TestEpochPanics(t *testing.T) {
	m := newLinear(t, 3, 2, 4)
	c, err := New(m.params(LossCrossEntropy))
	require.NoError(t, err)
	defer c.Free()

	assert.Panics(t, func() { Epoch(c, classification(8, 1), nil, nil, 3, nil, nil) }, "Split nicht auf Batches ausgerichtet")
	assert.Panics(t, func() { Epoch(c, classification(6, 1), nil, nil, -1, nil, nil) }, "ndata kein Vielfaches der Batch")
	assert.Panics(t, func() { Epoch(c, regression(8, 1), nil, nil, -1, nil, nil) }, "Datenpunkt passt nicht zur Eingabe")

	dynamic, err := New(DefaultParams(m.sched, LossSum))
	require.NoError(t, err)
	assert.Panics(t, func() { Epoch(dynamic, classification(8, 1), nil, nil, -1, nil, nil) })
}

func TestProgressBarCells(t *testing.T) {
	cases := []struct {
		ibatch, ibatchMax int64
		want              string
	}{
		{0, 8, "        "},
		{4, 8, "███▉    "},
		{8, 8, "███████▉"},
		{1, 1, "███████▉"},
	}

	for _, tt := range cases {
		assert.Equal(t, tt.want, bar(tt.ibatch, tt.ibatchMax), "bar(%d, %d)", tt.ibatch, tt.ibatchMax)
	}
}

func TestProgressBarUpdate(t *testing.T) {
	m := newLinear(t, 3, 2, 4)
	c, err := New(m.params(LossCrossEntropy))
	require.NoError(t, err)
	defer c.Free()

	var buf bytes.Buffer
	pb := NewProgressBar(&buf)
	r := &Result{ndata: 4, loss: []float32{0.5}, ncorrect: 3, optPeriod: 1, lossPerDatapoint: true}

	pb.Update(true, c, nil, r, 1, 2, time.Now())
	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "train: ["), "Praefix fehlt: %q", line)
	assert.Contains(t, line, "data=0000004/0000008")
	assert.Contains(t, line, "loss=0.50000±NaN")
	assert.Contains(t, line, "acc=75.00±")
	assert.True(t, strings.HasSuffix(line, "\r"))

	buf.Reset()
	pb.Update(false, c, nil, r, 2, 2, time.Now())
	line = buf.String()
	assert.True(t, strings.HasPrefix(line, "val:   ["), "Praefix fehlt: %q", line)
	assert.True(t, strings.HasSuffix(line, " \r\n"), "letzte Batch beendet die Zeile")
}
