package opt

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/train/ml"
)

// indexed legt einen Datensatz an, dessen Datenpunkt i die Werte
// [10i, 10i+1, 10i+2] und das Label [i, -i] hat
func indexed(t *testing.T, ndata, shard int64) *Dataset {
	t.Helper()

	ds := NewDataset(ml.DTypeF32, ml.DTypeF32, 3, 2, ndata, shard)
	data := make([]float32, 3*ndata)
	labels := make([]float32, 2*ndata)
	for i := range ndata {
		for j := range int64(3) {
			data[3*i+j] = float32(10*i + j)
		}
		labels[2*i], labels[2*i+1] = float32(i), float32(-i)
	}
	ds.Data().SetFloats(data)
	ds.Labels().SetFloats(labels)
	t.Cleanup(ds.Free)
	return ds
}

func TestDatasetPermutationIsBijection(t *testing.T) {
	for _, shard := range []int64{1, 2, 4, 8} {
		ds := indexed(t, 8, shard)
		n := 8 / shard

		want := make([]int64, n)
		for i := range want {
			want[i] = int64(i)
		}
		assert.Equal(t, want, ds.Permutation(), "Startpermutation muss die Identitaet sein (shard=%d)", shard)

		rng := rand.New(rand.NewPCG(uint64(shard), 3))
		for range 5 {
			ds.Shuffle(rng, -1)
			got := ds.Permutation()
			slices.Sort(got)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("shard=%d: keine Permutation (-want +got):\n%s", shard, diff)
			}
		}
	}
}

func TestDatasetShuffleKeepsTail(t *testing.T) {
	ds := indexed(t, 8, 1)
	rng := rand.New(rand.NewPCG(1, 1))

	for range 10 {
		ds.Shuffle(rng, 4)
		perm := ds.Permutation()
		assert.Equal(t, []int64{4, 5, 6, 7}, perm[4:], "Shards hinter idata duerfen sich nicht bewegen")

		head := slices.Clone(perm[:4])
		slices.Sort(head)
		assert.Equal(t, []int64{0, 1, 2, 3}, head)
	}
}

func TestDatasetShufflePanics(t *testing.T) {
	ds := indexed(t, 8, 2)
	rng := rand.New(rand.NewPCG(1, 1))

	assert.Panics(t, func() { ds.Shuffle(rng, 9) }, "idata groesser als ndata")
	assert.Panics(t, func() { ds.Shuffle(rng, 3) }, "idata nicht auf Shards ausgerichtet")
}

func TestNewDatasetPanics(t *testing.T) {
	cases := []struct {
		name  string
		ndata int64
		shard int64
	}{
		{"shard teilt ndata nicht", 7, 2},
		{"leerer Datensatz", 0, 1},
		{"shard null", 4, 0},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { NewDataset(ml.DTypeF32, ml.DTypeF32, 3, 1, tt.ndata, tt.shard) })
		})
	}
}

func TestDatasetGetBatch(t *testing.T) {
	ds := indexed(t, 8, 1)

	ctx := ml.NewContext(2)
	data := ctx.Empty(ml.DTypeF32, 3, 2)
	labels := ctx.Empty(ml.DTypeF32, 2, 2)
	_, err := ml.AllocContextTensors(ctx, ml.HostBufferType())
	require.NoError(t, err)

	ds.GetBatch(data, labels, 1)
	assert.Equal(t, []float32{20, 21, 22, 30, 31, 32}, data.Floats())
	assert.Equal(t, []float32{2, -2, 3, -3}, labels.Floats())

	ds.Shuffle(rand.New(rand.NewPCG(5, 5)), -1)
	perm := ds.Permutation()

	ds.GetBatch(data, labels, 2)
	first := data.Floats()
	ds.GetBatch(data, labels, 2)
	assert.Equal(t, first, data.Floats(), "GetBatch darf die Permutation nicht veraendern")
	assert.Equal(t, perm, ds.Permutation())

	want := make([]float32, 0, 6)
	for _, i := range perm[4:6] {
		want = append(want, float32(10*i), float32(10*i+1), float32(10*i+2))
	}
	assert.Equal(t, want, first)
	assert.Equal(t, []float32{float32(perm[4]), float32(-perm[4]), float32(perm[5]), float32(-perm[5])}, labels.Floats())
}

func TestDatasetGetBatchShards(t *testing.T) {
	ds := indexed(t, 8, 2)
	ds.Shuffle(rand.New(rand.NewPCG(9, 9)), -1)
	perm := ds.Permutation()

	ctx := ml.NewContext(2)
	data := ctx.Empty(ml.DTypeF32, 3, 4)
	labels := ctx.Empty(ml.DTypeF32, 2, 4)
	_, err := ml.AllocContextTensors(ctx, ml.HostBufferType())
	require.NoError(t, err)

	ds.GetBatch(data, labels, 1)

	var want []float32
	for _, shard := range perm[2:4] {
		for i := 2 * shard; i < 2*shard+2; i++ {
			want = append(want, float32(10*i), float32(10*i+1), float32(10*i+2))
		}
	}
	assert.Equal(t, want, data.Floats(), "Shards muessen als Ganzes kopiert werden")
}

func TestDatasetGetBatchHost(t *testing.T) {
	ds := indexed(t, 4, 1)

	data := make([]byte, 2*3*4)
	labels := make([]byte, 2*2*4)
	ds.GetBatchHost(data, labels, 1)

	assert.Equal(t, []float32{20, 21, 22, 30, 31, 32}, ml.DecodeFloats(ml.DTypeF32, data))
	assert.Equal(t, []float32{2, -2, 3, -3}, ml.DecodeFloats(ml.DTypeF32, labels))
}

func TestDatasetGetBatchPanics(t *testing.T) {
	ds := indexed(t, 4, 1)

	ctx := ml.NewContext(4)
	data := ctx.Empty(ml.DTypeF32, 3, 2)
	labels := ctx.Empty(ml.DTypeF32, 2, 2)
	wrongType := ctx.Empty(ml.DTypeF16, 3, 2)
	wrongLabels := ctx.Empty(ml.DTypeF32, 2, 1)
	_, err := ml.AllocContextTensors(ctx, ml.HostBufferType())
	require.NoError(t, err)

	cases := []struct {
		name string
		fn   func()
	}{
		{"ohne Labels", func() { ds.GetBatch(data, nil, 0) }},
		{"falscher Typ", func() { ds.GetBatch(wrongType, labels, 0) }},
		{"falsche Label-Groesse", func() { ds.GetBatch(data, wrongLabels, 0) }},
		{"Batch ausserhalb", func() { ds.GetBatch(data, labels, 2) }},
		{"Host ohne Labels", func() { ds.GetBatchHost(make([]byte, 24), nil, 0) }},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.fn)
		})
	}
}
