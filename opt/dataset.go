// dataset.go - Datensatz mit Shard-Permutation
// Enthaelt: Dataset, NewDataset, Shuffle, GetBatch, GetBatchHost
package opt

import (
	"fmt"
	"math/rand/v2"

	"github.com/ollama/train/ml"
)

// Dataset haelt Daten und optionale Labels als zwei Host-Tensoren der Form
// [neDatapoint, ndata] bzw. [neLabel, ndata]. Datenpunkte werden in Shards
// von ndataShard Punkten gemischt und zu Batches zusammengesetzt.
type Dataset struct {
	ctx *ml.Context
	buf ml.Buffer

	data   *ml.Tensor
	labels *ml.Tensor

	ndata      int64
	ndataShard int64
	nbsData    int
	nbsLabels  int

	permutation []int64
}

// NewDataset legt einen Datensatz mit ndata Datenpunkten an. Mit neLabel 0
// hat der Datensatz keine Labels.
func NewDataset(typeData, typeLabel ml.DType, neDatapoint, neLabel, ndata, ndataShard int64) *Dataset {
	if neDatapoint <= 0 || neLabel < 0 || ndata <= 0 || ndataShard <= 0 {
		panic(fmt.Sprintf("opt: invalid dataset shape ne_datapoint=%d ne_label=%d ndata=%d ndata_shard=%d",
			neDatapoint, neLabel, ndata, ndataShard))
	}
	if ndata%ndataShard != 0 {
		panic(fmt.Sprintf("opt: ndata %d is not a multiple of the shard size %d", ndata, ndataShard))
	}

	ds := &Dataset{
		ctx:        ml.NewContext(2),
		ndata:      ndata,
		ndataShard: ndataShard,
	}

	ds.data = ds.ctx.Empty(typeData, neDatapoint, ndata).SetName("data")
	ds.nbsData = ds.data.NBytes() * int(ndataShard) / int(ndata)

	if neLabel > 0 {
		ds.labels = ds.ctx.Empty(typeLabel, neLabel, ndata).SetName("labels")
		ds.nbsLabels = ds.labels.NBytes() * int(ndataShard) / int(ndata)
	}

	buf, err := ml.AllocContextTensors(ds.ctx, ml.HostBufferType())
	if err != nil {
		panic(fmt.Sprintf("opt: allocating dataset: %v", err))
	}
	ds.buf = buf

	nshards := ndata / ndataShard
	ds.permutation = make([]int64, nshards)
	for i := range ds.permutation {
		ds.permutation[i] = int64(i)
	}

	return ds
}

// NData gibt die Anzahl der Datenpunkte zurueck
func (ds *Dataset) NData() int64 {
	return ds.ndata
}

// Data gibt den Daten-Tensor der Form [neDatapoint, ndata] zurueck
func (ds *Dataset) Data() *ml.Tensor {
	return ds.data
}

// Labels gibt den Label-Tensor zurueck, nil ohne Labels
func (ds *Dataset) Labels() *ml.Tensor {
	return ds.labels
}

// Permutation gibt eine Kopie der aktuellen Shard-Reihenfolge zurueck
func (ds *Dataset) Permutation() []int64 {
	return append([]int64(nil), ds.permutation...)
}

// Shuffle mischt die Shards der ersten idata Datenpunkte mit rng. Ein
// negatives idata mischt alle Shards.
func (ds *Dataset) Shuffle(rng *rand.Rand, idata int64) {
	if idata > ds.ndata {
		panic(fmt.Sprintf("opt: shuffle of %d datapoints exceeds dataset size %d", idata, ds.ndata))
	}

	if idata < 0 {
		rng.Shuffle(len(ds.permutation), func(i, j int) {
			ds.permutation[i], ds.permutation[j] = ds.permutation[j], ds.permutation[i]
		})
		return
	}

	if idata%ds.ndataShard != 0 {
		panic(fmt.Sprintf("opt: shuffle of %d datapoints is not a multiple of the shard size %d", idata, ds.ndataShard))
	}

	n := int(idata / ds.ndataShard)
	rng.Shuffle(n, func(i, j int) {
		ds.permutation[i], ds.permutation[j] = ds.permutation[j], ds.permutation[i]
	})
}

// shardsPerBatch prueft die Batch-Groesse und gibt die Shards je Batch zurueck
func (ds *Dataset) shardsPerBatch(nbData, nbLabels int, ibatch int64) int64 {
	if nbData%ds.nbsData != 0 {
		panic(fmt.Sprintf("opt: batch of %d bytes is not a multiple of the shard size %d", nbData, ds.nbsData))
	}

	spb := int64(nbData / ds.nbsData)
	if ds.labels != nil && nbLabels != int(spb)*ds.nbsLabels {
		panic(fmt.Sprintf("opt: labels batch of %d bytes, want %d", nbLabels, int(spb)*ds.nbsLabels))
	}
	if ibatch < 0 || (ibatch+1)*spb > int64(len(ds.permutation)) {
		panic(fmt.Sprintf("opt: batch %d out of range", ibatch))
	}

	return spb
}

// GetBatch kopiert Batch ibatch gemaess der Permutation in die Tensoren
// dataBatch und labelsBatch. labelsBatch muss genau dann gesetzt sein, wenn
// der Datensatz Labels hat.
func (ds *Dataset) GetBatch(dataBatch, labelsBatch *ml.Tensor, ibatch int64) {
	if !dataBatch.IsContiguous() {
		panic(fmt.Sprintf("opt: data batch %q is not contiguous", dataBatch.Name))
	}
	if (labelsBatch == nil) != (ds.labels == nil) {
		panic("opt: labels batch must be given exactly when the dataset has labels")
	}
	if dataBatch.Type != ds.data.Type {
		panic(fmt.Sprintf("opt: data batch type %s, dataset type %s", dataBatch.Type, ds.data.Type))
	}

	nbLabels := 0
	if labelsBatch != nil {
		if !labelsBatch.IsContiguous() {
			panic(fmt.Sprintf("opt: labels batch %q is not contiguous", labelsBatch.Name))
		}
		if labelsBatch.Type != ds.labels.Type {
			panic(fmt.Sprintf("opt: labels batch type %s, dataset type %s", labelsBatch.Type, ds.labels.Type))
		}
		nbLabels = labelsBatch.NBytes()
	}

	spb := ds.shardsPerBatch(dataBatch.NBytes(), nbLabels, ibatch)

	data := ds.data.Bytes()
	for i := range spb {
		ishard := ds.permutation[ibatch*spb+i]
		src := data[int(ishard)*ds.nbsData : int(ishard+1)*ds.nbsData]
		ml.TensorSet(dataBatch, src, int(i)*ds.nbsData)
	}

	if labelsBatch == nil {
		return
	}

	labels := ds.labels.Bytes()
	for i := range spb {
		ishard := ds.permutation[ibatch*spb+i]
		src := labels[int(ishard)*ds.nbsLabels : int(ishard+1)*ds.nbsLabels]
		ml.TensorSet(labelsBatch, src, int(i)*ds.nbsLabels)
	}
}

// GetBatchHost wie GetBatch, schreibt aber in Byte-Slices
func (ds *Dataset) GetBatchHost(dataBatch, labelsBatch []byte, ibatch int64) {
	if (labelsBatch == nil) != (ds.labels == nil) {
		panic("opt: labels batch must be given exactly when the dataset has labels")
	}

	spb := ds.shardsPerBatch(len(dataBatch), len(labelsBatch), ibatch)

	data := ds.data.Bytes()
	for i := range spb {
		ishard := ds.permutation[ibatch*spb+i]
		copy(dataBatch[int(i)*ds.nbsData:], data[int(ishard)*ds.nbsData:int(ishard+1)*ds.nbsData])
	}

	if labelsBatch == nil {
		return
	}

	labels := ds.labels.Bytes()
	for i := range spb {
		ishard := ds.permutation[ibatch*spb+i]
		copy(labelsBatch[int(i)*ds.nbsLabels:], labels[int(ishard)*ds.nbsLabels:int(ishard+1)*ds.nbsLabels])
	}
}

// Free gibt den Speicher des Datensatzes frei
func (ds *Dataset) Free() {
	if ds.buf != nil {
		ds.buf.Free()
		ds.buf = nil
	}
	ds.ctx.Free()
}
