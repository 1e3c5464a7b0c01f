// backend.go - Backend-, Buffer- und Scheduler-Interfaces sowie Registrierung
// Dieses Modul definiert die Schnittstellen zur Ausfuehrungsschicht und die
// Backend-Factory-Funktionen.
package ml

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrOutOfMemory wird zurueckgegeben, wenn ein Buffer nicht angelegt werden kann
	ErrOutOfMemory = errors.New("out of memory")

	// ErrUnsupportedOp wird zurueckgegeben, wenn ein Backend eine Operation nicht ausfuehren kann
	ErrUnsupportedOp = errors.New("unsupported operation")
)

// Backend fuehrt Graphknoten auf einem Geraet aus.
type Backend interface {
	Name() string

	// BufferType gibt den Buffer-Typ fuer Tensoren dieses Backends zurueck
	BufferType() BufferType

	// Supports meldet, ob das Backend den Knoten berechnen kann
	Supports(t *Tensor) bool

	// Compute berechnet die Knoten in der gegebenen Reihenfolge
	Compute(nodes []*Tensor) error

	Close()
}

// BufferType legt Buffer einer Speicherart an.
type BufferType interface {
	Name() string
	Alignment() int

	// MaxSize ist die maximale Groesse eines Buffers, 0 bedeutet unbegrenzt
	MaxSize() int

	Alloc(size int) (Buffer, error)
}

// Buffer ist ein zusammenhaengender Speicherbereich eines BufferType.
type Buffer interface {
	Type() BufferType
	Size() int
	Bytes() []byte
	Free()
}

// Scheduler verteilt Graphen auf Backends, alloziert deren Zwischenergebnisse
// und fuehrt sie aus.
type Scheduler interface {
	// Reset verwirft die Allokation des zuletzt allozierten Graphen
	Reset()

	// AllocGraph weist allen Knoten ohne Daten Speicher zu
	AllocGraph(g *Graph) error

	// GraphCompute fuehrt einen allozierten Graphen aus
	GraphCompute(g *Graph) error

	Backend(i int) Backend
	NumBackends() int
}

// BackendParams steuert, wie ein Backend angelegt wird
type BackendParams struct {
	// NumThreads ist die Anzahl der Threads fuer CPU-Berechnungen, 0 waehlt automatisch
	NumThreads int

	// MaxBufferSize begrenzt die Groesse einzelner Buffer in Bytes, 0 bedeutet unbegrenzt
	MaxBufferSize int
}

var backends = make(map[string]func(BackendParams) (Backend, error))

// RegisterBackend registriert eine Backend-Factory-Funktion.
func RegisterBackend(name string, f func(BackendParams) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// Backends gibt die Namen der registrierten Backends sortiert zurueck
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewBackend erstellt ein Backend mit dem gegebenen Namen.
func NewBackend(name string, params BackendParams) (Backend, error) {
	if backend, ok := backends[name]; ok {
		return backend(params)
	}

	return nil, fmt.Errorf("unsupported backend %q", name)
}

// ============================================================================
// Tensor-Allokation und Datentransfer
// ============================================================================

// AlignSize rundet n auf ein Vielfaches von alignment auf
func AlignSize(n, alignment int) int {
	return (n + alignment - 1) / alignment * alignment
}

// AllocContextTensors legt einen Buffer fuer alle Tensoren von ctx ohne Daten
// an und bindet Sichten an ihre Quellen. Gibt nil zurueck, wenn kein Tensor
// Speicher benoetigt.
func AllocContextTensors(ctx *Context, bt BufferType) (Buffer, error) {
	align := bt.Alignment()

	var size int
	for _, t := range ctx.Tensors() {
		if t.Data == nil && t.ViewSrc == nil {
			size += AlignSize(t.NBytes(), align)
		}
	}

	if size == 0 {
		return nil, nil
	}

	buf, err := bt.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("allocating %d bytes for %d tensors: %w", size, ctx.NumTensors(), err)
	}

	data := buf.Bytes()
	var offset int
	for _, t := range ctx.Tensors() {
		if t.Data == nil && t.ViewSrc == nil {
			n := t.NBytes()
			t.Data = data[offset : offset+n : offset+n]
			t.Buffer = buf
			offset += AlignSize(n, align)
		}
	}

	for _, t := range ctx.Tensors() {
		if t.Data == nil && t.ViewSrc != nil {
			t.InitView()
		}
	}

	return buf, nil
}

// TensorSet schreibt data ab Byte-Offset offset in t
func TensorSet(t *Tensor, data []byte, offset int) {
	assertf(t.Data != nil, "tensor %q has no data", t.Name)
	assertf(offset >= 0 && offset+len(data) <= t.NBytes(), "write of %d bytes at %d out of bounds for %q", len(data), offset, t.Name)

	copy(t.Data[offset:], data)
}

// TensorGet liest len(data) Bytes ab Byte-Offset offset aus t
func TensorGet(t *Tensor, data []byte, offset int) {
	assertf(t.Data != nil, "tensor %q has no data", t.Name)
	assertf(offset >= 0 && offset+len(data) <= t.NBytes(), "read of %d bytes at %d out of bounds for %q", len(data), offset, t.Name)

	copy(data, t.Data[offset:])
}

// TensorMemset setzt alle Bytes von t auf v
func TensorMemset(t *Tensor, v byte) {
	assertf(t.Data != nil, "tensor %q has no data", t.Name)

	b := t.Data[:t.NBytes()]
	for i := range b {
		b[i] = v
	}
}
