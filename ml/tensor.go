// tensor.go - Tensor-Struktur und Hilfsfunktionen
// Dieses Modul definiert den Tensor als Knoten im Berechnungsgraphen
// sowie Form-, Stride- und Datenzugriffe.
package ml

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"slices"
)

// Tensor ist ein typisiertes, gestridetes Array mit bis zu vier Dimensionen.
// Tensoren ohne Quellen sind Blaetter (Parameter, Eingaben, Konstanten).
type Tensor struct {
	Type DType

	// Ne enthaelt die Elementanzahl je Dimension, Nb die Strides in Bytes
	Ne [MaxDims]int64
	Nb [MaxDims]int

	Op       Op
	OpParams [MaxOpParams]int32
	Flags    Flags

	Src [MaxSrc]*Tensor

	// ViewSrc zeigt auf den Tensor, dessen Speicher dieser Tensor teilt
	ViewSrc  *Tensor
	ViewOffs int

	// Data ist nil, bis ein Buffer zugewiesen wurde
	Data   []byte
	Buffer Buffer

	Name string
}

// newTensorDesc erstellt einen zusammenhaengenden Tensor-Deskriptor ohne Daten
func newTensorDesc(dtype DType, shape []int64) *Tensor {
	if len(shape) == 0 || len(shape) > MaxDims {
		panic(fmt.Sprintf("ml: invalid number of dimensions %d", len(shape)))
	}

	t := &Tensor{Type: dtype, Ne: [MaxDims]int64{1, 1, 1, 1}}
	for i, n := range shape {
		if n < 0 {
			panic(fmt.Sprintf("ml: negative dimension %d", n))
		}
		t.Ne[i] = n
	}

	t.Nb[0] = dtype.Size()
	for i := 1; i < MaxDims; i++ {
		t.Nb[i] = t.Nb[i-1] * int(t.Ne[i-1])
	}

	return t
}

// Dim gibt die Groesse der Dimension n zurueck
func (t *Tensor) Dim(n int) int64 {
	return t.Ne[n]
}

// Stride gibt den Byte-Stride der Dimension n zurueck
func (t *Tensor) Stride(n int) int {
	return t.Nb[n]
}

// Shape gibt die Form ohne abschliessende Einsen zurueck
func (t *Tensor) Shape() []int64 {
	n := MaxDims
	for n > 1 && t.Ne[n-1] == 1 {
		n--
	}

	return slices.Clone(t.Ne[:n])
}

func (t *Tensor) DType() DType {
	return t.Type
}

// NElements gibt die Anzahl der Elemente zurueck
func (t *Tensor) NElements() int64 {
	return t.Ne[0] * t.Ne[1] * t.Ne[2] * t.Ne[3]
}

// NRows gibt die Anzahl der Zeilen (alle Dimensionen ausser der ersten) zurueck
func (t *Tensor) NRows() int64 {
	return t.Ne[1] * t.Ne[2] * t.Ne[3]
}

// NBytes gibt die Anzahl der belegten Bytes zurueck
func (t *Tensor) NBytes() int {
	for i := range MaxDims {
		if t.Ne[i] == 0 {
			return 0
		}
	}

	n := t.Type.Size()
	for i := range MaxDims {
		n += int(t.Ne[i]-1) * t.Nb[i]
	}

	return n
}

// IsContiguous meldet, ob die Elemente lueckenlos in Dimensionsreihenfolge liegen
func (t *Tensor) IsContiguous() bool {
	next := t.Type.Size()
	for i := range MaxDims {
		if t.Ne[i] != 1 && t.Nb[i] != next {
			return false
		}
		next *= int(t.Ne[i])
	}

	return true
}

// IsTransposed meldet, ob der Tensor eine transponierte Sicht auf eine
// zusammenhaengende Matrix ist
func (t *Tensor) IsTransposed() bool {
	es := t.Type.Size()
	return t.Ne[2] == 1 && t.Ne[3] == 1 &&
		t.Nb[1] == es && t.Nb[0] == es*int(t.Ne[1])
}

// IsScalar meldet, ob der Tensor genau ein Element hat
func (t *Tensor) IsScalar() bool {
	return t.Ne == [MaxDims]int64{1, 1, 1, 1}
}

// IsMatrix meldet, ob der Tensor hoechstens zweidimensional ist
func (t *Tensor) IsMatrix() bool {
	return t.Ne[2] == 1 && t.Ne[3] == 1
}

// SameShape meldet, ob beide Tensoren dieselbe Form haben
func SameShape(a, b *Tensor) bool {
	return a.Ne == b.Ne
}

// CanRepeat meldet, ob a durch Wiederholung auf die Form von b gebracht werden kann
func CanRepeat(a, b *Tensor) bool {
	for i := range MaxDims {
		if a.Ne[i] == 0 || b.Ne[i]%a.Ne[i] != 0 {
			return false
		}
	}

	return true
}

func (t *Tensor) SetInput()  { t.Flags |= FlagInput }
func (t *Tensor) SetOutput() { t.Flags |= FlagOutput }
func (t *Tensor) SetLoss()   { t.Flags |= FlagLoss }

// SetParam markiert den Tensor als trainierbaren Parameter
func (t *Tensor) SetParam() {
	if t.Op != OpNone {
		panic(fmt.Sprintf("ml: %q is not a leaf and cannot be a parameter", t.Name))
	}
	t.Flags |= FlagParam
}

func (t *Tensor) IsInput() bool  { return t.Flags&FlagInput != 0 }
func (t *Tensor) IsOutput() bool { return t.Flags&FlagOutput != 0 }
func (t *Tensor) IsParam() bool  { return t.Flags&FlagParam != 0 }
func (t *Tensor) IsLoss() bool   { return t.Flags&FlagLoss != 0 }

// SetName setzt den Namen und gibt den Tensor fuer Verkettungen zurueck
func (t *Tensor) SetName(format string, args ...any) *Tensor {
	if len(args) > 0 {
		t.Name = fmt.Sprintf(format, args...)
	} else {
		t.Name = format
	}
	return t
}

// Bytes gibt die Rohdaten zurueck, nil wenn der Tensor nicht alloziert ist
func (t *Tensor) Bytes() []byte {
	return t.Data
}

// Floats liest die Elemente eines zusammenhaengenden Gleitkomma-Tensors als float32
func (t *Tensor) Floats() []float32 {
	t.requireData()
	if !t.Type.IsFloat() {
		panic(fmt.Sprintf("ml: Floats on %s tensor %q", t.Type, t.Name))
	}

	return DecodeFloats(t.Type, t.Data[:t.NBytes()])
}

// SetFloats schreibt float32-Werte in den Tensor und konvertiert bei Bedarf
func (t *Tensor) SetFloats(s []float32) {
	t.requireData()
	if int64(len(s)) != t.NElements() {
		panic(fmt.Sprintf("ml: SetFloats with %d values into %d elements", len(s), t.NElements()))
	}

	copy(t.Data, EncodeFloats(t.Type, s))
}

// Int32s liest die Elemente eines I32-Tensors
func (t *Tensor) Int32s() []int32 {
	t.requireData()
	if t.Type != DTypeI32 {
		panic(fmt.Sprintf("ml: Int32s on %s tensor %q", t.Type, t.Name))
	}

	s := make([]int32, t.NElements())
	for i := range s {
		s[i] = int32(binary.LittleEndian.Uint32(t.Data[4*i:]))
	}
	return s
}

// SetInt32s schreibt Werte in einen I32-Tensor
func (t *Tensor) SetInt32s(s []int32) {
	t.requireData()
	if t.Type != DTypeI32 || int64(len(s)) != t.NElements() {
		panic(fmt.Sprintf("ml: SetInt32s with %d values into %s tensor %q", len(s), t.Type, t.Name))
	}

	for i, v := range s {
		binary.LittleEndian.PutUint32(t.Data[4*i:], uint32(v))
	}
}

// Int64s liest die Elemente eines I64-Tensors
func (t *Tensor) Int64s() []int64 {
	t.requireData()
	if t.Type != DTypeI64 {
		panic(fmt.Sprintf("ml: Int64s on %s tensor %q", t.Type, t.Name))
	}

	s := make([]int64, t.NElements())
	for i := range s {
		s[i] = int64(binary.LittleEndian.Uint64(t.Data[8*i:]))
	}
	return s
}

func (t *Tensor) requireData() {
	if t.Data == nil {
		panic(fmt.Sprintf("ml: tensor %q has no data", t.Name))
	}
	if !t.IsContiguous() {
		panic(fmt.Sprintf("ml: tensor %q is not contiguous", t.Name))
	}
}

// OpParamF32 liest einen float32-Operationsparameter
func (t *Tensor) OpParamF32(i int) float32 {
	return math.Float32frombits(uint32(t.OpParams[i]))
}

func (t *Tensor) setOpParamF32(i int, v float32) {
	t.OpParams[i] = int32(math.Float32bits(v))
}

func (t *Tensor) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", t.Name),
		slog.String("type", t.Type.String()),
		slog.Any("shape", t.Shape()),
	}
	if t.Op != OpNone {
		attrs = append(attrs, slog.String("op", t.Op.String()))
	}
	return slog.GroupValue(attrs...)
}

// InitView bindet die Daten einer Sicht an den Speicher ihrer Quelle
func (t *Tensor) InitView() {
	if t.ViewSrc == nil || t.ViewSrc.Data == nil {
		panic(fmt.Sprintf("ml: view %q has no allocated source", t.Name))
	}

	t.Buffer = t.ViewSrc.Buffer
	t.Data = t.ViewSrc.Data[t.ViewOffs : t.ViewOffs+t.NBytes()]
}
