// types.go - Datentypen und Konstanten fuer Tensoren und Graphen
// Dieses Modul definiert DType, Tensor-Flags und die Grenzwerte der Laufzeit.
package ml

import "fmt"

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeI32
	DTypeI64
)

// Size gibt die Groesse eines Elements in Bytes zurueck
func (t DType) Size() int {
	switch t {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeI64:
		return 8
	default:
		panic(fmt.Sprintf("ml: unknown dtype %d", int(t)))
	}
}

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	case DTypeI32:
		return "i32"
	case DTypeI64:
		return "i64"
	default:
		return "other"
	}
}

// IsFloat meldet, ob der Typ ein Gleitkommatyp ist
func (t DType) IsFloat() bool {
	return t == DTypeF32 || t == DTypeF16 || t == DTypeBF16
}

// Flags markieren die Rolle eines Tensors im Graphen
type Flags uint8

const (
	// FlagInput markiert Tensoren, die von aussen befuellt werden
	FlagInput Flags = 1 << iota
	// FlagOutput markiert Tensoren, deren Speicher nicht wiederverwendet werden darf
	FlagOutput
	// FlagParam markiert trainierbare Parameter
	FlagParam
	// FlagLoss markiert den Knoten, der minimiert wird
	FlagLoss
)

const (
	// MaxDims ist die maximale Anzahl an Dimensionen
	MaxDims = 4

	// MaxSrc ist die maximale Anzahl an Quell-Tensoren pro Operation
	MaxSrc = 5

	// MaxOpParams ist die Anzahl der Operationsparameter pro Tensor
	MaxOpParams = 8

	// DefaultGraphSize ist die Standard-Knotenanzahl eines Graphen
	DefaultGraphSize = 2048

	// TensorAlignment ist die Ausrichtung von Tensoren in Buffern
	TensorAlignment = 32
)
