// backend.go - CPU-Backend auf Hauptspeicher-Buffern
// Enthaelt: Options, New, Backend und die Registrierung als "cpu"
package cpu

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/ollama/train/ml"
)

// Options steuert Threads und Speicherlimit des CPU-Backends
type Options struct {
	// NumThreads begrenzt die parallelen Zeilenbloecke, 0 nutzt alle CPUs
	NumThreads int

	// MaxBufferSize begrenzt einzelne Buffer in Bytes, 0 bedeutet unbegrenzt
	MaxBufferSize int
}

// Backend berechnet Graphknoten auf der CPU.
type Backend struct {
	threads int
	bt      ml.BufferType
}

func init() {
	ml.RegisterBackend("cpu", func(params ml.BackendParams) (ml.Backend, error) {
		return New(Options{NumThreads: params.NumThreads, MaxBufferSize: params.MaxBufferSize}), nil
	})
}

// New erstellt ein CPU-Backend
func New(opts Options) *Backend {
	threads := opts.NumThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if opts.MaxBufferSize < 0 {
		panic(fmt.Sprintf("cpu: negative buffer limit %d", opts.MaxBufferSize))
	}

	slog.Debug("cpu backend", "threads", threads, "max_buffer_size", opts.MaxBufferSize)

	return &Backend{
		threads: threads,
		bt:      ml.NewHostBufferType("CPU", opts.MaxBufferSize),
	}
}

func (b *Backend) Name() string { return "CPU" }

// Threads gibt die Anzahl der parallelen Arbeitsbloecke zurueck
func (b *Backend) Threads() int { return b.threads }

func (b *Backend) BufferType() ml.BufferType { return b.bt }

func (b *Backend) Close() {}

// Supports meldet, ob fuer Operation und Datentypen des Knotens ein Kernel existiert
func (b *Backend) Supports(t *ml.Tensor) bool {
	src0 := t.Src[0]
	switch t.Op {
	case ml.OpNone, ml.OpReshape, ml.OpTranspose:
		return true
	case ml.OpCont:
		return src0.Type == t.Type
	case ml.OpCast:
		return src0.Type.IsFloat() && t.Type.IsFloat()
	case ml.OpArgmax:
		return src0.Type == ml.DTypeF32 && t.Type == ml.DTypeI32
	case ml.OpCountEqual:
		return src0.Type == ml.DTypeI32 && t.Src[1].Type == ml.DTypeI32 && t.Type == ml.DTypeI64
	case ml.OpMulmat, ml.OpOutProd:
		return allF32(t, t.Src[0], t.Src[1]) && isMatrixOperand(t.Src[0]) && isMatrixOperand(t.Src[1])
	case ml.OpAdd, ml.OpSub, ml.OpMul, ml.OpDiv, ml.OpSqr, ml.OpSqrt, ml.OpLog,
		ml.OpSum, ml.OpSumRows, ml.OpMean, ml.OpRepeat, ml.OpRepeatBack, ml.OpScale,
		ml.OpUnary, ml.OpCrossEntropyLoss, ml.OpCrossEntropyLossBack,
		ml.OpOptStepAdamW, ml.OpOptStepSGD:
		return allF32(t, t.Src[:]...)
	default:
		return false
	}
}

func allF32(t *ml.Tensor, srcs ...*ml.Tensor) bool {
	if t.Type != ml.DTypeF32 {
		return false
	}
	for _, src := range srcs {
		if src != nil && src.Type != ml.DTypeF32 {
			return false
		}
	}
	return true
}

// Compute berechnet die Knoten nacheinander
func (b *Backend) Compute(nodes []*ml.Tensor) error {
	for _, node := range nodes {
		if err := b.compute(node); err != nil {
			return fmt.Errorf("%s %q: %w", node.Op, node.Name, err)
		}
	}
	return nil
}
