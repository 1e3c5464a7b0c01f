// compute.go - Verteilung der Knoten auf Kernel
// Enthaelt: compute, parallelRows sowie typisierte Zugriffe auf Tensordaten
package cpu

import (
	"fmt"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/train/ml"
)

// minParallelWork ist die Elementanzahl, ab der Zeilen parallel berechnet werden
const minParallelWork = 1 << 14

func (b *Backend) compute(t *ml.Tensor) error {
	if t.Data == nil {
		return fmt.Errorf("output is not allocated")
	}
	for _, src := range t.Src {
		if src != nil && src.Data == nil && src.NBytes() > 0 {
			return fmt.Errorf("source %q is not allocated", src.Name)
		}
	}
	if !b.Supports(t) {
		return fmt.Errorf("%s with %s: %w", t.Op, t.Type, ml.ErrUnsupportedOp)
	}

	switch t.Op {
	case ml.OpNone, ml.OpReshape, ml.OpTranspose:
	case ml.OpAdd:
		b.binary(t, func(x, y float32) float32 { return x + y })
	case ml.OpSub:
		b.binary(t, func(x, y float32) float32 { return x - y })
	case ml.OpMul:
		b.binary(t, func(x, y float32) float32 { return x * y })
	case ml.OpDiv:
		b.binary(t, func(x, y float32) float32 { return x / y })
	case ml.OpSqr, ml.OpSqrt, ml.OpLog, ml.OpScale, ml.OpUnary:
		fn, err := unaryFunc(t)
		if err != nil {
			return err
		}
		b.map1(t, fn)
	case ml.OpCont:
		b.cont(t)
	case ml.OpCast:
		b.cast(t)
	case ml.OpRepeat:
		b.repeat(t)
	case ml.OpRepeatBack:
		b.repeatBack(t)
	case ml.OpSum:
		sum(t)
	case ml.OpSumRows:
		b.sumRows(t, false)
	case ml.OpMean:
		b.sumRows(t, true)
	case ml.OpArgmax:
		b.argmax(t)
	case ml.OpCountEqual:
		countEqual(t)
	case ml.OpMulmat:
		b.mulmat(t)
	case ml.OpOutProd:
		b.outProd(t)
	case ml.OpCrossEntropyLoss:
		b.crossEntropyLoss(t)
	case ml.OpCrossEntropyLossBack:
		b.crossEntropyLossBack(t)
	case ml.OpOptStepAdamW:
		return b.optStepAdamW(t)
	case ml.OpOptStepSGD:
		return b.optStepSGD(t)
	default:
		return fmt.Errorf("%s: %w", t.Op, ml.ErrUnsupportedOp)
	}

	return nil
}

// parallelRows teilt nrows Zeilen mit je rowLen Elementen auf die Threads auf
func (b *Backend) parallelRows(nrows, rowLen int64, fn func(lo, hi int64)) {
	if nrows <= 0 {
		return
	}

	chunks := min(int64(b.threads), nrows)
	if chunks <= 1 || nrows*rowLen < minParallelWork {
		fn(0, nrows)
		return
	}

	step := (nrows + chunks - 1) / chunks

	var g errgroup.Group
	g.SetLimit(b.threads)
	for lo := int64(0); lo < nrows; lo += step {
		hi := min(lo+step, nrows)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// ============================================================================
// Typisierte Zugriffe
// ============================================================================

func f32s(t *ml.Tensor) []float32 {
	if len(t.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

func i32s(t *ml.Tensor) []int32 {
	if len(t.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

func i64s(t *ml.Tensor) []int64 {
	if len(t.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.Data[0])), len(t.Data)/8)
}

// rowIndex zerlegt den Zeilenindex r in (i1, i2, i3)
func rowIndex(t *ml.Tensor, r int64) (i1, i2, i3 int64) {
	i1 = r % t.Ne[1]
	r /= t.Ne[1]
	i2 = r % t.Ne[2]
	i3 = r / t.Ne[2]
	return
}

// offset gibt den Byte-Offset des Elements (i0, i1, i2, i3) zurueck
func offset(t *ml.Tensor, i0, i1, i2, i3 int64) int {
	return int(i0)*t.Nb[0] + int(i1)*t.Nb[1] + int(i2)*t.Nb[2] + int(i3)*t.Nb[3]
}
