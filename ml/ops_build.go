// ops_build.go - Konstruktoren fuer Graph-Operationen
// Jede Methode legt im uebergebenen Context einen neuen Knoten an, ohne ihn
// zu berechnen. Formfehler sind Programmierfehler und fuehren zu einem panic.
package ml

import "fmt"

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("ml: "+format, args...))
	}
}

func (t *Tensor) binary(ctx *Context, op Op, t2 *Tensor, inplace bool) *Tensor {
	assertf(CanRepeat(t2, t), "%s: cannot broadcast %v to %v", op, t2.Ne, t.Ne)

	var r *Tensor
	if inplace {
		r = ctx.ViewOf(t)
	} else {
		r = ctx.EmptyLike(t)
	}

	r.Op = op
	r.Src[0] = t
	r.Src[1] = t2
	return r
}

// Add addiert t2 elementweise, t2 wird bei Bedarf wiederholt
func (t *Tensor) Add(ctx *Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, OpAdd, t2, false)
}

// AddInplace addiert t2 in den Speicher von t und gibt eine Sicht darauf zurueck
func (t *Tensor) AddInplace(ctx *Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, OpAdd, t2, true)
}

func (t *Tensor) Sub(ctx *Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, OpSub, t2, false)
}

func (t *Tensor) Mul(ctx *Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, OpMul, t2, false)
}

func (t *Tensor) Div(ctx *Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, OpDiv, t2, false)
}

func (t *Tensor) elementwise(ctx *Context, op Op) *Tensor {
	r := ctx.EmptyLike(t)
	r.Op = op
	r.Src[0] = t
	return r
}

func (t *Tensor) Sqr(ctx *Context) *Tensor  { return t.elementwise(ctx, OpSqr) }
func (t *Tensor) Sqrt(ctx *Context) *Tensor { return t.elementwise(ctx, OpSqrt) }
func (t *Tensor) Log(ctx *Context) *Tensor  { return t.elementwise(ctx, OpLog) }

func (t *Tensor) unary(ctx *Context, u UnaryOp) *Tensor {
	r := t.elementwise(ctx, OpUnary)
	r.OpParams[0] = int32(u)
	return r
}

func (t *Tensor) Neg(ctx *Context) *Tensor  { return t.unary(ctx, UnaryNeg) }
func (t *Tensor) Abs(ctx *Context) *Tensor  { return t.unary(ctx, UnaryAbs) }
func (t *Tensor) Sgn(ctx *Context) *Tensor  { return t.unary(ctx, UnarySgn) }
func (t *Tensor) Step(ctx *Context) *Tensor { return t.unary(ctx, UnaryStep) }
func (t *Tensor) RELU(ctx *Context) *Tensor { return t.unary(ctx, UnaryRELU) }
func (t *Tensor) Exp(ctx *Context) *Tensor  { return t.unary(ctx, UnaryExp) }

// Sum summiert alle Elemente zu einem Skalar
func (t *Tensor) Sum(ctx *Context) *Tensor {
	r := ctx.Empty(t.Type, 1)
	r.Op = OpSum
	r.Src[0] = t
	return r
}

// SumRows summiert jede Zeile, das Ergebnis hat die Form [1, ne1, ne2, ne3]
func (t *Tensor) SumRows(ctx *Context) *Tensor {
	r := ctx.Empty(t.Type, 1, t.Ne[1], t.Ne[2], t.Ne[3])
	r.Op = OpSumRows
	r.Src[0] = t
	return r
}

// Mean bildet den Mittelwert jeder Zeile
func (t *Tensor) Mean(ctx *Context) *Tensor {
	r := ctx.Empty(DTypeF32, 1, t.Ne[1], t.Ne[2], t.Ne[3])
	r.Op = OpMean
	r.Src[0] = t
	return r
}

// Argmax gibt je Spalte den Index des groessten Elements als I32 zurueck
func (t *Tensor) Argmax(ctx *Context) *Tensor {
	assertf(t.IsMatrix(), "argmax needs a matrix, got %v", t.Ne)

	r := ctx.Empty(DTypeI32, t.Ne[1])
	r.Op = OpArgmax
	r.Src[0] = t
	return r
}

// CountEqual zaehlt die uebereinstimmenden Elemente als I64-Skalar
func (t *Tensor) CountEqual(ctx *Context, t2 *Tensor) *Tensor {
	assertf(SameShape(t, t2), "count_equal: shapes %v and %v differ", t.Ne, t2.Ne)

	r := ctx.Empty(DTypeI64, 1)
	r.Op = OpCountEqual
	r.Src[0] = t
	r.Src[1] = t2
	return r
}

// Repeat wiederholt t bis zur Form von like
func (t *Tensor) Repeat(ctx *Context, like *Tensor) *Tensor {
	assertf(CanRepeat(t, like), "repeat: cannot repeat %v to %v", t.Ne, like.Ne)

	r := ctx.Empty(t.Type, like.Ne[:]...)
	r.Op = OpRepeat
	r.Src[0] = t
	return r
}

// RepeatBack summiert die Wiederholungen von t auf die Form von like zurueck
func (t *Tensor) RepeatBack(ctx *Context, like *Tensor) *Tensor {
	assertf(CanRepeat(like, t), "repeat_back: cannot reduce %v to %v", t.Ne, like.Ne)

	r := ctx.Empty(t.Type, like.Ne[:]...)
	r.Op = OpRepeatBack
	r.Src[0] = t
	return r
}

// Mulmat berechnet t2 * t^T: t hat die Form [k, m], t2 [k, n], das Ergebnis [m, n]
func (t *Tensor) Mulmat(ctx *Context, t2 *Tensor) *Tensor {
	assertf(t.Ne[0] == t2.Ne[0] && t.Ne[2] == t2.Ne[2] && t.Ne[3] == t2.Ne[3],
		"mul_mat: incompatible shapes %v and %v", t.Ne, t2.Ne)

	r := ctx.Empty(DTypeF32, t.Ne[1], t2.Ne[1], t2.Ne[2], t2.Ne[3])
	r.Op = OpMulmat
	r.Src[0] = t
	r.Src[1] = t2
	return r
}

// OutProd berechnet das aeussere Produkt: t [n, p], t2 [m, p], Ergebnis [n, m]
func (t *Tensor) OutProd(ctx *Context, t2 *Tensor) *Tensor {
	assertf(t.Ne[1] == t2.Ne[1] && t.Ne[2] == t2.Ne[2] && t.Ne[3] == t2.Ne[3],
		"out_prod: incompatible shapes %v and %v", t.Ne, t2.Ne)
	assertf(!t.IsTransposed() || t.Ne[0] == 1 || t.Ne[1] == 1, "out_prod: first operand must not be transposed")

	r := ctx.Empty(DTypeF32, t.Ne[0], t2.Ne[0], t2.Ne[2], t2.Ne[3])
	r.Op = OpOutProd
	r.Src[0] = t
	r.Src[1] = t2
	return r
}

// Scale multipliziert alle Elemente mit s
func (t *Tensor) Scale(ctx *Context, s float64) *Tensor {
	r := ctx.EmptyLike(t)
	r.Op = OpScale
	r.Src[0] = t
	r.setOpParamF32(0, float32(s))
	return r
}

// Contiguous kopiert t in einen zusammenhaengenden Tensor
func (t *Tensor) Contiguous(ctx *Context) *Tensor {
	r := ctx.EmptyLike(t)
	r.Op = OpCont
	r.Src[0] = t
	return r
}

// Reshape gibt eine Sicht mit neuer Form zurueck, t muss zusammenhaengend sein
func (t *Tensor) Reshape(ctx *Context, shape ...int64) *Tensor {
	assertf(t.IsContiguous(), "reshape: %q is not contiguous", t.Name)

	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	assertf(n == t.NElements(), "reshape: %v has %d elements, want %d", shape, n, t.NElements())

	r := ctx.view(t, shape, 0)
	r.Op = OpReshape
	r.Src[0] = t
	return r
}

// ReshapeLike gibt eine Sicht mit der Form von like zurueck
func (t *Tensor) ReshapeLike(ctx *Context, like *Tensor) *Tensor {
	return t.Reshape(ctx, like.Ne[:]...)
}

// Transpose vertauscht die ersten beiden Dimensionen ohne Kopie
func (t *Tensor) Transpose(ctx *Context) *Tensor {
	r := ctx.view(t, []int64{t.Ne[1], t.Ne[0], t.Ne[2], t.Ne[3]}, 0)
	r.Nb = [MaxDims]int{t.Nb[1], t.Nb[0], t.Nb[2], t.Nb[3]}
	if r.Data != nil {
		r.InitView()
	}

	r.Op = OpTranspose
	r.Src[0] = t
	return r
}

// Cast konvertiert t in den Typ dtype
func (t *Tensor) Cast(ctx *Context, dtype DType) *Tensor {
	assertf(t.Type.IsFloat() && dtype.IsFloat(), "cast: unsupported %s -> %s", t.Type, dtype)

	r := ctx.Empty(dtype, t.Ne[:]...)
	r.Op = OpCast
	r.Src[0] = t
	return r
}

// CrossEntropyLoss berechnet den mittleren Kreuzentropie-Verlust ueber die
// Zeilen von t (Logits) gegen labels
func (t *Tensor) CrossEntropyLoss(ctx *Context, labels *Tensor) *Tensor {
	assertf(SameShape(t, labels), "cross_entropy_loss: shapes %v and %v differ", t.Ne, labels.Ne)

	r := ctx.Empty(t.Type, 1)
	r.Op = OpCrossEntropyLoss
	r.Src[0] = t
	r.Src[1] = labels
	return r
}

// CrossEntropyLossBack berechnet den Gradienten des Kreuzentropie-Verlusts nach
// den Logits, t ist der skalare Gradient des Verlusts
func (t *Tensor) CrossEntropyLossBack(ctx *Context, logits, labels *Tensor) *Tensor {
	assertf(t.IsScalar(), "cross_entropy_loss_back: gradient must be scalar")
	assertf(SameShape(logits, labels), "cross_entropy_loss_back: shapes %v and %v differ", logits.Ne, labels.Ne)

	r := ctx.EmptyLike(logits)
	r.Op = OpCrossEntropyLossBack
	r.Src[0] = t
	r.Src[1] = logits
	r.Src[2] = labels
	return r
}

// OptStepAdamW aktualisiert den Parameter t in place mit AdamW. params enthaelt
// [alpha, beta1, beta2, eps, wd, beta1h, beta2h].
func (t *Tensor) OptStepAdamW(ctx *Context, grad, m, v, params *Tensor) *Tensor {
	assertf(t.IsParam(), "opt_step_adamw: %q is not a parameter", t.Name)
	assertf(SameShape(t, grad) && SameShape(t, m) && SameShape(t, v), "opt_step_adamw: shape mismatch for %q", t.Name)
	assertf(params.Type == DTypeF32 && params.NElements() == 7, "opt_step_adamw: params must be 7 f32 values")

	r := ctx.ViewOf(t)
	r.Op = OpOptStepAdamW
	r.Src[0] = t
	r.Src[1] = grad
	r.Src[2] = m
	r.Src[3] = v
	r.Src[4] = params
	return r
}

// OptStepSGD aktualisiert den Parameter t in place mit SGD. params enthaelt [alpha, wd].
func (t *Tensor) OptStepSGD(ctx *Context, grad, params *Tensor) *Tensor {
	assertf(t.IsParam(), "opt_step_sgd: %q is not a parameter", t.Name)
	assertf(SameShape(t, grad), "opt_step_sgd: shape mismatch for %q", t.Name)
	assertf(params.Type == DTypeF32 && params.NElements() == 2, "opt_step_sgd: params must be 2 f32 values")

	r := ctx.ViewOf(t)
	r.Op = OpOptStepSGD
	r.Src[0] = t
	r.Src[1] = grad
	r.Src[2] = params
	return r
}
