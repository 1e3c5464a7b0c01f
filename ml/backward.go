// backward.go - Automatische Differentiation ueber den Vorwaertsgraphen
// Enthaelt: BuildBackwardExpand und die Ableitungsregeln je Operation
package ml

import "fmt"

// BuildBackwardExpand erweitert g um die Rueckwaertsknoten. accs ordnet Knoten
// einen vorhandenen Akkumulator zu, in den ihre Gradienten in place addiert
// werden. Der Verlustknoten erhaelt ohne Eintrag einen neuen Akkumulator.
func (g *Graph) BuildBackwardExpand(ctx *Context, accs map[*Tensor]*Tensor) {
	assertf(len(g.nodes) > 0, "backward expansion of an empty graph")
	assertf(g.grads != nil, "backward expansion needs a graph with gradients")

	nForward := len(g.nodes)
	clear(g.grads)
	clear(g.gradAccs)

	var anyParams, anyLoss bool
	for _, node := range g.nodes {
		anyParams = anyParams || node.IsParam()
		anyLoss = anyLoss || node.IsLoss()
	}
	assertf(anyParams, "no trainable parameters found, did you forget to call SetParam?")
	assertf(anyLoss, "no training loss found, did you forget to call SetLoss?")

	needed := make(map[*Tensor]bool)
	for _, node := range g.nodes[:nForward] {
		if node.Type == DTypeI32 {
			continue
		}

		needsGrad := node.IsParam() || node.IsLoss()
		for j, src := range node.Src {
			if src == nil || ignoreSrc(node, j) || !needed[src] {
				continue
			}
			assertf(src.Type == DTypeF32 || src.Type == DTypeF16, "gradient for %s source %q", src.Type, src.Name)
			needsGrad = true
			break
		}
		if !needsGrad {
			continue
		}

		assertf(node.ViewSrc == nil || node.Op.IsView(), "in-place operation %s on %q is not differentiable", node.Op, node.Name)

		if acc := accs[node]; acc != nil {
			assertf(SameShape(acc, node), "accumulator shape %v does not match %q %v", acc.Ne, node.Name, node.Ne)
			g.gradAccs[node] = acc
			g.grads[node] = acc
		} else if node.IsLoss() {
			acc := ctx.Empty(DTypeF32, node.Ne[:]...)
			g.gradAccs[node] = acc
			g.grads[node] = acc
		}
		needed[node] = true
	}

	b := backward{ctx: ctx, g: g, needed: needed}
	for i := nForward - 1; i >= 0; i-- {
		b.node(g.nodes[i])
	}
}

// ignoreSrc meldet Quellen, deren Gradient keinen Einfluss auf die Ausgabe hat
func ignoreSrc(node *Tensor, j int) bool {
	switch node.Op {
	case OpUnary:
		u := node.Unary()
		return j == 0 && (u == UnarySgn || u == UnaryStep)
	}
	return false
}

type backward struct {
	ctx    *Context
	g      *Graph
	needed map[*Tensor]bool
}

// addOrSet addiert t zum Gradienten von src oder setzt ihn. Besitzt src
// einen Akkumulator, wird in place addiert.
func (b *backward) addOrSet(src, t *Tensor) {
	grad := b.g.grads[src]
	if grad != nil {
		if b.g.gradAccs[src] != nil {
			grad = grad.AddInplace(b.ctx, t)
		} else {
			grad = grad.Add(b.ctx, t)
		}
	} else {
		grad = t
	}

	b.setGrad(src, grad)
}

// subOrSet zieht t vom Gradienten von src ab oder setzt ihn auf -t
func (b *backward) subOrSet(src, t *Tensor) {
	grad := b.g.grads[src]
	if grad != nil {
		if b.g.gradAccs[src] != nil {
			grad = grad.AddInplace(b.ctx, t.Neg(b.ctx))
		} else {
			grad = grad.Sub(b.ctx, t)
		}
	} else {
		grad = t.Neg(b.ctx)
	}

	b.setGrad(src, grad)
}

// repeatOrSet verteilt einen reduzierten Gradienten auf die Form von src
func (b *backward) repeatOrSet(src, t *Tensor) {
	b.addOrSet(src, t.Repeat(b.ctx, src))
}

func (b *backward) setGrad(src, grad *Tensor) {
	grad.SetName("grad for %s", src.Name)
	b.g.grads[src] = grad
	b.g.BuildForwardExpand(grad)
}

func (b *backward) node(t *Tensor) {
	grad := b.g.grads[t]
	if grad == nil {
		return
	}

	ctx := b.ctx
	src0, src1 := t.Src[0], t.Src[1]
	need0 := src0 != nil && b.needed[src0]
	need1 := src1 != nil && b.needed[src1]

	switch t.Op {
	case OpNone:
	case OpAdd:
		if need0 {
			b.addOrSet(src0, grad)
		}
		if need1 {
			tmp := grad
			if !SameShape(src0, src1) {
				tmp = tmp.RepeatBack(ctx, src1)
			}
			b.addOrSet(src1, tmp)
		}
	case OpSub:
		if need0 {
			b.addOrSet(src0, grad)
		}
		if need1 {
			tmp := grad
			if !SameShape(src0, src1) {
				tmp = tmp.RepeatBack(ctx, src1)
			}
			b.subOrSet(src1, tmp)
		}
	case OpMul:
		if need0 {
			b.addOrSet(src0, grad.Mul(ctx, src1))
		}
		if need1 {
			tmp := src0.Mul(ctx, grad)
			if !SameShape(src0, src1) {
				tmp = tmp.RepeatBack(ctx, src1)
			}
			b.addOrSet(src1, tmp)
		}
	case OpDiv:
		if need0 {
			b.addOrSet(src0, grad.Div(ctx, src1))
		}
		if need1 {
			tmp := grad.Mul(ctx, t.Div(ctx, src1))
			if !SameShape(src0, src1) {
				tmp = tmp.RepeatBack(ctx, src1)
			}
			b.subOrSet(src1, tmp)
		}
	case OpSqr:
		if need0 {
			b.addOrSet(src0, src0.Mul(ctx, grad).Scale(ctx, 2))
		}
	case OpSqrt:
		if need0 {
			b.addOrSet(src0, grad.Div(ctx, t).Scale(ctx, 0.5))
		}
	case OpLog:
		if need0 {
			b.addOrSet(src0, grad.Div(ctx, src0))
		}
	case OpSum:
		if need0 {
			b.repeatOrSet(src0, grad)
		}
	case OpSumRows:
		if need0 {
			b.repeatOrSet(src0, grad)
		}
	case OpMean:
		if need0 {
			b.repeatOrSet(src0, grad.Scale(ctx, 1/float64(src0.Ne[0])))
		}
	case OpRepeat:
		if need0 {
			b.addOrSet(src0, grad.RepeatBack(ctx, src0))
		}
	case OpRepeatBack:
		if need0 {
			b.addOrSet(src0, grad.Repeat(ctx, src0))
		}
	case OpMulmat:
		// t [m, n] = src0 [k, m] x src1 [k, n]
		if need0 {
			b.addOrSet(src0, src1.OutProd(ctx, grad))
		}
		if need1 {
			b.addOrSet(src1, src0.OutProd(ctx, grad.Transpose(ctx)))
		}
	case OpScale:
		if need0 {
			b.addOrSet(src0, grad.Scale(ctx, float64(t.OpParamF32(0))))
		}
	case OpCont:
		if need0 {
			if SameShape(t, src0) {
				b.addOrSet(src0, grad)
			} else {
				b.addOrSet(src0, grad.ReshapeLike(ctx, src0))
			}
		}
	case OpReshape:
		if need0 {
			g := grad
			if !g.IsContiguous() {
				g = g.Contiguous(ctx)
			}
			b.addOrSet(src0, g.ReshapeLike(ctx, src0))
		}
	case OpTranspose:
		if need0 {
			b.addOrSet(src0, grad.Transpose(ctx))
		}
	case OpCast:
		if need0 {
			b.addOrSet(src0, grad.Cast(ctx, src0.Type))
		}
	case OpUnary:
		switch t.Unary() {
		case UnaryAbs:
			if need0 {
				b.addOrSet(src0, src0.Sgn(ctx).Mul(ctx, grad))
			}
		case UnaryNeg:
			if need0 {
				b.subOrSet(src0, grad)
			}
		case UnarySgn, UnaryStep:
		case UnaryRELU:
			if need0 {
				b.addOrSet(src0, src0.Step(ctx).Mul(ctx, grad))
			}
		case UnaryExp:
			if need0 {
				b.addOrSet(src0, t.Mul(ctx, grad))
			}
		default:
			panic(fmt.Sprintf("ml: unsupported unary op for backward pass: %s", t.Unary()))
		}
	case OpCrossEntropyLoss:
		if need0 {
			b.addOrSet(src0, grad.CrossEntropyLossBack(ctx, src0, src1))
		}
		assertf(!need1, "backward pass for labels not implemented")
	default:
		panic(fmt.Sprintf("ml: unsupported op for backward pass: %s", t.Op))
	}

	if need0 {
		assertf(SameShape(src0, b.g.grads[src0]), "gradient shape mismatch for %q", src0.Name)
	}
	if need1 {
		assertf(SameShape(src1, b.g.grads[src1]), "gradient shape mismatch for %q", src1.Name)
	}
}
