// loss.go - Verlustfunktionen
// Enthaelt: LossType und die Konstruktion der Verlust-Teilgraphen inklusive
// Vorhersage und Trefferzaehlung
package opt

import (
	"fmt"

	"github.com/ollama/train/ml"
)

// LossType waehlt die Verlustfunktion, die auf die Ausgaben angewendet wird
type LossType int

const (
	// LossMean ist der Mittelwert der Ausgaben, keine Labels
	LossMean LossType = iota

	// LossSum ist die Summe der Ausgaben, keine Labels
	LossSum

	// LossCrossEntropy erwartet Logits und Label-Verteilungen je Datenpunkt
	LossCrossEntropy

	// LossMeanSquaredError ist der mittlere quadratische Fehler gegen die Labels
	LossMeanSquaredError
)

var lossNames = map[LossType]string{
	LossMean:             "mean",
	LossSum:              "sum",
	LossCrossEntropy:     "cross_entropy",
	LossMeanSquaredError: "mse",
}

func (l LossType) String() string {
	if s, ok := lossNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LossType(%d)", int(l))
}

// ParseLossType liest einen Namen wie "cross_entropy" oder "mse"
func ParseLossType(s string) (LossType, error) {
	for l, name := range lossNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown loss %q", s)
}

// NeedsLabels meldet, ob die Verlustfunktion Labels benoetigt
func (l LossType) NeedsLabels() bool {
	return l == LossCrossEntropy || l == LossMeanSquaredError
}

// lossGraph sind die Tensoren, die eine Verlustfunktion erzeugt
type lossGraph struct {
	labels   *ml.Tensor
	loss     *ml.Tensor
	pred     *ml.Tensor
	ncorrect *ml.Tensor

	// perDatapoint meldet, ob der Verlust ein Mittel ueber Datenpunkte ist
	perDatapoint bool
}

type lossFunc func(ctx *ml.Context, outputs *ml.Tensor, optPeriod int) lossGraph

var lossFuncs = map[LossType]lossFunc{
	LossMean:             meanLoss,
	LossSum:              sumLoss,
	LossCrossEntropy:     crossEntropyLoss,
	LossMeanSquaredError: meanSquaredErrorLoss,
}

// build legt den Verlust-Teilgraphen fuer outputs in ctx an
func (l LossType) build(ctx *ml.Context, outputs *ml.Tensor, optPeriod int) lossGraph {
	f, ok := lossFuncs[l]
	if !ok {
		panic(fmt.Sprintf("opt: unknown loss type %d", int(l)))
	}
	return f(ctx, outputs, optPeriod)
}

// scaled teilt den Verlust durch optPeriod, damit die ueber eine logische
// Batch akkumulierten Gradienten einem Mittel entsprechen
func scaled(ctx *ml.Context, loss *ml.Tensor, optPeriod int, name string) *ml.Tensor {
	if optPeriod == 1 {
		return loss
	}
	return loss.Scale(ctx, 1/float64(optPeriod)).SetName("%s", name)
}

func sumLoss(ctx *ml.Context, outputs *ml.Tensor, _ int) lossGraph {
	return lossGraph{loss: outputs.Sum(ctx).SetName("loss_sum")}
}

func meanLoss(ctx *ml.Context, outputs *ml.Tensor, optPeriod int) lossGraph {
	loss := outputs.Sum(ctx).SetName("loss_sum")
	loss = loss.Scale(ctx, 1/float64(optPeriod*int(outputs.NElements()))).SetName("loss_mean")
	return lossGraph{loss: loss, perDatapoint: true}
}

func crossEntropyLoss(ctx *ml.Context, outputs *ml.Tensor, optPeriod int) lossGraph {
	labels := ctx.EmptyLike(outputs).SetName("labels")
	loss := outputs.CrossEntropyLoss(ctx, labels).SetName("loss_cross_entropy")
	loss = scaled(ctx, loss, optPeriod, "loss_cross_entropy_scaled")

	pred := outputs.Argmax(ctx).SetName("pred")
	ncorrect := pred.CountEqual(ctx, labels.Argmax(ctx)).SetName("ncorrect")

	return lossGraph{
		labels:       labels,
		loss:         loss,
		pred:         pred,
		ncorrect:     ncorrect,
		perDatapoint: true,
	}
}

func meanSquaredErrorLoss(ctx *ml.Context, outputs *ml.Tensor, optPeriod int) lossGraph {
	labels := ctx.EmptyLike(outputs).SetName("labels")
	loss := outputs.Sub(ctx, labels).SetName("loss_error")
	loss = loss.Sqr(ctx).SetName("loss_squared_error")
	loss = loss.Sum(ctx).SetName("loss_sum_squared_error")
	loss = loss.Scale(ctx, 1/float64(optPeriod*int(outputs.NElements()))).SetName("loss_mean_squared_error")

	return lossGraph{labels: labels, loss: loss, perDatapoint: true}
}
