// params.go - Optimierer-Typen und Hyperparameter
// Enthaelt: OptimizerType, OptimizerParams, DefaultOptimizerParams,
// ConstantOptimizerParams sowie Validierung und Bias-Korrektur
package opt

import (
	"fmt"
	"log/slog"
	"math"
)

// OptimizerType waehlt den Aktualisierungsschritt des OPT-Graphen
type OptimizerType int

const (
	OptimizerAdamW OptimizerType = iota
	OptimizerSGD
)

func (o OptimizerType) String() string {
	switch o {
	case OptimizerAdamW:
		return "adamw"
	case OptimizerSGD:
		return "sgd"
	default:
		return fmt.Sprintf("OptimizerType(%d)", int(o))
	}
}

// ParseOptimizerType liest einen Optimierer-Namen wie "adamw" oder "sgd"
func ParseOptimizerType(s string) (OptimizerType, error) {
	switch s {
	case "adamw":
		return OptimizerAdamW, nil
	case "sgd":
		return OptimizerSGD, nil
	default:
		return 0, fmt.Errorf("unknown optimizer %q", s)
	}
}

// numParams gibt die Laenge des Hyperparameter-Buffers zurueck
func (o OptimizerType) numParams() int64 {
	if o == OptimizerSGD {
		return 2
	}
	return 7
}

// momenta gibt die Anzahl der Moment-Tensoren pro Parameter zurueck
func (o OptimizerType) momenta() int {
	if o == OptimizerAdamW {
		return 2
	}
	return 0
}

// AdamWParams sind die Hyperparameter von AdamW
type AdamWParams struct {
	Alpha float32 // Lernrate
	Beta1 float32
	Beta2 float32
	Eps   float32
	WD    float32 // Weight Decay, 0 deaktiviert
}

// SGDParams sind die Hyperparameter von SGD
type SGDParams struct {
	Alpha float32
	WD    float32
}

// OptimizerParams enthaelt die Hyperparameter aller Optimierer, verwendet
// werden nur die des gewaehlten OptimizerType.
type OptimizerParams struct {
	AdamW AdamWParams
	SGD   SGDParams
}

// OptimizerParamsFunc liefert die Hyperparameter fuer den naechsten
// Optimierer-Schritt. Benoetigter Zustand (z.B. die Epoche) wird ueber die
// Closure gebunden.
type OptimizerParamsFunc func() OptimizerParams

// DefaultOptimizerParams gibt die Standard-Hyperparameter zurueck
func DefaultOptimizerParams() OptimizerParams {
	return OptimizerParams{
		AdamW: AdamWParams{
			Alpha: 0.001,
			Beta1: 0.9,
			Beta2: 0.999,
			Eps:   1e-8,
			WD:    0,
		},
		SGD: SGDParams{
			Alpha: 1e-3,
			WD:    0,
		},
	}
}

// ConstantOptimizerParams gibt eine Funktion zurueck, die immer p liefert
func ConstantOptimizerParams(p OptimizerParams) OptimizerParamsFunc {
	return func() OptimizerParams { return p }
}

// biasCorrection gibt 1/(1 - beta^iter) zurueck
func biasCorrection(beta float32, iter int64) float32 {
	return 1 / (1 - float32(math.Pow(float64(beta), float64(iter))))
}

func inUnit(v float32) bool {
	return v >= 0 && v <= 1
}

func rejectParams(optimizer OptimizerType, p any, reason string) {
	slog.Error("invalid optimizer parameters", "optimizer", optimizer, "params", p, "reason", reason)
	panic("opt: invalid optimizer parameters: " + reason)
}

// values validiert p und gibt [alpha, beta1, beta2, eps, wd, beta1h, beta2h] zurueck
func (p AdamWParams) values(iter int64) []float32 {
	switch {
	case !(p.Alpha > 0):
		rejectParams(OptimizerAdamW, p, "alpha must be > 0")
	case !inUnit(p.Beta1):
		rejectParams(OptimizerAdamW, p, "beta1 must be in [0, 1]")
	case !inUnit(p.Beta2):
		rejectParams(OptimizerAdamW, p, "beta2 must be in [0, 1]")
	case !(p.Eps >= 0):
		rejectParams(OptimizerAdamW, p, "eps must be >= 0")
	case !inUnit(p.WD):
		rejectParams(OptimizerAdamW, p, "wd must be in [0, 1]")
	}

	return []float32{
		p.Alpha, p.Beta1, p.Beta2, p.Eps, p.WD,
		biasCorrection(p.Beta1, iter),
		biasCorrection(p.Beta2, iter),
	}
}

// values validiert p und gibt [alpha, wd] zurueck
func (p SGDParams) values() []float32 {
	switch {
	case !(p.Alpha > 0):
		rejectParams(OptimizerSGD, p, "alpha must be > 0")
	case !inUnit(p.WD):
		rejectParams(OptimizerSGD, p, "wd must be in [0, 1]")
	}

	return []float32{p.Alpha, p.WD}
}
