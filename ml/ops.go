// ops.go - Operationscodes der Tensor-Laufzeit
// Enthaelt: Op, UnaryOp und deren Namen
package ml

import "fmt"

// Op ist der Operationscode eines Graphknotens
type Op int

const (
	OpNone Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpSqr
	OpSqrt
	OpLog
	OpSum
	OpSumRows
	OpMean
	OpArgmax
	OpCountEqual
	OpRepeat
	OpRepeatBack
	OpMulmat
	OpOutProd
	OpScale
	OpCont
	OpReshape
	OpTranspose
	OpCast
	OpUnary
	OpCrossEntropyLoss
	OpCrossEntropyLossBack
	OpOptStepAdamW
	OpOptStepSGD

	opCount
)

var opNames = [opCount]string{
	OpNone:                 "NONE",
	OpAdd:                  "ADD",
	OpSub:                  "SUB",
	OpMul:                  "MUL",
	OpDiv:                  "DIV",
	OpSqr:                  "SQR",
	OpSqrt:                 "SQRT",
	OpLog:                  "LOG",
	OpSum:                  "SUM",
	OpSumRows:              "SUM_ROWS",
	OpMean:                 "MEAN",
	OpArgmax:               "ARGMAX",
	OpCountEqual:           "COUNT_EQUAL",
	OpRepeat:               "REPEAT",
	OpRepeatBack:           "REPEAT_BACK",
	OpMulmat:               "MUL_MAT",
	OpOutProd:              "OUT_PROD",
	OpScale:                "SCALE",
	OpCont:                 "CONT",
	OpReshape:              "RESHAPE",
	OpTranspose:            "TRANSPOSE",
	OpCast:                 "CAST",
	OpUnary:                "UNARY",
	OpCrossEntropyLoss:     "CROSS_ENTROPY_LOSS",
	OpCrossEntropyLossBack: "CROSS_ENTROPY_LOSS_BACK",
	OpOptStepAdamW:         "OPT_STEP_ADAMW",
	OpOptStepSGD:           "OPT_STEP_SGD",
}

func (op Op) String() string {
	if op < 0 || op >= opCount {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opNames[op]
}

// IsView meldet, ob die Operation nur eine Sicht ohne eigene Berechnung erzeugt
func (op Op) IsView() bool {
	return op == OpReshape || op == OpTranspose
}

// UnaryOp waehlt die elementweise Funktion eines OpUnary-Knotens
type UnaryOp int32

const (
	UnaryNeg UnaryOp = iota
	UnaryAbs
	UnarySgn
	UnaryStep
	UnaryRELU
	UnaryExp
)

func (u UnaryOp) String() string {
	switch u {
	case UnaryNeg:
		return "NEG"
	case UnaryAbs:
		return "ABS"
	case UnarySgn:
		return "SGN"
	case UnaryStep:
		return "STEP"
	case UnaryRELU:
		return "RELU"
	case UnaryExp:
		return "EXP"
	default:
		return fmt.Sprintf("UnaryOp(%d)", int32(u))
	}
}

// Unary gibt die elementweise Funktion eines OpUnary-Knotens zurueck
func (t *Tensor) Unary() UnaryOp {
	return UnaryOp(t.OpParams[0])
}
