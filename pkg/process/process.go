// Package process defines the contract between set-point optimization and
// the forward reactor model: the manipulated variables, the predicted
// outputs, the operating box, and the affine scaling shared by every
// component that touches model inputs or outputs.
package process

import "errors"

// ErrEvaluation marks a forward model failure. Evaluation failures are
// fatal to the surrounding optimization: they are never retried and must
// surface wrapped in this sentinel so callers can test with errors.Is.
var ErrEvaluation = errors.New("model evaluation failed")

// Setpoint holds the manipulated variables of the reactor.
type Setpoint struct {
	// F is the feed flow rate.
	F float64 `json:"f" yaml:"f"`
	// QDot is the heat duty. Negative values remove heat.
	QDot float64 `json:"q_dot" yaml:"q_dot"`
}

// Outputs holds the model-predicted process outputs.
type Outputs struct {
	// CA and CB are the steady-state concentrations of species A and B.
	CA float64 `json:"c_a"`
	CB float64 `json:"c_b"`
	// TK is the reactor temperature in kelvin.
	TK float64 `json:"t_k"`
}

// Model is an opaque forward process model. Implementations must be
// deterministic: the same setpoint always yields the same outputs.
// Callers never see gradients or internals; the optimizer treats Predict
// as a black box.
type Model interface {
	// Predict evaluates the model at the given setpoint. Any returned
	// error wraps ErrEvaluation.
	Predict(sp Setpoint) (Outputs, error)
	// Name identifies the model implementation for logs and results.
	Name() string
}
