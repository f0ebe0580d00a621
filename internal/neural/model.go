package neural

import (
	"fmt"
	"math"

	"github.com/reactorlab/setpoint-core/pkg/process"
)

// ForwardModel adapts a trained 2-in, 3-out network to process.Model.
// The network consumes the normalized setpoint (scaled flow, scaled heat
// duty) and emits (C_a, C_b, scaled temperature); the adapter owns the
// unit conversions on both sides. Concentrations pass through unscaled.
type ForwardModel struct {
	net  *Network
	name string
}

// NewForwardModel wraps an already constructed network.
func NewForwardModel(net *Network) (*ForwardModel, error) {
	if net == nil {
		return nil, fmt.Errorf("nil network")
	}
	if net.InputDim() != 2 || net.OutputDim() != 3 {
		return nil, fmt.Errorf("forward model needs a 2-in, 3-out network, got %d-in, %d-out",
			net.InputDim(), net.OutputDim())
	}
	return &ForwardModel{net: net, name: "neural-forward"}, nil
}

// LoadForwardModel reads a weight file and wraps it.
func LoadForwardModel(path string) (*ForwardModel, error) {
	net, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewForwardModel(net)
}

// Name implements process.Model.
func (m *ForwardModel) Name() string {
	return m.name
}

// Network exposes the wrapped network for persistence.
func (m *ForwardModel) Network() *Network {
	return m.net
}

// Predict implements process.Model. Failures wrap process.ErrEvaluation.
func (m *ForwardModel) Predict(sp process.Setpoint) (process.Outputs, error) {
	fs, qs := process.ScaleSetpoint(sp)
	y, err := m.net.Forward([]float64{fs, qs})
	if err != nil {
		return process.Outputs{}, fmt.Errorf("%w: %v", process.ErrEvaluation, err)
	}

	out := process.Outputs{
		CA: y[0],
		CB: y[1],
		TK: process.UnscaleTemp(y[2]),
	}
	if !finite(out.CA) || !finite(out.CB) || !finite(out.TK) {
		return process.Outputs{}, fmt.Errorf("%w: non-finite prediction at F=%g, q_dot=%g",
			process.ErrEvaluation, sp.F, sp.QDot)
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
