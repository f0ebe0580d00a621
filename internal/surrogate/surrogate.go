// Package surrogate inverts the setpoint search: it learns the map
// from a target concentration to the setpoint the optimizer would
// return, so a proposal costs one forward pass instead of a full run.
// Training data comes from sweeping the optimizer over a target grid.
package surrogate

import (
	"math"

	"github.com/pkg/errors"

	"github.com/reactorlab/setpoint-core/internal/neural"
	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// minTrainRows is the smallest sweep table worth fitting.
const minTrainRows = 8

// Surrogate proposes setpoints for target concentrations. Inputs are
// taken as-is; the two outputs are setpoints in scaled units and are
// mapped back and clamped into the operating box on the way out.
type Surrogate struct {
	net    *neural.Network
	bounds process.Bounds
}

// New wraps a trained 1-in 2-out network.
func New(net *neural.Network, bounds process.Bounds) (*Surrogate, error) {
	if net == nil {
		return nil, errors.New("surrogate: network is required")
	}
	if net.InputDim() != 1 || net.OutputDim() != 2 {
		return nil, errors.Errorf("surrogate: want a 1-in 2-out network, got %d-in %d-out",
			net.InputDim(), net.OutputDim())
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	return &Surrogate{net: net, bounds: bounds}, nil
}

// Load reads surrogate weights saved by Save.
func Load(path string, bounds process.Bounds) (*Surrogate, error) {
	net, err := neural.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't load surrogate network")
	}
	return New(net, bounds)
}

// Save writes the surrogate weights to path.
func (s *Surrogate) Save(path string) error {
	return s.net.Save(path)
}

// Network returns the underlying regressor.
func (s *Surrogate) Network() *neural.Network {
	return s.net
}

// Bounds returns the box proposals are clamped into.
func (s *Surrogate) Bounds() process.Bounds {
	return s.bounds
}

// Propose maps a target concentration to a setpoint. The returned
// point always lies inside the operating box.
func (s *Surrogate) Propose(cbRef float64) (process.Setpoint, error) {
	if math.IsNaN(cbRef) || math.IsInf(cbRef, 0) {
		return process.Setpoint{}, errors.Errorf("surrogate: c_b_ref must be finite, got %v", cbRef)
	}
	y, err := s.net.Forward([]float64{cbRef})
	if err != nil {
		return process.Setpoint{}, errors.Wrap(err, "couldn't run surrogate inference")
	}
	if math.IsNaN(y[0]) || math.IsNaN(y[1]) {
		return process.Setpoint{}, errors.Errorf("surrogate: inference returned NaN for c_b_ref=%g", cbRef)
	}
	return s.bounds.Clamp(process.UnscaleSetpoint(y[0], y[1])), nil
}

// TrainConfig shapes the inverse regressor and its fit.
type TrainConfig struct {
	// Hidden is the width of the single hidden layer.
	Hidden int           `json:"hidden" yaml:"hidden"`
	Neural neural.Config `json:"neural" yaml:"neural"`
}

// DefaultTrainConfig returns the settings used for production sweeps.
func DefaultTrainConfig() TrainConfig {
	cfg := neural.DefaultConfig()
	cfg.Epochs = 800
	return TrainConfig{Hidden: 16, Neural: cfg}
}

// Train fits an inverse regressor on a sweep table. Failed rows are
// skipped. Targets enter the network unscaled; setpoints are learned
// in scaled units.
func Train(rows []Row, bounds process.Bounds, cfg TrainConfig) (*Surrogate, *neural.History, error) {
	if cfg.Hidden < 1 {
		return nil, nil, errors.Errorf("surrogate: hidden width must be at least 1, got %d", cfg.Hidden)
	}

	var x, y [][]float64
	for _, r := range rows {
		if !r.Ok() {
			continue
		}
		fs, qs := process.ScaleSetpoint(process.Setpoint{F: r.F, QDot: r.QDot})
		x = append(x, []float64{r.CBRef})
		y = append(y, []float64{fs, qs})
	}
	if len(x) < minTrainRows {
		return nil, nil, errors.Errorf("surrogate: need at least %d usable rows, got %d", minTrainRows, len(x))
	}

	net, err := neural.New([]int{1, cfg.Hidden, 2}, neural.ActTanh, utils.NewRandSource(cfg.Neural.Seed))
	if err != nil {
		return nil, nil, err
	}
	hist, err := neural.Fit(net, x, y, cfg.Neural)
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't fit surrogate network")
	}
	sur, err := New(net, bounds)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("surrogate trained",
		"rows", len(x),
		"hidden", cfg.Hidden,
		"final_loss", hist.FinalLoss(),
		"best_epoch", hist.BestEpoch,
	)
	return sur, hist, nil
}
