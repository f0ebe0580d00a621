package dataset

import (
	"github.com/pkg/errors"

	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// GenerateConfig controls synthetic data generation.
type GenerateConfig struct {
	// Samples is the number of rows to draw.
	Samples int
	// Seed drives the sampling sequence; zero means wall clock.
	Seed int64
	// Bounds is the operating box to sample. Zero value means the
	// default box.
	Bounds process.Bounds
	// NoiseConc and NoiseTemp are standard deviations of Gaussian noise
	// added to the concentrations and the temperature. Zero disables
	// noise on that output.
	NoiseConc float64
	NoiseTemp float64
}

// DefaultGenerateConfig returns the stock generation settings.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Samples: 2000,
		Seed:    1,
		Bounds:  process.DefaultBounds(),
	}
}

// Generate draws setpoints uniformly from the box and records the model's
// steady state at each, with optional observation noise. A model failure
// aborts generation immediately.
func Generate(model process.Model, cfg GenerateConfig) (*Table, error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	if cfg.Samples <= 0 {
		return nil, errors.Errorf("sample count must be positive, got %d", cfg.Samples)
	}
	if (cfg.Bounds == process.Bounds{}) {
		cfg.Bounds = process.DefaultBounds()
	}
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}

	rng := utils.NewRandSource(cfg.Seed)
	table := &Table{Samples: make([]Sample, 0, cfg.Samples)}

	for i := 0; i < cfg.Samples; i++ {
		sp := process.Setpoint{
			F:    rng.UniformFloat64(cfg.Bounds.FMin, cfg.Bounds.FMax),
			QDot: rng.UniformFloat64(cfg.Bounds.QDotMin, cfg.Bounds.QDotMax),
		}
		out, err := model.Predict(sp)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d at F=%g, q_dot=%g", i, sp.F, sp.QDot)
		}

		s := Sample{CA: out.CA, CB: out.CB, TK: out.TK, F: sp.F, QDot: sp.QDot}
		if cfg.NoiseConc > 0 {
			s.CA = rng.NormFloat64(s.CA, cfg.NoiseConc)
			s.CB = rng.NormFloat64(s.CB, cfg.NoiseConc)
		}
		if cfg.NoiseTemp > 0 {
			s.TK = rng.NormFloat64(s.TK, cfg.NoiseTemp)
		}
		table.Append(s)
	}

	return table, nil
}

// Split partitions the table into train and validation parts with a
// seeded shuffle. The validation part receives ceil(fraction*n) samples,
// at least one and at most n-1 when 0 < fraction < 1.
func (t *Table) Split(valFraction float64, seed int64) (train, val *Table) {
	train = &Table{}
	val = &Table{}
	n := len(t.Samples)
	if n == 0 {
		return train, val
	}
	if valFraction <= 0 {
		train.Samples = append(train.Samples, t.Samples...)
		return train, val
	}
	if valFraction >= 1 {
		val.Samples = append(val.Samples, t.Samples...)
		return train, val
	}

	nVal := int(valFraction*float64(n) + 0.999999)
	if nVal < 1 {
		nVal = 1
	}
	if nVal > n-1 {
		nVal = n - 1
	}

	rng := utils.NewRandSource(seed)
	for i, idx := range rng.Perm(n) {
		if i < nVal {
			val.Append(t.Samples[idx])
		} else {
			train.Append(t.Samples[idx])
		}
	}
	return train, val
}
