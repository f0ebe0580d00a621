// Package dataset handles the steady-state training tables: synthetic
// generation from a process model, CSV persistence in the canonical
// column order, train/validation splitting, and conversion to the
// normalized tensors the networks train on.
package dataset

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/reactorlab/setpoint-core/pkg/process"
)

// Columns is the canonical CSV column order.
var Columns = []string{"C_a", "C_b", "T_K", "F", "Q_dot"}

// Sample is one steady-state observation in physical units.
type Sample struct {
	CA   float64
	CB   float64
	TK   float64
	F    float64
	QDot float64
}

// Table is an ordered collection of samples.
type Table struct {
	Samples []Sample
}

// Len returns the number of samples.
func (t *Table) Len() int {
	return len(t.Samples)
}

// Append adds a sample to the table.
func (t *Table) Append(s Sample) {
	t.Samples = append(t.Samples, s)
}

// Tensors converts the table to normalized training data for the forward
// network: inputs are (scaled flow, scaled heat duty), targets are
// (C_a, C_b, scaled temperature). Concentrations pass through unscaled.
func (t *Table) Tensors() (x, y [][]float64) {
	x = make([][]float64, 0, len(t.Samples))
	y = make([][]float64, 0, len(t.Samples))
	for _, s := range t.Samples {
		fs, qs := process.ScaleSetpoint(process.Setpoint{F: s.F, QDot: s.QDot})
		x = append(x, []float64{fs, qs})
		y = append(y, []float64{s.CA, s.CB, process.ScaleTemp(s.TK)})
	}
	return x, y
}

// ColumnStats summarizes one column of the table.
type ColumnStats struct {
	Name string  `json:"name"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Stats computes per-column summaries in the canonical column order.
func (t *Table) Stats() []ColumnStats {
	cols := t.columns()
	out := make([]ColumnStats, len(Columns))
	for i, name := range Columns {
		values := cols[i]
		cs := ColumnStats{Name: name}
		if len(values) > 0 {
			cs.Mean = stat.Mean(values, nil)
			cs.Std = stat.StdDev(values, nil)
			cs.Min = floats.Min(values)
			cs.Max = floats.Max(values)
		}
		out[i] = cs
	}
	return out
}

func (t *Table) columns() [5][]float64 {
	var cols [5][]float64
	for i := range cols {
		cols[i] = make([]float64, 0, len(t.Samples))
	}
	for _, s := range t.Samples {
		cols[0] = append(cols[0], s.CA)
		cols[1] = append(cols[1], s.CB)
		cols[2] = append(cols[2], s.TK)
		cols[3] = append(cols[3], s.F)
		cols[4] = append(cols[4], s.QDot)
	}
	return cols
}
