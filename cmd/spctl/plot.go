package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/reactorlab/setpoint-core/internal/surrogate"
	"github.com/reactorlab/setpoint-core/pkg/logger"
)

func cmdPlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	kind := fs.String("kind", "convergence", "chart kind: convergence or sweep")
	in := fs.String("in", "", "input CSV (required)")
	out := fs.String("out", "", "output image; the extension picks the format (default <kind>.svg)")
	fs.Parse(args)

	if *in == "" {
		return fmt.Errorf("-in is required")
	}
	if *out == "" {
		*out = *kind + ".svg"
	}

	switch *kind {
	case "convergence":
		return plotConvergence(*in, *out)
	case "sweep":
		return plotSweep(*in, *out)
	default:
		return fmt.Errorf("unknown chart kind %q", *kind)
	}
}

// plotConvergence charts the incumbent cost against consumed evaluations
// from a trace CSV written by optimize -trace.
func plotConvergence(in, out string) error {
	evals, costs, err := readTrace(in)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Incumbent cost"
	p.X.Label.Text = "model evaluations"
	p.Y.Label.Text = "cost"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(evals))
	for i := range evals {
		pts[i].X = evals[i]
		pts[i].Y = costs[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.Color = plotutil.Color(0)
	p.Add(line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, out); err != nil {
		return fmt.Errorf("couldn't save chart %s: %w", out, err)
	}
	logger.Info("chart written", "path", out, "points", len(pts))
	return nil
}

// plotSweep charts achieved C_b against the target grid from a sweep
// table, with the identity line as the tracking reference.
func plotSweep(in, out string) error {
	rows, err := surrogate.ReadTable(in)
	if err != nil {
		return err
	}

	achieved := make(plotter.XYs, 0, len(rows))
	target := make(plotter.XYs, 0, len(rows))
	for _, r := range rows {
		if !r.Ok() {
			continue
		}
		achieved = append(achieved, plotter.XY{X: r.CBRef, Y: r.CB})
		target = append(target, plotter.XY{X: r.CBRef, Y: r.CBRef})
	}
	if len(achieved) == 0 {
		return fmt.Errorf("no usable rows in %s", in)
	}

	p := plot.New()
	p.Title.Text = "Target tracking"
	p.X.Label.Text = "target C_b"
	p.Y.Label.Text = "achieved C_b"
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	achievedLine, err := plotter.NewLine(achieved)
	if err != nil {
		return err
	}
	achievedLine.LineStyle.Width = vg.Points(1.5)
	achievedLine.Color = plotutil.Color(0)

	targetLine, err := plotter.NewLine(target)
	if err != nil {
		return err
	}
	targetLine.LineStyle.Width = vg.Points(1)
	targetLine.LineStyle.Dashes = plotutil.Dashes(1)
	targetLine.Color = plotutil.Color(1)

	p.Add(achievedLine, targetLine)
	p.Legend.Add("achieved", achievedLine)
	p.Legend.Add("target", targetLine)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, out); err != nil {
		return fmt.Errorf("couldn't save chart %s: %w", out, err)
	}
	logger.Info("chart written", "path", out, "rows", len(achieved))
	return nil
}

func readTrace(path string) (evals, costs []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open trace file %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't read trace file %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("trace file %s has no data rows", path)
	}

	header := records[0]
	if len(header) < 4 || header[0] != traceColumns[0] || header[3] != traceColumns[3] {
		return nil, nil, fmt.Errorf("trace file %s has unexpected columns %v", path, header)
	}
	for i, rec := range records[1:] {
		e, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("trace row %d: bad evaluation %q", i+1, rec[0])
		}
		c, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("trace row %d: bad cost %q", i+1, rec[3])
		}
		evals = append(evals, e)
		costs = append(costs, c)
	}
	return evals, costs, nil
}
