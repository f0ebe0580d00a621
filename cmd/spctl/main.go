// Command spctl is the operator tool for the setpoint core: one-shot
// searches, forward predictions, dataset generation, network training,
// target sweeps, surrogate fitting and charts, all without a daemon.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/reactorlab/setpoint-core/internal/dataset"
	"github.com/reactorlab/setpoint-core/internal/neural"
	"github.com/reactorlab/setpoint-core/internal/reactor"
	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/internal/surrogate"
	"github.com/reactorlab/setpoint-core/pkg/config"
	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: spctl [-log-level LEVEL] COMMAND [flags]

Commands:
  optimize         search the operating box for a target C_b
  predict          evaluate the forward model at one setpoint
  gen-data         generate a synthetic steady-state dataset CSV
  train            train the forward network on a dataset CSV
  sweep            run the optimizer over a target grid, write a table CSV
  train-surrogate  fit the inverse regressor on a sweep table
  propose          one surrogate inference for a target C_b
  plot             render an SVG chart from a trace or sweep CSV

Run 'spctl COMMAND -h' for the command's flags.
`)
}

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = usage
	flag.Parse()

	// Logs go to stderr so stdout stays parseable.
	logger.SetDefault(logger.NewText(logLevel, os.Stderr))

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "optimize":
		err = cmdOptimize(ctx, args)
	case "predict":
		err = cmdPredict(args)
	case "gen-data":
		err = cmdGenData(args)
	case "train":
		err = cmdTrain(args)
	case "sweep":
		err = cmdSweep(ctx, args)
	case "train-surrogate":
		err = cmdTrainSurrogate(args)
	case "propose":
		err = cmdPropose(args)
	case "plot":
		err = cmdPlot(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// modelFlags holds the forward-model selection shared by several commands.
type modelFlags struct {
	kind    string
	weights string
}

func (m *modelFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.kind, "model", "analytic", "forward model kind: analytic or neural")
	fs.StringVar(&m.weights, "weights", "", "weight file for -model neural")
}

func (m *modelFlags) build() (process.Model, error) {
	switch m.kind {
	case "analytic":
		return reactor.NewCSTR(), nil
	case "neural":
		if m.weights == "" {
			return nil, fmt.Errorf("-model neural requires -weights")
		}
		fm, err := neural.LoadForwardModel(m.weights)
		if err != nil {
			return nil, err
		}
		return fm, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", m.kind)
	}
}

// flagProvided reports whether the flag was set on the command line, so
// zero is usable as a real value.
func flagProvided(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// searchOptions maps the optimizer config section onto search options.
func searchOptions(o config.Optimizer) setpoint.Options {
	opts := setpoint.DefaultOptions()
	opts.MaxEvaluations = o.MaxEvaluations
	opts.Seed = o.Seed
	opts.Restarts = o.Restarts
	opts.Polish = o.Polish
	opts.PolishReserve = o.PolishReserve
	opts.Anneal.InitialTemp = o.InitialTemp
	opts.Anneal.FinalTemp = o.FinalTemp
	opts.ProgressStride = o.ProgressStride
	return opts
}

func cmdOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	var mf modelFlags
	mf.register(fs)
	target := fs.Float64("target", 0, "target C_b to track (required)")
	budget := fs.Int("budget", 2000, "maximum model evaluations")
	seed := fs.Int64("seed", 0, "random seed; 0 draws one from the wall clock")
	restarts := fs.Int("restarts", 1, "number of anneal chains")
	polish := fs.Bool("polish", true, "refine the incumbent with Nelder-Mead")
	reserve := fs.Int("reserve", 200, "evaluations held back for polish")
	tracePath := fs.String("trace", "", "write the incumbent trajectory to this CSV")
	fs.Parse(args)

	if !flagProvided(fs, "target") {
		return fmt.Errorf("-target is required")
	}

	opts := setpoint.DefaultOptions()
	opts.MaxEvaluations = *budget
	opts.Seed = *seed
	opts.Restarts = *restarts
	opts.Polish = *polish
	opts.PolishReserve = *reserve

	var trace []setpoint.ProgressPoint
	if *tracePath != "" {
		opts.Progress = func(pt setpoint.ProgressPoint) {
			trace = append(trace, pt)
		}
	}

	model, err := mf.build()
	if err != nil {
		return err
	}
	opt, err := setpoint.New(model, opts)
	if err != nil {
		return err
	}

	res, err := opt.Optimize(ctx, *target)
	if err != nil {
		return err
	}

	if *tracePath != "" {
		if err := writeTrace(*tracePath, trace); err != nil {
			return err
		}
		logger.Info("trace written", "path", *tracePath, "points", len(trace))
	}
	return printJSON(res)
}

func cmdPredict(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	var mf modelFlags
	mf.register(fs)
	f := fs.Float64("f", 0, "flow rate F in L/min (required)")
	qdot := fs.Float64("q-dot", 0, "heat duty Q_dot in kJ/min (required)")
	fs.Parse(args)

	if !flagProvided(fs, "f") || !flagProvided(fs, "q-dot") {
		return fmt.Errorf("-f and -q-dot are required")
	}

	sp := process.Setpoint{F: *f, QDot: *qdot}
	bounds := process.DefaultBounds()
	if !bounds.Contains(sp) {
		return fmt.Errorf("setpoint outside the operating box: F in [%g, %g], Q_dot in [%g, %g]",
			bounds.FMin, bounds.FMax, bounds.QDotMin, bounds.QDotMax)
	}

	model, err := mf.build()
	if err != nil {
		return err
	}
	out, err := model.Predict(sp)
	if err != nil {
		return err
	}
	return printJSON(struct {
		Setpoint process.Setpoint `json:"setpoint"`
		Outputs  process.Outputs  `json:"outputs"`
	}{sp, out})
}

func cmdGenData(args []string) error {
	fs := flag.NewFlagSet("gen-data", flag.ExitOnError)
	var mf modelFlags
	mf.register(fs)
	out := fs.String("out", "dataset.csv", "output CSV path")
	samples := fs.Int("samples", 2000, "number of samples to draw")
	seed := fs.Int64("seed", 1, "random seed; 0 draws one from the wall clock")
	noiseConc := fs.Float64("noise-conc", 0, "Gaussian noise sigma on the concentrations")
	noiseTemp := fs.Float64("noise-temp", 0, "Gaussian noise sigma on the temperature")
	fs.Parse(args)

	model, err := mf.build()
	if err != nil {
		return err
	}

	cfg := dataset.DefaultGenerateConfig()
	cfg.Samples = *samples
	cfg.Seed = *seed
	cfg.NoiseConc = *noiseConc
	cfg.NoiseTemp = *noiseTemp

	table, err := dataset.Generate(model, cfg)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(*out); err != nil {
		return err
	}

	logger.Info("dataset written", "path", *out, "samples", table.Len(), "model", model.Name())
	return printJSON(table.Stats())
}

func cmdTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	data := fs.String("data", "", "training CSV from gen-data (required)")
	out := fs.String("out", "forward.json", "output weight file")
	hidden := fs.String("hidden", "16,16", "comma-separated hidden layer widths")
	epochs := fs.Int("epochs", 400, "training epochs")
	batch := fs.Int("batch", 32, "minibatch size")
	lr := fs.Float64("lr", 1e-3, "Adam learning rate")
	patience := fs.Int("patience", 40, "early-stopping patience in epochs; 0 disables")
	valFraction := fs.Float64("val", 0.2, "validation holdout fraction")
	seed := fs.Int64("seed", 1, "random seed for init, shuffling and the holdout")
	fs.Parse(args)

	if *data == "" {
		return fmt.Errorf("-data is required")
	}

	table, err := dataset.ReadCSV(*data)
	if err != nil {
		return err
	}
	x, y := table.Tensors()

	widths, err := parseWidths(*hidden)
	if err != nil {
		return err
	}
	sizes := make([]int, 0, len(widths)+2)
	sizes = append(sizes, 2)
	sizes = append(sizes, widths...)
	sizes = append(sizes, 3)

	net, err := neural.New(sizes, neural.ActTanh, utils.NewRandSource(*seed))
	if err != nil {
		return err
	}

	cfg := neural.DefaultConfig()
	cfg.Epochs = *epochs
	cfg.BatchSize = *batch
	cfg.LearningRate = *lr
	cfg.Patience = *patience
	cfg.ValFraction = *valFraction
	cfg.Seed = *seed

	hist, err := neural.Fit(net, x, y, cfg)
	if err != nil {
		return err
	}
	if err := net.Save(*out); err != nil {
		return err
	}

	logger.Info("forward network trained",
		"path", *out, "samples", table.Len(), "best_epoch", hist.BestEpoch, "final_loss", hist.FinalLoss())
	return printJSON(struct {
		Sizes        []int   `json:"sizes"`
		Samples      int     `json:"samples"`
		BestEpoch    int     `json:"best_epoch"`
		FinalLoss    float64 `json:"final_loss"`
		StoppedEarly bool    `json:"stopped_early"`
	}{sizes, table.Len(), hist.BestEpoch, hist.FinalLoss(), hist.Stopped})
}

func parseWidths(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	widths := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		w, err := strconv.Atoi(p)
		if err != nil || w < 1 {
			return nil, fmt.Errorf("invalid hidden width %q", p)
		}
		widths = append(widths, w)
	}
	if len(widths) == 0 {
		return nil, fmt.Errorf("at least one hidden width is required")
	}
	return widths, nil
}

func cmdSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	var mf modelFlags
	mf.register(fs)
	campaignPath := fs.String("config", "", "campaign YAML; flags below override it")
	out := fs.String("out", "", "output CSV path")
	min := fs.Float64("min", 0.25, "lowest target C_b")
	max := fs.Float64("max", 0.48, "highest target C_b")
	count := fs.Int("count", 24, "number of grid targets")
	seed := fs.Int64("seed", 1, "base seed; per-target seeds derive from it")
	parallel := fs.Int("parallel", 4, "concurrent targets; 0 or 1 runs serially")
	fs.Parse(args)

	cam := config.DefaultCampaign()
	if *campaignPath != "" {
		loaded, err := config.LoadCampaign(*campaignPath)
		if err != nil {
			return err
		}
		cam = loaded
	}
	if flagProvided(fs, "min") {
		cam.Min = *min
	}
	if flagProvided(fs, "max") {
		cam.Max = *max
	}
	if flagProvided(fs, "count") {
		cam.Count = *count
	}
	if flagProvided(fs, "seed") {
		cam.Seed = *seed
	}
	if flagProvided(fs, "parallel") {
		cam.Parallelism = *parallel
	}
	if *out != "" {
		cam.Output = *out
	}
	if cam.Output == "" {
		cam.Output = "sweep.csv"
	}

	model, err := mf.build()
	if err != nil {
		return err
	}

	cfg := surrogate.DefaultSweepConfig()
	cfg.Targets = cam.Targets
	cfg.Min = cam.Min
	cfg.Max = cam.Max
	cfg.Count = cam.Count
	cfg.Seed = cam.Seed
	cfg.Parallelism = cam.Parallelism
	cfg.Optimizer = searchOptions(cam.Optimizer)

	started := time.Now()
	var rows []surrogate.Row
	if cfg.Parallelism > 1 {
		rows, err = surrogate.SweepParallel(ctx, model, cfg)
	} else {
		rows, err = surrogate.Sweep(ctx, model, cfg)
	}
	if len(rows) > 0 {
		// Keep partial results on disk even when the sweep aborted.
		if werr := surrogate.WriteTable(cam.Output, rows); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range rows {
		if !r.Ok() {
			failed++
		}
	}
	logger.Info("sweep table written",
		"path", cam.Output,
		"rows", len(rows),
		"failed", failed,
		"elapsed", utils.FormatDuration(time.Since(started)))
	return nil
}

func cmdTrainSurrogate(args []string) error {
	fs := flag.NewFlagSet("train-surrogate", flag.ExitOnError)
	table := fs.String("table", "", "sweep CSV from the sweep command (required)")
	out := fs.String("out", "surrogate.json", "output weight file")
	hidden := fs.Int("hidden", 16, "hidden layer width")
	epochs := fs.Int("epochs", 800, "training epochs")
	seed := fs.Int64("seed", 1, "random seed")
	fs.Parse(args)

	if *table == "" {
		return fmt.Errorf("-table is required")
	}

	rows, err := surrogate.ReadTable(*table)
	if err != nil {
		return err
	}

	cfg := surrogate.DefaultTrainConfig()
	cfg.Hidden = *hidden
	cfg.Neural.Epochs = *epochs
	cfg.Neural.Seed = *seed

	sur, hist, err := surrogate.Train(rows, process.DefaultBounds(), cfg)
	if err != nil {
		return err
	}
	if err := sur.Save(*out); err != nil {
		return err
	}

	return printJSON(struct {
		Rows         int     `json:"rows"`
		Hidden       int     `json:"hidden"`
		BestEpoch    int     `json:"best_epoch"`
		FinalLoss    float64 `json:"final_loss"`
		StoppedEarly bool    `json:"stopped_early"`
	}{len(rows), *hidden, hist.BestEpoch, hist.FinalLoss(), hist.Stopped})
}

func cmdPropose(args []string) error {
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	var mf modelFlags
	mf.register(fs)
	weights := fs.String("surrogate", "surrogate.json", "surrogate weight file")
	target := fs.Float64("target", 0, "target C_b (required)")
	fs.Parse(args)

	if !flagProvided(fs, "target") {
		return fmt.Errorf("-target is required")
	}

	sur, err := surrogate.Load(*weights, process.DefaultBounds())
	if err != nil {
		return err
	}
	sp, err := sur.Propose(*target)
	if err != nil {
		return err
	}

	// Echo the forward model's view of the proposed point.
	model, err := mf.build()
	if err != nil {
		return err
	}
	out, err := model.Predict(sp)
	if err != nil {
		return err
	}

	return printJSON(struct {
		CBRef    float64          `json:"c_b_ref"`
		Setpoint process.Setpoint `json:"setpoint"`
		Outputs  process.Outputs  `json:"outputs"`
	}{*target, sp, out})
}

// traceColumns is the column order of optimize -trace output.
var traceColumns = []string{"evaluation", "f", "q_dot", "cost", "c_b", "t_k"}

func writeTrace(path string, points []setpoint.ProgressPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("couldn't create trace file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(traceColumns); err != nil {
		return err
	}
	for _, pt := range points {
		rec := []string{
			strconv.Itoa(pt.Evaluation),
			formatFloat(pt.Setpoint.F),
			formatFloat(pt.Setpoint.QDot),
			formatFloat(pt.Cost),
			formatFloat(pt.CB),
			formatFloat(pt.TK),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
