package surrogate

import (
	"math"
	"os"
	"testing"

	"github.com/reactorlab/setpoint-core/internal/neural"
	"github.com/reactorlab/setpoint-core/internal/reactor"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// constantNet builds a 1-in 2-out single-layer network that always
// emits the given scaled outputs.
func constantNet(t *testing.T, fs, qs float64) *neural.Network {
	t.Helper()
	net, err := neural.New([]int{1, 2}, neural.ActTanh, utils.NewRandSource(1))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := net.SetLayer(0, [][]float64{{0}, {0}}, []float64{fs, qs}); err != nil {
		t.Fatalf("SetLayer() error: %v", err)
	}
	return net
}

// analyticTable samples the fixed-cooling slice of the plant, giving a
// smooth, exactly realizable inverse training set.
func analyticTable(t *testing.T, n int) []Row {
	t.Helper()
	model := reactor.NewCSTR()
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		f := 5.0 + float64(i)*95.0/float64(n-1)
		out, err := model.Predict(process.Setpoint{F: f, QDot: -2500})
		if err != nil {
			t.Fatalf("Predict(F=%v) error: %v", f, err)
		}
		rows = append(rows, Row{
			CBRef:       out.CB,
			F:           f,
			QDot:        -2500,
			CB:          out.CB,
			TK:          out.TK,
			Evaluations: 1,
		})
	}
	return rows
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, process.DefaultBounds()); err == nil {
		t.Error("nil network accepted")
	}

	wrongShape, err := neural.New([]int{2, 3}, neural.ActTanh, utils.NewRandSource(1))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := New(wrongShape, process.DefaultBounds()); err == nil {
		t.Error("2-in 3-out network accepted")
	}

	if _, err := New(constantNet(t, 0, 0), process.Bounds{FMin: 10, FMax: 5, QDotMin: -1, QDotMax: 0}); err == nil {
		t.Error("inverted bounds accepted")
	}
}

func TestProposeClampsIntoBox(t *testing.T) {
	bounds := process.DefaultBounds()
	sur, err := New(constantNet(t, 10, -10), bounds)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	sp, err := sur.Propose(0.4)
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	want := process.Setpoint{F: bounds.FMax, QDot: bounds.QDotMin}
	if sp != want {
		t.Errorf("Propose() = %+v, want clamped corner %+v", sp, want)
	}
}

func TestProposeRejectsBadTarget(t *testing.T) {
	sur, err := New(constantNet(t, 0.5, 0.5), process.DefaultBounds())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for _, ref := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := sur.Propose(ref); err == nil {
			t.Errorf("Propose(%v) did not fail", ref)
		}
	}
}

func TestTrainValidation(t *testing.T) {
	rows := analyticTable(t, 12)

	cfg := DefaultTrainConfig()
	cfg.Hidden = 0
	if _, _, err := Train(rows, process.DefaultBounds(), cfg); err == nil {
		t.Error("zero hidden width accepted")
	}

	if _, _, err := Train(rows[:3], process.DefaultBounds(), DefaultTrainConfig()); err == nil {
		t.Error("three-row table accepted")
	}

	failed := make([]Row, 10)
	for i := range failed {
		failed[i] = Row{CBRef: 0.3, Error: "synthetic solver failure"}
	}
	if _, _, err := Train(failed, process.DefaultBounds(), DefaultTrainConfig()); err == nil {
		t.Error("table of failed rows accepted")
	}
}

func TestTrainProposeRoundTrip(t *testing.T) {
	rows := analyticTable(t, 48)

	cfg := DefaultTrainConfig()
	cfg.Neural.Epochs = 1200
	cfg.Neural.LearningRate = 5e-3

	sur, hist, err := Train(rows, process.DefaultBounds(), cfg)
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if hist.FinalLoss() > 5e-3 {
		t.Fatalf("training stalled at loss %v", hist.FinalLoss())
	}

	model := reactor.NewCSTR()
	for _, ref := range []float64{0.25, 0.30, 0.35, 0.40, 0.45, 0.48} {
		sp, err := sur.Propose(ref)
		if err != nil {
			t.Fatalf("Propose(%v) error: %v", ref, err)
		}
		if !sur.Bounds().Contains(sp) {
			t.Fatalf("Propose(%v) outside box: %+v", ref, sp)
		}
		out, err := model.Predict(sp)
		if err != nil {
			t.Fatalf("Predict() error: %v", err)
		}
		if math.Abs(out.CB-ref) > 5e-2 {
			t.Errorf("round trip for %v reached C_b %v", ref, out.CB)
		}
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	rows := analyticTable(t, 24)
	cfg := DefaultTrainConfig()
	cfg.Neural.Epochs = 50

	s1, _, err := Train(rows, process.DefaultBounds(), cfg)
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	s2, _, err := Train(rows, process.DefaultBounds(), cfg)
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	p1, err := s1.Propose(0.4)
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	p2, err := s2.Propose(0.4)
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	if p1 != p2 {
		t.Errorf("same config trained different surrogates: %+v vs %+v", p1, p2)
	}
}

func TestSurrogateSaveLoad(t *testing.T) {
	sur, err := New(constantNet(t, 0.25, 0.75), process.DefaultBounds())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	path := t.TempDir() + "/surrogate.json"
	if err := sur.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(path, process.DefaultBounds())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want, err := sur.Propose(0.4)
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	got, err := loaded.Propose(0.4)
	if err != nil {
		t.Fatalf("Propose() after load error: %v", err)
	}
	if got != want {
		t.Errorf("loaded surrogate proposes %+v, original %+v", got, want)
	}

	if _, err := Load(t.TempDir()+"/missing.json", process.DefaultBounds()); err == nil {
		t.Error("missing weights file did not fail")
	}
}
