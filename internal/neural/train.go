package neural

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// Config holds the training hyperparameters.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	// Patience is the number of epochs without improvement before
	// training stops early. Zero disables early stopping.
	Patience int
	MinDelta float64
	// ValFraction is split off the training set when no explicit
	// validation set is given.
	ValFraction float64
	Seed        int64
}

// DefaultConfig returns the hyperparameters used for the stock reactor
// networks.
func DefaultConfig() Config {
	return Config{
		Epochs:       400,
		BatchSize:    32,
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		Patience:     40,
		MinDelta:     1e-7,
		ValFraction:  0.2,
		Seed:         1,
	}
}

// History records the loss trajectory of one Fit call.
type History struct {
	TrainLoss []float64
	ValLoss   []float64
	BestEpoch int
	// Stopped reports whether early stopping ended training before
	// Epochs were exhausted.
	Stopped bool
}

// FinalLoss returns the monitored loss at the best epoch.
func (h *History) FinalLoss() float64 {
	monitor := h.ValLoss
	if len(monitor) == 0 {
		monitor = h.TrainLoss
	}
	if len(monitor) == 0 {
		return 0
	}
	return floats.Min(monitor)
}

// adamState carries the per-parameter moment estimates.
type adamState struct {
	mW, vW []*mat.Dense
	mB, vB []*mat.VecDense
	step   int
}

func newAdamState(n *Network) *adamState {
	s := &adamState{
		mW: make([]*mat.Dense, len(n.weights)),
		vW: make([]*mat.Dense, len(n.weights)),
		mB: make([]*mat.VecDense, len(n.biases)),
		vB: make([]*mat.VecDense, len(n.biases)),
	}
	for l := range n.weights {
		r, c := n.weights[l].Dims()
		s.mW[l] = mat.NewDense(r, c, nil)
		s.vW[l] = mat.NewDense(r, c, nil)
		s.mB[l] = mat.NewVecDense(r, nil)
		s.vB[l] = mat.NewVecDense(r, nil)
	}
	return s
}

// Fit trains the network in place with Adam on mean squared error and
// returns the loss history. When cfg gives no explicit validation data a
// seeded fraction of x/y is held out for the early-stopping monitor.
func Fit(net *Network, x, y [][]float64, cfg Config) (*History, error) {
	if err := checkData(net, x, y); err != nil {
		return nil, err
	}
	if cfg.Epochs <= 0 {
		return nil, errors.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = len(x)
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	if cfg.Beta1 <= 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 <= 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-8
	}

	rng := utils.NewRandSource(cfg.Seed)

	trainX, trainY, valX, valY := holdout(x, y, cfg.ValFraction, rng)
	if len(trainX) == 0 {
		return nil, errors.New("no training samples left after validation holdout")
	}

	adam := newAdamState(net)
	hist := &History{}
	best := net.Clone()
	bestLoss := mseDataset(net, monitorX(trainX, valX), monitorY(trainY, valY))
	sinceBest := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		order := rng.Perm(len(trainX))
		epochLoss := 0.0
		batches := 0

		for start := 0; start < len(order); start += cfg.BatchSize {
			end := utils.Min(start+cfg.BatchSize, len(order))
			idx := order[start:end]
			epochLoss += trainBatch(net, adam, trainX, trainY, idx, cfg)
			batches++
		}
		epochLoss /= float64(batches)
		hist.TrainLoss = append(hist.TrainLoss, epochLoss)

		monitor := epochLoss
		if len(valX) > 0 {
			valLoss := mseDataset(net, valX, valY)
			hist.ValLoss = append(hist.ValLoss, valLoss)
			monitor = valLoss
		}

		if monitor < bestLoss-cfg.MinDelta {
			bestLoss = monitor
			hist.BestEpoch = epoch
			best.copyFrom(net)
			sinceBest = 0
		} else {
			sinceBest++
			if cfg.Patience > 0 && sinceBest >= cfg.Patience {
				hist.Stopped = true
				logger.Debug("training stopped early",
					"epoch", epoch, "best_epoch", hist.BestEpoch, "best_loss", bestLoss)
				break
			}
		}
	}

	// Restore the best parameters seen by the monitor.
	net.copyFrom(best)
	return hist, nil
}

func checkData(net *Network, x, y [][]float64) error {
	if len(x) == 0 {
		return errors.New("empty training set")
	}
	if len(x) != len(y) {
		return errors.Errorf("sample count mismatch: %d inputs vs %d targets", len(x), len(y))
	}
	for i := range x {
		if len(x[i]) != net.InputDim() {
			return errors.Errorf("sample %d has width %d, network expects %d", i, len(x[i]), net.InputDim())
		}
		if len(y[i]) != net.OutputDim() {
			return errors.Errorf("target %d has width %d, network expects %d", i, len(y[i]), net.OutputDim())
		}
	}
	return nil
}

func holdout(x, y [][]float64, fraction float64, rng *utils.RandSource) (tx, ty, vx, vy [][]float64) {
	if fraction <= 0 || len(x) < 5 {
		return x, y, nil, nil
	}
	nVal := int(float64(len(x)) * fraction)
	if nVal < 1 {
		nVal = 1
	}
	if nVal >= len(x) {
		nVal = len(x) - 1
	}
	order := rng.Perm(len(x))
	for i, idx := range order {
		if i < nVal {
			vx = append(vx, x[idx])
			vy = append(vy, y[idx])
		} else {
			tx = append(tx, x[idx])
			ty = append(ty, y[idx])
		}
	}
	return tx, ty, vx, vy
}

func monitorX(trainX, valX [][]float64) [][]float64 {
	if len(valX) > 0 {
		return valX
	}
	return trainX
}

func monitorY(trainY, valY [][]float64) [][]float64 {
	if len(valY) > 0 {
		return valY
	}
	return trainY
}

// trainBatch accumulates backprop gradients over the batch and applies
// one Adam step. Returns the batch's mean squared error.
func trainBatch(net *Network, adam *adamState, x, y [][]float64, idx []int, cfg Config) float64 {
	gradW := make([]*mat.Dense, len(net.weights))
	gradB := make([]*mat.VecDense, len(net.biases))
	for l := range net.weights {
		r, c := net.weights[l].Dims()
		gradW[l] = mat.NewDense(r, c, nil)
		gradB[l] = mat.NewVecDense(r, nil)
	}

	loss := 0.0
	for _, i := range idx {
		loss += backprop(net, x[i], y[i], gradW, gradB)
	}
	scale := 1.0 / float64(len(idx))
	loss *= scale

	adam.step++
	for l := range net.weights {
		applyAdamDense(net.weights[l], gradW[l], adam.mW[l], adam.vW[l], scale, adam.step, cfg)
		applyAdamVec(net.biases[l], gradB[l], adam.mB[l], adam.vB[l], scale, adam.step, cfg)
	}
	return loss
}

// backprop adds one sample's gradients into gradW/gradB and returns its
// squared-error loss.
func backprop(net *Network, x, y []float64, gradW []*mat.Dense, gradB []*mat.VecDense) float64 {
	acts, zs := net.forwardFull(x)
	out := acts[len(acts)-1]
	outDim := len(out)

	loss := 0.0
	delta := make([]float64, outDim)
	for i := range out {
		diff := out[i] - y[i]
		loss += diff * diff
		delta[i] = 2 * diff / float64(outDim)
	}
	loss /= float64(outDim)

	for l := len(net.weights) - 1; l >= 0; l-- {
		prev := acts[l]
		for i := range delta {
			gradB[l].SetVec(i, gradB[l].AtVec(i)+delta[i])
			for j := range prev {
				gradW[l].Set(i, j, gradW[l].At(i, j)+delta[i]*prev[j])
			}
		}
		if l == 0 {
			break
		}
		next := make([]float64, net.sizes[l])
		for j := 0; j < net.sizes[l]; j++ {
			sum := 0.0
			for i := range delta {
				sum += net.weights[l].At(i, j) * delta[i]
			}
			next[j] = sum * net.activation.prime(zs[l-1][j])
		}
		delta = next
	}
	return loss
}

func applyAdamDense(w, g, m, v *mat.Dense, scale float64, step int, cfg Config) {
	r, c := w.Dims()
	c1 := 1 - math.Pow(cfg.Beta1, float64(step))
	c2 := 1 - math.Pow(cfg.Beta2, float64(step))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			grad := g.At(i, j) * scale
			mi := cfg.Beta1*m.At(i, j) + (1-cfg.Beta1)*grad
			vi := cfg.Beta2*v.At(i, j) + (1-cfg.Beta2)*grad*grad
			m.Set(i, j, mi)
			v.Set(i, j, vi)
			w.Set(i, j, w.At(i, j)-cfg.LearningRate*(mi/c1)/(math.Sqrt(vi/c2)+cfg.Epsilon))
		}
	}
}

func applyAdamVec(b *mat.VecDense, g, m, v *mat.VecDense, scale float64, step int, cfg Config) {
	c1 := 1 - math.Pow(cfg.Beta1, float64(step))
	c2 := 1 - math.Pow(cfg.Beta2, float64(step))
	for i := 0; i < b.Len(); i++ {
		grad := g.AtVec(i) * scale
		mi := cfg.Beta1*m.AtVec(i) + (1-cfg.Beta1)*grad
		vi := cfg.Beta2*v.AtVec(i) + (1-cfg.Beta2)*grad*grad
		m.SetVec(i, mi)
		v.SetVec(i, vi)
		b.SetVec(i, b.AtVec(i)-cfg.LearningRate*(mi/c1)/(math.Sqrt(vi/c2)+cfg.Epsilon))
	}
}

// mseDataset is the mean over samples of the per-sample MSE.
func mseDataset(net *Network, x, y [][]float64) float64 {
	if len(x) == 0 {
		return 0
	}
	total := 0.0
	for i := range x {
		out, _ := net.Forward(x[i])
		sampleLoss := 0.0
		for j := range out {
			diff := out[j] - y[i][j]
			sampleLoss += diff * diff
		}
		total += sampleLoss / float64(len(out))
	}
	return total / float64(len(x))
}
