// Package neural implements the small dense feed-forward regressors used
// for the forward process model and the inverse surrogate. Networks
// operate purely on normalized values; unit handling lives in the
// adapters that wrap them.
package neural

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// Activation selects the hidden-layer nonlinearity. The output layer is
// always linear.
type Activation string

const (
	ActTanh Activation = "tanh"
	ActReLU Activation = "relu"
)

func (a Activation) valid() bool {
	return a == ActTanh || a == ActReLU
}

func (a Activation) apply(z float64) float64 {
	switch a {
	case ActReLU:
		if z > 0 {
			return z
		}
		return 0
	default:
		return math.Tanh(z)
	}
}

// derivative in terms of the pre-activation z
func (a Activation) prime(z float64) float64 {
	switch a {
	case ActReLU:
		if z > 0 {
			return 1
		}
		return 0
	default:
		t := math.Tanh(z)
		return 1 - t*t
	}
}

// Network is a fully connected feed-forward network. Weights for layer l
// are stored as a (sizes[l+1] x sizes[l]) matrix.
type Network struct {
	sizes      []int
	activation Activation
	weights    []*mat.Dense
	biases     []*mat.VecDense
}

// New creates a network with Xavier-uniform initial weights drawn from
// the given source.
func New(sizes []int, act Activation, rng *utils.RandSource) (*Network, error) {
	if len(sizes) < 2 {
		return nil, errors.Errorf("network needs at least input and output layers, got %v", sizes)
	}
	for _, s := range sizes {
		if s < 1 {
			return nil, errors.Errorf("invalid layer size in %v", sizes)
		}
	}
	if !act.valid() {
		return nil, errors.Errorf("unknown activation %q", act)
	}
	if rng == nil {
		rng = utils.NewRandSource(0)
	}

	n := &Network{
		sizes:      append([]int(nil), sizes...),
		activation: act,
		weights:    make([]*mat.Dense, len(sizes)-1),
		biases:     make([]*mat.VecDense, len(sizes)-1),
	}

	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		w := mat.NewDense(out, in, nil)
		for i := 0; i < out; i++ {
			for j := 0; j < in; j++ {
				w.Set(i, j, rng.UniformFloat64(-limit, limit))
			}
		}
		n.weights[l] = w
		n.biases[l] = mat.NewVecDense(out, nil)
	}

	return n, nil
}

// InputDim returns the expected input width.
func (n *Network) InputDim() int {
	return n.sizes[0]
}

// OutputDim returns the output width.
func (n *Network) OutputDim() int {
	return n.sizes[len(n.sizes)-1]
}

// Sizes returns a copy of the layer sizes.
func (n *Network) Sizes() []int {
	return append([]int(nil), n.sizes...)
}

// Forward runs one sample through the network.
func (n *Network) Forward(x []float64) ([]float64, error) {
	if len(x) != n.InputDim() {
		return nil, errors.Errorf("input width %d, network expects %d", len(x), n.InputDim())
	}
	acts, _ := n.forwardFull(x)
	out := acts[len(acts)-1]
	return append([]float64(nil), out...), nil
}

// forwardFull returns the activations and pre-activations of every layer.
// acts[0] is the input itself; zs[l] pairs with acts[l+1].
func (n *Network) forwardFull(x []float64) (acts [][]float64, zs [][]float64) {
	acts = make([][]float64, len(n.sizes))
	zs = make([][]float64, len(n.weights))
	acts[0] = append([]float64(nil), x...)

	v := mat.NewVecDense(len(x), acts[0])
	for l := range n.weights {
		out := n.sizes[l+1]
		z := mat.NewVecDense(out, nil)
		z.MulVec(n.weights[l], v)
		z.AddVec(z, n.biases[l])

		zRaw := append([]float64(nil), z.RawVector().Data...)
		zs[l] = zRaw

		a := make([]float64, out)
		last := l == len(n.weights)-1
		for i, zi := range zRaw {
			if last {
				a[i] = zi
			} else {
				a[i] = n.activation.apply(zi)
			}
		}
		acts[l+1] = a
		v = mat.NewVecDense(out, a)
	}
	return acts, zs
}

// Clone returns a deep copy of the network.
func (n *Network) Clone() *Network {
	c := &Network{
		sizes:      append([]int(nil), n.sizes...),
		activation: n.activation,
		weights:    make([]*mat.Dense, len(n.weights)),
		biases:     make([]*mat.VecDense, len(n.biases)),
	}
	for l := range n.weights {
		c.weights[l] = mat.DenseCopyOf(n.weights[l])
		c.biases[l] = mat.VecDenseCopyOf(n.biases[l])
	}
	return c
}

// copyFrom overwrites this network's parameters with src's. Shapes must
// already match.
func (n *Network) copyFrom(src *Network) {
	for l := range n.weights {
		n.weights[l].Copy(src.weights[l])
		n.biases[l].CopyVec(src.biases[l])
	}
}

// SetLayer overwrites one layer's parameters. Used by tests and by the
// weight file loader; rows must equal sizes[l+1] and cols sizes[l].
func (n *Network) SetLayer(l int, weights [][]float64, bias []float64) error {
	if l < 0 || l >= len(n.weights) {
		return errors.Errorf("layer %d out of range", l)
	}
	out, in := n.sizes[l+1], n.sizes[l]
	if len(weights) != out || len(bias) != out {
		return errors.Errorf("layer %d expects %d rows, got %d weight rows and %d biases",
			l, out, len(weights), len(bias))
	}
	for i, row := range weights {
		if len(row) != in {
			return errors.Errorf("layer %d row %d expects %d cols, got %d", l, i, in, len(row))
		}
		for j, w := range row {
			n.weights[l].Set(i, j, w)
		}
		n.biases[l].SetVec(i, bias[i])
	}
	return nil
}
