package neural

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// weightFile is the on-disk JSON form of a network.
type weightFile struct {
	Sizes      []int         `json:"sizes"`
	Activation Activation    `json:"activation"`
	Weights    [][][]float64 `json:"weights"`
	Biases     [][]float64   `json:"biases"`
}

// Save writes the network to path as indented JSON, creating parent
// directories as needed.
func (n *Network) Save(path string) error {
	wf := weightFile{
		Sizes:      n.Sizes(),
		Activation: n.activation,
		Weights:    make([][][]float64, len(n.weights)),
		Biases:     make([][]float64, len(n.biases)),
	}
	for l := range n.weights {
		out, in := n.weights[l].Dims()
		rows := make([][]float64, out)
		for i := 0; i < out; i++ {
			row := make([]float64, in)
			for j := 0; j < in; j++ {
				row[j] = n.weights[l].At(i, j)
			}
			rows[i] = row
		}
		wf.Weights[l] = rows

		bias := make([]float64, out)
		for i := 0; i < out; i++ {
			bias[i] = n.biases[l].AtVec(i)
		}
		wf.Biases[l] = bias
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "couldn't create directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "couldn't create weight file %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(wf); err != nil {
		return errors.Wrapf(err, "couldn't encode network to %s", path)
	}
	return nil
}

// Load reads a network from a weight file written by Save.
func Load(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open weight file %s", path)
	}
	defer f.Close()

	var wf weightFile
	if err := json.NewDecoder(f).Decode(&wf); err != nil {
		return nil, errors.Wrapf(err, "couldn't decode weight file %s", path)
	}

	net, err := New(wf.Sizes, wf.Activation, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "weight file %s has an invalid architecture", path)
	}
	if len(wf.Weights) != len(net.weights) || len(wf.Biases) != len(net.biases) {
		return nil, errors.Errorf("weight file %s has %d weight layers and %d bias layers, architecture %v needs %d",
			path, len(wf.Weights), len(wf.Biases), wf.Sizes, len(net.weights))
	}
	for l := range wf.Weights {
		if err := net.SetLayer(l, wf.Weights[l], wf.Biases[l]); err != nil {
			return nil, errors.Wrapf(err, "weight file %s layer %d", path, l)
		}
	}
	return net, nil
}
