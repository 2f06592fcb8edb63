package vocoder

import (
	"fmt"

	"github.com/example/go-wavenet-vocoder/internal/safetensors"
)

// SaveCheckpoint persists the model parameters, and when tr is non-nil the
// Adam moments and iteration counter, as one safetensors file.
func SaveCheckpoint(path string, m *Model, tr *Trainer) error {
	var tensors []safetensors.Tensor

	named := m.NamedParams()
	for _, p := range named {
		tensors = append(tensors, safetensors.Tensor{
			Name:  p.name,
			Shape: p.v.Value.Shape(),
			Data:  p.v.Value.Data(),
		})
	}

	if tr != nil {
		step, mom1, mom2 := tr.opt.State()

		tensors = append(tensors, safetensors.Tensor{
			Name:  "optim.state",
			Shape: []int64{2},
			Data:  []float32{float32(step), float32(tr.iteration)},
		})

		for i, p := range named {
			shape := p.v.Value.Shape()
			tensors = append(tensors,
				safetensors.Tensor{Name: "optim.m." + p.name, Shape: shape, Data: append([]float32(nil), mom1[i]...)},
				safetensors.Tensor{Name: "optim.v." + p.name, Shape: shape, Data: append([]float32(nil), mom2[i]...)},
			)
		}
	}

	return safetensors.WriteFile(path, tensors)
}

// LoadCheckpoint restores model parameters from a checkpoint, and when tr is
// non-nil also the Adam moments and iteration counter if the file carries
// them.
func LoadCheckpoint(path string, m *Model, tr *Trainer) error {
	store, err := safetensors.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	named := m.NamedParams()

	for _, p := range named {
		t, err := store.TensorWithShape(p.name, p.v.Value.Shape())
		if err != nil {
			return fmt.Errorf("vocoder: load checkpoint: %w", err)
		}

		copy(p.v.Value.RawData(), t.Data)
	}

	if tr == nil || !store.Has("optim.state") {
		return nil
	}

	state, err := store.TensorWithShape("optim.state", []int64{2})
	if err != nil {
		return fmt.Errorf("vocoder: load optimizer state: %w", err)
	}

	mom1 := make([][]float32, len(named))
	mom2 := make([][]float32, len(named))

	for i, p := range named {
		shape := p.v.Value.Shape()

		m1, err := store.TensorWithShape("optim.m."+p.name, shape)
		if err != nil {
			return fmt.Errorf("vocoder: load optimizer state: %w", err)
		}

		m2, err := store.TensorWithShape("optim.v."+p.name, shape)
		if err != nil {
			return fmt.Errorf("vocoder: load optimizer state: %w", err)
		}

		mom1[i] = m1.Data
		mom2[i] = m2.Data
	}

	if err := tr.opt.RestoreState(int64(state.Data[0]), mom1, mom2); err != nil {
		return fmt.Errorf("vocoder: load optimizer state: %w", err)
	}

	tr.iteration = int64(state.Data[1])

	return nil
}
