package safetensors

import (
	"fmt"
)

// LoadConditioning reads acoustic feature frames from a safetensors file and
// normalizes them to 3D shape [batch, channels, frames].  A 2D tensor
// [channels, frames] becomes [1, channels, frames].  The tensor named "mel"
// is preferred; otherwise the first tensor is used.
func LoadConditioning(path string) ([]float32, []int64, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	name := store.Names()[0]
	if store.Has("mel") {
		name = "mel"
	}

	t, err := store.Tensor(name)
	if err != nil {
		return nil, nil, err
	}

	switch len(t.Shape) {
	case 2:
		return t.Data, []int64{1, t.Shape[0], t.Shape[1]}, nil
	case 3:
		return t.Data, t.Shape, nil
	default:
		return nil, nil, fmt.Errorf("safetensors: conditioning tensor %q has %dD shape %v, expected 2D or 3D", name, len(t.Shape), t.Shape)
	}
}
