// Package autodiff provides tape-based reverse-mode differentiation over the
// small set of operations the vocoder uses.  Forward values are computed by
// the same ops kernels the inference path uses, so training and inference
// share one numerical implementation.
//
// A nil *Tape disables recording: all operations still compute forward
// values, which is how the inference path reuses the same code.
package autodiff

import (
	"errors"
	"fmt"

	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// Var couples a tensor value with an optional gradient accumulator.
// Grad is non-nil exactly when the variable participates in backprop.
type Var struct {
	Value *tensor.Tensor
	Grad  []float32
}

// NewVar wraps a tensor as a constant (no gradient).
func NewVar(t *tensor.Tensor) *Var {
	return &Var{Value: t}
}

// NewParam wraps a tensor as a trainable parameter with a gradient buffer.
func NewParam(t *tensor.Tensor) *Var {
	return &Var{Value: t, Grad: make([]float32, t.ElemCount())}
}

// RequiresGrad reports whether gradients flow into this variable.
func (v *Var) RequiresGrad() bool {
	return v != nil && v.Grad != nil
}

// ZeroGrad clears the accumulated gradient.
func (v *Var) ZeroGrad() {
	if v == nil {
		return
	}

	for i := range v.Grad {
		v.Grad[i] = 0
	}
}

// Tape records backward closures in execution order.
type Tape struct {
	nodes []func()
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{}
}

// Record appends a backward closure.  Safe to call on a nil tape (no-op),
// which is how inference-only callers skip recording.
func (t *Tape) Record(backward func()) {
	if t == nil || backward == nil {
		return
	}

	t.nodes = append(t.nodes, backward)
}

// Backward seeds the scalar loss gradient with 1 and runs all recorded
// closures in reverse order.
func (t *Tape) Backward(loss *Var) error {
	if t == nil {
		return errors.New("autodiff: backward on nil tape")
	}

	if !loss.RequiresGrad() {
		return errors.New("autodiff: loss does not require grad")
	}

	if len(loss.Grad) != 1 {
		return fmt.Errorf("autodiff: loss must be scalar, has %d elements", len(loss.Grad))
	}

	loss.Grad[0] = 1

	for i := len(t.nodes) - 1; i >= 0; i-- {
		t.nodes[i]()
	}

	return nil
}

// Len returns the number of recorded nodes.
func (t *Tape) Len() int {
	if t == nil {
		return 0
	}

	return len(t.nodes)
}

// result wraps an op output: the gradient buffer is allocated only when the
// tape is live and at least one input requires grad.
func result(t *Tape, value *tensor.Tensor, inputs ...*Var) *Var {
	if t == nil {
		return &Var{Value: value}
	}

	for _, in := range inputs {
		if in.RequiresGrad() {
			return NewParam(value)
		}
	}

	return &Var{Value: value}
}
