package autodiff

import (
	"errors"
	"math"
)

// Adam implements the Adam update rule with bias-corrected moment estimates.
type Adam struct {
	params []*Var
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32

	step int64
	m    [][]float32
	v    [][]float32
}

// NewAdam creates an optimizer over params with the usual defaults
// (beta1=0.9, beta2=0.999, eps=1e-8).
func NewAdam(params []*Var, lr float32) (*Adam, error) {
	if len(params) == 0 {
		return nil, errors.New("autodiff: adam requires at least one parameter")
	}

	if lr <= 0 {
		return nil, errors.New("autodiff: adam learning rate must be > 0")
	}

	a := &Adam{
		params: params,
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		m:      make([][]float32, len(params)),
		v:      make([][]float32, len(params)),
	}

	for i, p := range params {
		if !p.RequiresGrad() {
			return nil, errors.New("autodiff: adam parameter without gradient buffer")
		}

		a.m[i] = make([]float32, len(p.Grad))
		a.v[i] = make([]float32, len(p.Grad))
	}

	return a, nil
}

// ZeroGrad clears all parameter gradients.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one Adam update using the accumulated gradients.
func (a *Adam) Step() {
	a.step++

	bc1 := 1 - float32(math.Pow(float64(a.beta1), float64(a.step)))
	bc2 := 1 - float32(math.Pow(float64(a.beta2), float64(a.step)))

	for i, p := range a.params {
		data := p.Value.RawData()

		m := a.m[i]
		v := a.v[i]

		for j, g := range p.Grad {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			mHat := m[j] / bc1
			vHat := v[j] / bc2

			data[j] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
}

// StepCount returns the number of updates applied so far.
func (a *Adam) StepCount() int64 { return a.step }

// SetLearningRate changes the learning rate for subsequent steps.
func (a *Adam) SetLearningRate(lr float32) {
	if lr > 0 {
		a.lr = lr
	}
}

// State exposes the first and second moment buffers for checkpointing.
// The slices alias the optimizer's internal state.
func (a *Adam) State() (step int64, m, v [][]float32) {
	return a.step, a.m, a.v
}

// RestoreState replaces the optimizer state, e.g. when resuming from a
// checkpoint.  Moment shapes must match the registered parameters.
func (a *Adam) RestoreState(step int64, m, v [][]float32) error {
	if len(m) != len(a.params) || len(v) != len(a.params) {
		return errors.New("autodiff: adam state parameter count mismatch")
	}

	for i, p := range a.params {
		if len(m[i]) != len(p.Grad) || len(v[i]) != len(p.Grad) {
			return errors.New("autodiff: adam state moment size mismatch")
		}
	}

	a.step = step
	a.m = m
	a.v = v

	return nil
}
