package autodiff

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// Add returns a + b for tensors of identical shape.
func Add(t *Tape, a, b *Var) (*Var, error) {
	if a == nil || b == nil {
		return nil, errors.New("autodiff: add requires non-nil inputs")
	}

	if !tensor.EqualShape(a.Value.Shape(), b.Value.Shape()) {
		return nil, fmt.Errorf("autodiff: add shape mismatch %v vs %v", a.Value.Shape(), b.Value.Shape())
	}

	val := a.Value.Clone()
	vd := val.RawData()

	bd := b.Value.RawData()
	for i := range vd {
		vd[i] += bd[i]
	}

	out := result(t, val, a, b)
	if out.RequiresGrad() {
		t.Record(func() {
			if a.RequiresGrad() {
				for i := range out.Grad {
					a.Grad[i] += out.Grad[i]
				}
			}

			if b.RequiresGrad() {
				for i := range out.Grad {
					b.Grad[i] += out.Grad[i]
				}
			}
		})
	}

	return out, nil
}

// Mul returns a * b elementwise for tensors of identical shape.
func Mul(t *Tape, a, b *Var) (*Var, error) {
	if a == nil || b == nil {
		return nil, errors.New("autodiff: mul requires non-nil inputs")
	}

	if !tensor.EqualShape(a.Value.Shape(), b.Value.Shape()) {
		return nil, fmt.Errorf("autodiff: mul shape mismatch %v vs %v", a.Value.Shape(), b.Value.Shape())
	}

	val := a.Value.Clone()
	vd := val.RawData()

	bd := b.Value.RawData()
	for i := range vd {
		vd[i] *= bd[i]
	}

	out := result(t, val, a, b)
	if out.RequiresGrad() {
		ad := a.Value.RawData()

		t.Record(func() {
			if a.RequiresGrad() {
				for i := range out.Grad {
					a.Grad[i] += out.Grad[i] * bd[i]
				}
			}

			if b.RequiresGrad() {
				for i := range out.Grad {
					b.Grad[i] += out.Grad[i] * ad[i]
				}
			}
		})
	}

	return out, nil
}

// Scale returns x * s for a scalar constant s.
func Scale(t *Tape, x *Var, s float32) (*Var, error) {
	if x == nil {
		return nil, errors.New("autodiff: scale requires non-nil input")
	}

	val := x.Value.Clone()

	vd := val.RawData()
	for i := range vd {
		vd[i] *= s
	}

	out := result(t, val, x)
	if out.RequiresGrad() {
		t.Record(func() {
			for i := range out.Grad {
				x.Grad[i] += out.Grad[i] * s
			}
		})
	}

	return out, nil
}

// Tanh applies tanh elementwise.
func Tanh(t *Tape, x *Var) (*Var, error) {
	if x == nil {
		return nil, errors.New("autodiff: tanh requires non-nil input")
	}

	val := x.Value.Clone()

	vd := val.RawData()
	for i, v := range vd {
		vd[i] = float32(math.Tanh(float64(v)))
	}

	out := result(t, val, x)
	if out.RequiresGrad() {
		t.Record(func() {
			for i := range out.Grad {
				y := vd[i]
				x.Grad[i] += out.Grad[i] * (1 - y*y)
			}
		})
	}

	return out, nil
}

// Sigmoid applies the logistic function elementwise.
func Sigmoid(t *Tape, x *Var) (*Var, error) {
	if x == nil {
		return nil, errors.New("autodiff: sigmoid requires non-nil input")
	}

	val := x.Value.Clone()

	vd := val.RawData()
	for i, v := range vd {
		vd[i] = float32(1 / (1 + math.Exp(float64(-v))))
	}

	out := result(t, val, x)
	if out.RequiresGrad() {
		t.Record(func() {
			for i := range out.Grad {
				y := vd[i]
				x.Grad[i] += out.Grad[i] * y * (1 - y)
			}
		})
	}

	return out, nil
}

// ReLU applies max(0, x) elementwise.
func ReLU(t *Tape, x *Var) (*Var, error) {
	if x == nil {
		return nil, errors.New("autodiff: relu requires non-nil input")
	}

	val := x.Value.Clone()

	vd := val.RawData()
	for i, v := range vd {
		if v < 0 {
			vd[i] = 0
		}
	}

	out := result(t, val, x)
	if out.RequiresGrad() {
		xd := x.Value.RawData()

		t.Record(func() {
			for i := range out.Grad {
				if xd[i] > 0 {
					x.Grad[i] += out.Grad[i]
				}
			}
		})
	}

	return out, nil
}

// Narrow slices x along dim; gradients scatter back into the slice range.
func Narrow(t *Tape, x *Var, dim int, start, length int64) (*Var, error) {
	if x == nil {
		return nil, errors.New("autodiff: narrow requires non-nil input")
	}

	val, err := x.Value.Narrow(dim, start, length)
	if err != nil {
		return nil, err
	}

	out := result(t, val, x)
	if out.RequiresGrad() {
		shape := x.Value.Shape()
		rank := len(shape)

		d := dim
		if d < 0 {
			d += rank
		}

		inner := int64(1)
		for i := d + 1; i < rank; i++ {
			inner *= shape[i]
		}

		outer := int64(1)
		for i := range d {
			outer *= shape[i]
		}

		srcDim := shape[d]

		t.Record(func() {
			for o := range outer {
				srcBase := (o*srcDim + start) * inner
				dstBase := o * length * inner

				span := length * inner
				for i := range span {
					x.Grad[srcBase+i] += out.Grad[dstBase+i]
				}
			}
		})
	}

	return out, nil
}

// ExpandTime broadcasts a [batch, channels] tensor to [batch, channels, steps];
// gradients sum over the time axis.
func ExpandTime(t *Tape, x *Var, steps int64) (*Var, error) {
	if x == nil {
		return nil, errors.New("autodiff: expandTime requires non-nil input")
	}

	shape := x.Value.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("autodiff: expandTime expects [batch, channels], got %v", shape)
	}

	if steps <= 0 {
		return nil, fmt.Errorf("autodiff: expandTime steps must be > 0, got %d", steps)
	}

	b, c := shape[0], shape[1]

	val, err := tensor.Zeros([]int64{b, c, steps})
	if err != nil {
		return nil, err
	}

	xd := x.Value.RawData()
	vd := val.RawData()

	stepsI := int(steps)
	for i, v := range xd {
		base := i * stepsI
		for s := range stepsI {
			vd[base+s] = v
		}
	}

	out := result(t, val, x)
	if out.RequiresGrad() {
		t.Record(func() {
			for i := range x.Grad {
				base := i * stepsI

				var sum float32
				for s := range stepsI {
					sum += out.Grad[base+s]
				}

				x.Grad[i] += sum
			}
		})
	}

	return out, nil
}

// EmbedRows gathers rows of a [rows, dim] table; gradients scatter-add back
// into the selected rows.
func EmbedRows(t *Tape, table *Var, ids []int64) (*Var, error) {
	if table == nil {
		return nil, errors.New("autodiff: embedRows requires non-nil table")
	}

	shape := table.Value.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("autodiff: embedRows table must be rank-2, got %v", shape)
	}

	val, err := table.Value.Gather(0, ids)
	if err != nil {
		return nil, err
	}

	out := result(t, val, table)
	if out.RequiresGrad() {
		dim := int(shape[1])

		t.Record(func() {
			for r, id := range ids {
				src := r * dim
				dst := int(id) * dim

				for j := range dim {
					table.Grad[dst+j] += out.Grad[src+j]
				}
			}
		})
	}

	return out, nil
}
