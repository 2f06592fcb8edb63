package vocoder

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// logScaleMin floors mixture log-scales so likelihoods never hit -Inf.
// Gradients with respect to a floored log-scale are zero.
const logScaleMin = -32.23619130191664 // log(1e-14)

// Criterion computes a scalar loss over distribution parameters
// [batch, channels, T] against a target [batch, T].  For the categorical
// family the target holds quantization labels; for the mixtures it holds
// amplitudes in [-1, 1].
//
// The backward pass is fused: each implementation writes analytic gradients
// straight into the logits instead of taping the likelihood element-wise.
type Criterion interface {
	Loss(tape *autodiff.Tape, logits *autodiff.Var, target *tensor.Tensor) (*autodiff.Var, error)
}

// NewCriterion selects the loss for the configured encoding/distribution.
func NewCriterion(cfg Config) (Criterion, error) {
	if cfg.InputType == InputMuLawQuantize {
		return &CrossEntropyLoss{Classes: cfg.QuantizeChannels}, nil
	}

	k := cfg.OutChannels / 3

	switch cfg.OutputDistribution {
	case DistLogistic:
		return &MixtureLogisticLoss{Components: k, NumClasses: cfg.QuantizeChannels}, nil
	case DistNormal:
		return &MixtureGaussianLoss{Components: k}, nil
	default:
		return nil, fmt.Errorf("vocoder: unsupported output_distribution %q", cfg.OutputDistribution)
	}
}

// checkLossShapes validates [batch, channels, T] logits against [batch, T]
// targets and returns (batch, T).
func checkLossShapes(logits *autodiff.Var, target *tensor.Tensor, wantChannels int64) (int64, int64, error) {
	if logits == nil || target == nil {
		return 0, 0, errors.New("vocoder: loss requires non-nil logits and target")
	}

	lShape := logits.Value.Shape()

	tShape := target.Shape()
	if len(lShape) != 3 || len(tShape) != 2 {
		return 0, 0, fmt.Errorf("vocoder: loss expects logits [batch, channels, T] and target [batch, T], got %v and %v", lShape, tShape)
	}

	if lShape[1] != wantChannels {
		return 0, 0, fmt.Errorf("vocoder: loss expects %d parameter channels, got %d", wantChannels, lShape[1])
	}

	if lShape[0] != tShape[0] || lShape[2] != tShape[1] {
		return 0, 0, fmt.Errorf("vocoder: logits %v and target %v disagree on batch/time", lShape, tShape)
	}

	return lShape[0], lShape[2], nil
}

// scalarLoss wraps a computed mean loss as a scalar Var and records the
// fused backward closure.
func scalarLoss(tape *autodiff.Tape, mean float64, logits *autodiff.Var, backward func(upstream float32)) (*autodiff.Var, error) {
	val, err := tensor.New([]float32{float32(mean)}, []int64{1})
	if err != nil {
		return nil, err
	}

	out := newResult(tape, val, logits.RequiresGrad())
	if out.RequiresGrad() {
		tape.Record(func() {
			backward(out.Grad[0])
		})
	}

	return out, nil
}

// CrossEntropyLoss is the categorical negative log-likelihood, averaged over
// batch and time.
type CrossEntropyLoss struct {
	Classes int64
}

func (l *CrossEntropyLoss) Loss(tape *autodiff.Tape, logits *autodiff.Var, target *tensor.Tensor) (*autodiff.Var, error) {
	batch, steps, err := checkLossShapes(logits, target, l.Classes)
	if err != nil {
		return nil, err
	}

	ld := logits.Value.RawData()
	td := target.RawData()

	n := float64(batch * steps)
	classes := l.Classes

	// softmax probabilities, kept for the backward pass
	probs := make([]float64, batch*classes*steps)
	labels := make([]int64, batch*steps)

	var total float64

	for b := range batch {
		for t := range steps {
			label := int64(td[b*steps+t])
			if label < 0 || label >= classes {
				return nil, fmt.Errorf("vocoder: target label %d out of range [0, %d)", label, classes)
			}

			labels[b*steps+t] = label

			maxV := math.Inf(-1)

			for c := range classes {
				v := float64(ld[(b*classes+c)*steps+t])
				if v > maxV {
					maxV = v
				}
			}

			var sum float64

			for c := range classes {
				e := math.Exp(float64(ld[(b*classes+c)*steps+t]) - maxV)
				probs[(b*classes+c)*steps+t] = e
				sum += e
			}

			for c := range classes {
				probs[(b*classes+c)*steps+t] /= sum
			}

			total -= math.Log(probs[(b*classes+label)*steps+t])
		}
	}

	return scalarLoss(tape, total/n, logits, func(upstream float32) {
		scale := float64(upstream) / n

		for b := range batch {
			for t := range steps {
				label := labels[b*steps+t]

				for c := range classes {
					g := probs[(b*classes+c)*steps+t]
					if c == label {
						g -= 1
					}

					logits.Grad[(b*classes+c)*steps+t] += float32(g * scale)
				}
			}
		}
	})
}

// MixtureLogisticLoss is the discretized mixture-of-logistics negative
// log-likelihood over [-1, 1] amplitudes quantized to NumClasses bins.
type MixtureLogisticLoss struct {
	Components int64
	NumClasses int64
}

func (l *MixtureLogisticLoss) Loss(tape *autodiff.Tape, logits *autodiff.Var, target *tensor.Tensor) (*autodiff.Var, error) {
	batch, steps, err := checkLossShapes(logits, target, 3*l.Components)
	if err != nil {
		return nil, err
	}

	ld := logits.Value.RawData()
	td := target.RawData()

	k := l.Components
	n := float64(batch * steps)
	halfWidth := 1 / float64(l.NumClasses-1)

	type compGrad struct {
		resp   float64 // responsibility
		weight float64 // softmax of mixture logits
		dMean  float64 // d log_prob / d mean
		dScale float64 // d log_prob / d log_scale (0 when floored)
	}

	grads := make([]compGrad, batch*k*steps)

	var total float64

	for b := range batch {
		for t := range steps {
			y := float64(td[b*steps+t])

			at := func(c int64) int64 { return (b*3*k+c)*steps + t }

			// log-softmax over the K mixture logits
			maxL := math.Inf(-1)

			for c := range k {
				v := float64(ld[at(c)])
				if v > maxL {
					maxL = v
				}
			}

			var sumExp float64
			for c := range k {
				sumExp += math.Exp(float64(ld[at(c)]) - maxL)
			}

			logNorm := maxL + math.Log(sumExp)

			// per-component joint log p(component, y)
			joint := make([]float64, k)
			maxJ := math.Inf(-1)

			for c := range k {
				mean := float64(ld[at(k+c)])
				rawScale := float64(ld[at(2*k+c)])

				logScale := rawScale
				floored := false

				if logScale < logScaleMin {
					logScale = logScaleMin
					floored = true
				}

				inv := math.Exp(-logScale)
				centered := y - mean
				plus := inv * (centered + halfWidth)
				minus := inv * (centered - halfWidth)
				mid := inv * centered

				cdfDelta := sigmoid(plus) - sigmoid(minus)

				var logProb, dMean, dScale float64

				switch {
				case y < -0.999:
					logProb = plus - softplus(plus)
					dMean = -(1 - sigmoid(plus)) * inv
					dScale = -(1 - sigmoid(plus)) * plus
				case y > 0.999:
					logProb = -softplus(minus)
					dMean = sigmoid(minus) * inv
					dScale = sigmoid(minus) * minus
				case cdfDelta > 1e-5:
					logProb = math.Log(cdfDelta)
					dMean = -inv * (sigmoidPrime(plus) - sigmoidPrime(minus)) / cdfDelta
					dScale = (-sigmoidPrime(plus)*plus + sigmoidPrime(minus)*minus) / cdfDelta
				default:
					// pdf approximation times bin width
					logProb = mid - logScale - 2*softplus(mid) - math.Log(1/(2*halfWidth))
					dMean = -(1 - 2*sigmoid(mid)) * inv
					dScale = -(1-2*sigmoid(mid))*mid - 1
				}

				if floored {
					dScale = 0
				}

				g := &grads[(b*k+c)*steps+t]
				g.weight = math.Exp(float64(ld[at(c)]) - logNorm)
				g.dMean = dMean
				g.dScale = dScale

				joint[c] = float64(ld[at(c)]) - logNorm + logProb
				if joint[c] > maxJ {
					maxJ = joint[c]
				}
			}

			var sumJoint float64
			for c := range k {
				sumJoint += math.Exp(joint[c] - maxJ)
			}

			logLik := maxJ + math.Log(sumJoint)
			total -= logLik

			for c := range k {
				grads[(b*k+c)*steps+t].resp = math.Exp(joint[c] - logLik)
			}
		}
	}

	return scalarLoss(tape, total/n, logits, func(upstream float32) {
		scale := float64(upstream) / n

		for b := range batch {
			for t := range steps {
				at := func(c int64) int64 { return (b*3*k+c)*steps + t }

				for c := range k {
					g := grads[(b*k+c)*steps+t]

					logits.Grad[at(c)] += float32((g.weight - g.resp) * scale)
					logits.Grad[at(k+c)] += float32(-g.resp * g.dMean * scale)
					logits.Grad[at(2*k+c)] += float32(-g.resp * g.dScale * scale)
				}
			}
		}
	})
}

// MixtureGaussianLoss is the mixture-of-Gaussians negative log-likelihood.
type MixtureGaussianLoss struct {
	Components int64
}

func (l *MixtureGaussianLoss) Loss(tape *autodiff.Tape, logits *autodiff.Var, target *tensor.Tensor) (*autodiff.Var, error) {
	batch, steps, err := checkLossShapes(logits, target, 3*l.Components)
	if err != nil {
		return nil, err
	}

	ld := logits.Value.RawData()
	td := target.RawData()

	k := l.Components
	n := float64(batch * steps)

	const logSqrt2Pi = 0.9189385332046727

	type compGrad struct {
		resp   float64
		weight float64
		dMean  float64
		dScale float64
	}

	grads := make([]compGrad, batch*k*steps)

	var total float64

	for b := range batch {
		for t := range steps {
			y := float64(td[b*steps+t])

			at := func(c int64) int64 { return (b*3*k+c)*steps + t }

			maxL := math.Inf(-1)

			for c := range k {
				v := float64(ld[at(c)])
				if v > maxL {
					maxL = v
				}
			}

			var sumExp float64
			for c := range k {
				sumExp += math.Exp(float64(ld[at(c)]) - maxL)
			}

			logNorm := maxL + math.Log(sumExp)

			joint := make([]float64, k)
			maxJ := math.Inf(-1)

			for c := range k {
				mean := float64(ld[at(k+c)])
				rawScale := float64(ld[at(2*k+c)])

				logScale := rawScale
				floored := false

				if logScale < logScaleMin {
					logScale = logScaleMin
					floored = true
				}

				inv := math.Exp(-logScale)
				u := (y - mean) * inv

				logProb := -logSqrt2Pi - logScale - 0.5*u*u
				dMean := u * inv
				dScale := -1 + u*u

				if floored {
					dScale = 0
				}

				g := &grads[(b*k+c)*steps+t]
				g.weight = math.Exp(float64(ld[at(c)]) - logNorm)
				g.dMean = dMean
				g.dScale = dScale

				joint[c] = float64(ld[at(c)]) - logNorm + logProb
				if joint[c] > maxJ {
					maxJ = joint[c]
				}
			}

			var sumJoint float64
			for c := range k {
				sumJoint += math.Exp(joint[c] - maxJ)
			}

			logLik := maxJ + math.Log(sumJoint)
			total -= logLik

			for c := range k {
				grads[(b*k+c)*steps+t].resp = math.Exp(joint[c] - logLik)
			}
		}
	}

	return scalarLoss(tape, total/n, logits, func(upstream float32) {
		scale := float64(upstream) / n

		for b := range batch {
			for t := range steps {
				at := func(c int64) int64 { return (b*3*k+c)*steps + t }

				for c := range k {
					g := grads[(b*k+c)*steps+t]

					logits.Grad[at(c)] += float32((g.weight - g.resp) * scale)
					logits.Grad[at(k+c)] += float32(-g.resp * g.dMean * scale)
					logits.Grad[at(2*k+c)] += float32(-g.resp * g.dScale * scale)
				}
			}
		}
	})
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func sigmoidPrime(x float64) float64 {
	s := sigmoid(x)

	return s * (1 - s)
}

// softplus computes log(1 + e^x) without overflow.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}

	return math.Log1p(math.Exp(x))
}
