package vocoder

import (
	"fmt"
	"math"

	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// MuLawEncode compands an amplitude in [-1, 1] with mu = channels-1.
func MuLawEncode(x float32, channels int64) float32 {
	mu := float64(channels - 1)
	v := float64(x)

	return float32(sign(v) * math.Log1p(mu*math.Abs(v)) / math.Log1p(mu))
}

// MuLawDecode inverts MuLawEncode.
func MuLawDecode(y float32, channels int64) float32 {
	mu := float64(channels - 1)
	v := float64(y)

	return float32(sign(v) * (math.Expm1(math.Abs(v) * math.Log1p(mu))) / mu)
}

// MuLawQuantize compands x and maps it to an integer label in [0, channels),
// rounding to the nearest bin so zero amplitude lands on channels/2.
func MuLawQuantize(x float32, channels int64) int64 {
	y := float64(MuLawEncode(x, channels))
	mu := float64(channels - 1)

	label := int64((y+1)/2*mu + 0.5)
	if label < 0 {
		label = 0
	}

	if label >= channels {
		label = channels - 1
	}

	return label
}

// MuLawDequantize maps a quantization label back to an amplitude in [-1, 1].
func MuLawDequantize(label, channels int64) float32 {
	mu := float64(channels - 1)
	y := 2*(float64(label)/mu) - 1

	return MuLawDecode(float32(y), channels)
}

// LabelToFloat maps a label in [0, classes) to an amplitude in [-1, 1].
func LabelToFloat(label, classes int64) float32 {
	return float32(2*float64(label)/float64(classes-1) - 1)
}

// FloatToLabel maps an amplitude in [-1, 1] to a label in [0, classes),
// clamping at the quantization boundaries.
func FloatToLabel(x float32, classes int64) int64 {
	label := int64(math.Round((float64(x) + 1) * float64(classes-1) / 2))
	if label < 0 {
		label = 0
	}

	if label >= classes {
		label = classes - 1
	}

	return label
}

// OneHot builds a [batch, classes, time] tensor with a single 1 per
// (batch, time) column at the given label.
func OneHot(labels [][]int64, classes int64) (*tensor.Tensor, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("vocoder: onehot requires at least one sequence")
	}

	steps := int64(len(labels[0]))

	out, err := tensor.Zeros([]int64{int64(len(labels)), classes, steps})
	if err != nil {
		return nil, err
	}

	data := out.RawData()

	for b, seq := range labels {
		if int64(len(seq)) != steps {
			return nil, fmt.Errorf("vocoder: onehot sequence %d length %d != %d", b, len(seq), steps)
		}

		for t, label := range seq {
			if label < 0 || label >= classes {
				return nil, fmt.Errorf("vocoder: onehot label %d out of range [0, %d)", label, classes)
			}

			data[(int64(b)*classes+label)*steps+int64(t)] = 1
		}
	}

	return out, nil
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}

	if v > 0 {
		return 1
	}

	return 0
}
