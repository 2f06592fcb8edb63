package vocoder

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/go-wavenet-vocoder/internal/audio"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
	"github.com/example/go-wavenet-vocoder/internal/safetensors"
)

// Batch is one training example set: conditioning [batch, cin, frames],
// waveform [batch, T], and optional per-sequence speaker ids.
type Batch struct {
	Cond     *tensor.Tensor
	Wave     *tensor.Tensor
	Speakers []int64
}

// Dataset yields training batches; Next cycles indefinitely.
type Dataset interface {
	Next() (*Batch, error)
	Len() int
}

// DirDataset pairs <name>.safetensors conditioning files with <name>.wav
// waveforms in one directory.  Each Next call returns a batch of one
// utterance, truncated so the waveform matches the upsampled conditioning.
type DirDataset struct {
	cfg        Config
	sampleRate int
	pairs      []string // base paths without extension
	pos        int
}

// NewDirDataset scans dir for feature/waveform pairs.
func NewDirDataset(dir string, cfg Config, sampleRate int) (*DirDataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("vocoder: read dataset dir: %w", err)
	}

	var pairs []string

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".safetensors") {
			continue
		}

		base := filepath.Join(dir, strings.TrimSuffix(e.Name(), ".safetensors"))
		if _, err := os.Stat(base + ".wav"); err != nil {
			continue
		}

		pairs = append(pairs, base)
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("vocoder: no feature/waveform pairs in %s", dir)
	}

	sort.Strings(pairs)

	return &DirDataset{cfg: cfg, sampleRate: sampleRate, pairs: pairs}, nil
}

func (d *DirDataset) Len() int { return len(d.pairs) }

func (d *DirDataset) Next() (*Batch, error) {
	base := d.pairs[d.pos]
	d.pos = (d.pos + 1) % len(d.pairs)

	feat, shape, err := safetensors.LoadConditioning(base + ".safetensors")
	if err != nil {
		return nil, err
	}

	cond, err := tensor.New(feat, shape)
	if err != nil {
		return nil, err
	}

	if got := cond.Dim(1); got != d.cfg.CinChannels {
		return nil, fmt.Errorf("vocoder: %s.safetensors has %d channels, model expects %d", base, got, d.cfg.CinChannels)
	}

	if !cond.IsFinite() {
		return nil, fmt.Errorf("vocoder: %s.safetensors contains non-finite values", base)
	}

	wavBytes, err := os.ReadFile(base + ".wav")
	if err != nil {
		return nil, fmt.Errorf("vocoder: read waveform: %w", err)
	}

	samples, err := audio.DecodeWAV(wavBytes, d.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("vocoder: %s.wav: %w", base, err)
	}

	// Align the waveform to the upsampled conditioning length.
	frames := cond.Dim(2) - 2*d.cfg.CinPad

	maxLen := frames * d.cfg.TotalScale()
	if int64(len(samples)) > maxLen {
		samples = samples[:maxLen]
	}

	if int64(len(samples)) < maxLen {
		return nil, fmt.Errorf("vocoder: %s.wav has %d samples, conditioning covers %d", base, len(samples), maxLen)
	}

	wave, err := tensor.New(samples, []int64{1, int64(len(samples))})
	if err != nil {
		return nil, err
	}

	return &Batch{Cond: cond, Wave: wave}, nil
}

// SyntheticDataset produces deterministic sine-plus-envelope batches for
// smoke training without data on disk.
type SyntheticDataset struct {
	cfg    Config
	frames int64
	count  int64
}

// NewSyntheticDataset yields batches with the given conditioning length.
func NewSyntheticDataset(cfg Config, frames int64) *SyntheticDataset {
	return &SyntheticDataset{cfg: cfg, frames: frames}
}

func (d *SyntheticDataset) Len() int { return 1 }

func (d *SyntheticDataset) Next() (*Batch, error) {
	cfg := d.cfg
	frames := d.frames + 2*cfg.CinPad
	steps := d.frames * cfg.TotalScale()

	cond, err := tensor.Zeros([]int64{1, cfg.CinChannels, frames})
	if err != nil {
		return nil, err
	}

	cd := cond.RawData()
	for c := range cfg.CinChannels {
		for t := range frames {
			phase := float64(d.count) + float64(c)*0.37 + float64(t)*0.11
			cd[c*frames+t] = float32(math.Sin(phase))
		}
	}

	wave, err := tensor.Zeros([]int64{1, steps})
	if err != nil {
		return nil, err
	}

	wd := wave.RawData()
	for t := range steps {
		wd[t] = float32(0.5 * math.Sin(2*math.Pi*float64(t)/64+float64(d.count)))
	}

	d.count++

	var speakers []int64
	if cfg.GinChannels > 0 {
		speakers = []int64{d.count % cfg.NSpeakers}
	}

	return &Batch{Cond: cond, Wave: wave, Speakers: speakers}, nil
}
