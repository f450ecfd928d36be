// Package txt2img builds Stable Diffusion txt2img command lines and expands
// prompt matrices.
package txt2img

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sd-launcher/internal/shell"
)

const (
	DefaultSteps   = 10 // upstream default is 50
	DefaultScale   = 8  // upstream default is 7.5
	DefaultIter    = 1
	DefaultSamples = 1
	DefaultHeight  = 512
	DefaultWidth   = 512
	DefaultSeed    = 42

	MaxSteps   = 100
	MaxScale   = 20
	MaxIter    = 10
	MaxSamples = 10
	MaxSeed    = 4294967295
	RandomSeed = -1

	Script = "scripts/txt2img.py"
)

var (
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrOutOfRange  = errors.New("parameter out of range")
)

// Params are the txt2img.py options of a single run.
type Params struct {
	Prompt  string  `json:"prompt"`
	Steps   int     `json:"steps"`   // --ddim_steps
	Samples int     `json:"samples"` // --n_samples
	Scale   float64 `json:"scale"`   // --scale
	Iter    int     `json:"iter"`    // --n_iter
	Height  int     `json:"height"`  // --H
	Width   int     `json:"width"`   // --W
	Seed    int64   `json:"seed"`    // --seed, -1 for random
}

func Defaults() Params {
	return Params{
		Steps:   DefaultSteps,
		Samples: DefaultSamples,
		Scale:   DefaultScale,
		Iter:    DefaultIter,
		Height:  DefaultHeight,
		Width:   DefaultWidth,
		Seed:    DefaultSeed,
	}
}

// WithDefaults fills zero-valued fields from Defaults. Seed 0 is a valid
// seed and is kept.
func (p Params) WithDefaults() Params {
	d := Defaults()
	if p.Steps == 0 {
		p.Steps = d.Steps
	}
	if p.Samples == 0 {
		p.Samples = d.Samples
	}
	if p.Scale == 0 {
		p.Scale = d.Scale
	}
	if p.Iter == 0 {
		p.Iter = d.Iter
	}
	if p.Height == 0 {
		p.Height = d.Height
	}
	if p.Width == 0 {
		p.Width = d.Width
	}
	return p
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if p.Steps < 1 || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d (1..%d)", ErrOutOfRange, p.Steps, MaxSteps)
	}
	if p.Scale < 1 || p.Scale > MaxScale {
		return fmt.Errorf("%w: scale %g (1..%d)", ErrOutOfRange, p.Scale, MaxScale)
	}
	if p.Iter < 1 || p.Iter > MaxIter {
		return fmt.Errorf("%w: iter %d (1..%d)", ErrOutOfRange, p.Iter, MaxIter)
	}
	if p.Samples < 1 || p.Samples > MaxSamples {
		return fmt.Errorf("%w: samples %d (1..%d)", ErrOutOfRange, p.Samples, MaxSamples)
	}
	if p.Height <= 0 || p.Height%64 != 0 {
		return fmt.Errorf("%w: height %d must be a positive multiple of 64", ErrOutOfRange, p.Height)
	}
	if p.Width <= 0 || p.Width%64 != 0 {
		return fmt.Errorf("%w: width %d must be a positive multiple of 64", ErrOutOfRange, p.Width)
	}
	if p.Seed < RandomSeed || p.Seed > MaxSeed {
		return fmt.Errorf("%w: seed %d (-1..%d)", ErrOutOfRange, p.Seed, MaxSeed)
	}
	return nil
}

// Args returns the script options in the order txt2img.py documents them.
func (p Params) Args() []string {
	return []string{
		"--prompt", p.Prompt,
		"--ddim_steps", strconv.Itoa(p.Steps),
		"--n_samples", strconv.Itoa(p.Samples),
		"--scale", strconv.FormatFloat(p.Scale, 'f', -1, 64),
		"--n_iter", strconv.Itoa(p.Iter),
		"--H", strconv.Itoa(p.Height),
		"--W", strconv.Itoa(p.Width),
		"--seed", strconv.FormatInt(p.Seed, 10),
	}
}

// Command renders the shell command line run in the Stable Diffusion
// directory.
func (p Params) Command(python string) string {
	if python == "" {
		python = "python"
	}
	args := p.Args()
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, shell.Quote(python), Script)
	for _, a := range args {
		parts = append(parts, shell.Quote(a))
	}
	return strings.Join(parts, " ")
}
