package compute

import (
	"fmt"
	"strings"

	"github.com/ftl/multirx/dsp"
)

// Transform computes the DC-centred magnitude in dB (and optionally the phase) of the given samples.
// The transform size is defined by the length of magnitude. Implementations must be safe for concurrent use.
type Transform interface {
	Spectrum(magnitude []float64, phase []float64, samples []complex64, window []float64) error
}

// DirectTransform computes the DFT by direct summation, using trig tables that are shared between all
// workers.
type DirectTransform struct {
	cache *dsp.TrigCache
}

func NewDirectTransform(cache *dsp.TrigCache) *DirectTransform {
	if cache == nil {
		cache = dsp.NewTrigCache()
	}
	return &DirectTransform{cache: cache}
}

func (t *DirectTransform) Spectrum(magnitude []float64, phase []float64, samples []complex64, window []float64) error {
	size := len(magnitude)
	if err := checkSizes(size, phase, window); err != nil {
		return err
	}
	table := t.cache.Get(size)
	table.Spectrum(magnitude, phase, make([]complex128, size), samples, window)
	return nil
}

func (t *DirectTransform) String() string {
	return "direct"
}

// FastTransform computes the spectrum with a fast fourier transform.
type FastTransform struct{}

func NewFastTransform() *FastTransform {
	return &FastTransform{}
}

func (t *FastTransform) Spectrum(magnitude []float64, phase []float64, samples []complex64, window []float64) error {
	if err := checkSizes(len(magnitude), phase, window); err != nil {
		return err
	}
	dsp.NewFFT().Spectrum(magnitude, phase, samples, window)
	return nil
}

func (t *FastTransform) String() string {
	return "fast"
}

func checkSizes(size int, phase []float64, window []float64) error {
	if size <= 0 {
		return fmt.Errorf("%w: transform size %d", ErrInvalidTask, size)
	}
	if phase != nil && len(phase) != size {
		return fmt.Errorf("%w: phase size %d does not match transform size %d", ErrInvalidTask, len(phase), size)
	}
	if window != nil && len(window) != size {
		return fmt.Errorf("%w: window size %d does not match transform size %d", ErrInvalidTask, len(window), size)
	}
	return nil
}

// ParseTransform returns the transform with the given name: "direct" or "fast".
func ParseTransform(name string) (Transform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "direct", "dft":
		return NewDirectTransform(nil), nil
	case "fast", "fft":
		return NewFastTransform(), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}
