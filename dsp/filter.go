package dsp

import (
	"math"
)

// OnePoleLowpass is a first order IIR low-pass filter: y[n] = y[n-1] + α·(x[n] - y[n-1]).
type OnePoleLowpass struct {
	alpha float64
	y     float64
}

// NewDeemphasis returns a de-emphasis filter for the given time constant in µs: α = 1 / (1 + RC·fs).
func NewDeemphasis(tauMicroseconds float64, sampleRate int) *OnePoleLowpass {
	rc := tauMicroseconds * 1e-6
	return &OnePoleLowpass{alpha: 1 / (1 + rc*float64(sampleRate))}
}

// NewLowpass returns a low-pass filter with the given cutoff frequency: α = 1 - e^(-2π·fc/fs).
func NewLowpass(cutoff float64, sampleRate int) *OnePoleLowpass {
	return &OnePoleLowpass{alpha: 1 - math.Exp(-2*math.Pi*cutoff/float64(sampleRate))}
}

func (f *OnePoleLowpass) Alpha() float64 {
	return f.alpha
}

func (f *OnePoleLowpass) Filter(x float64) float64 {
	f.y += f.alpha * (x - f.y)
	return f.y
}

func (f *OnePoleLowpass) Reset() {
	f.y = 0
}

// DefaultDCCutoff is the cutoff frequency of the DC blocker in Hz.
const DefaultDCCutoff = 0.5

// DCBlocker is a first order IIR high-pass filter: y[n] = α·(y[n-1] + x[n] - x[n-1]), α = 1 - 2π·fc/fs.
type DCBlocker struct {
	alpha float64
	x     float64
	y     float64
}

func NewDCBlocker(cutoff float64, sampleRate int) *DCBlocker {
	return &DCBlocker{alpha: 1 - 2*math.Pi*cutoff/float64(sampleRate)}
}

func (f *DCBlocker) Alpha() float64 {
	return f.alpha
}

func (f *DCBlocker) Filter(x float64) float64 {
	f.y = f.alpha * (f.y + x - f.x)
	f.x = x
	return f.y
}

func (f *DCBlocker) Reset() {
	f.x = 0
	f.y = 0
}

// HilbertDelay approximates the quadrature branch of a Hilbert transformer by a plain delay line.
// It does not shift the phase by 90°, it only delays the signal by the length of the ring buffer.
// This is good enough to select a sideband by adding or subtracting I and the delayed Q.
type HilbertDelay struct {
	ring []float64
	next int
}

func NewHilbertDelay(length int) *HilbertDelay {
	return &HilbertDelay{ring: make([]float64, max(1, length))}
}

// Filter puts x into the delay line and returns the value that was put len(ring) calls before.
func (h *HilbertDelay) Filter(x float64) float64 {
	result := h.ring[h.next]
	h.ring[h.next] = x
	h.next = (h.next + 1) % len(h.ring)
	return result
}

func (h *HilbertDelay) Len() int {
	return len(h.ring)
}

func (h *HilbertDelay) Reset() {
	clear(h.ring)
	h.next = 0
}

// Mixer shifts IQ samples in frequency using a numerically controlled oscillator.
type Mixer struct {
	sampleRate int
	offset     float64
	phase      float64
	step       float64
}

func NewMixer(sampleRate int, offset float64) *Mixer {
	result := &Mixer{sampleRate: sampleRate}
	result.SetOffset(offset)
	return result
}

// SetOffset sets the frequency in Hz that is shifted down to 0Hz.
func (m *Mixer) SetOffset(offset float64) {
	m.offset = offset
	if m.sampleRate > 0 {
		m.step = -2 * math.Pi * offset / float64(m.sampleRate)
	}
}

func (m *Mixer) Offset() float64 {
	return m.offset
}

// Mix writes the shifted samples into dst, which must be at least as long as src. dst and src may be
// the same slice.
func (m *Mixer) Mix(dst []complex64, src []complex64) {
	if m.offset == 0 {
		copy(dst, src)
		return
	}
	for i, s := range src {
		sin, cos := math.Sincos(m.phase)
		dst[i] = s * complex(float32(cos), float32(sin))
		m.phase += m.step
		if m.phase > math.Pi {
			m.phase -= 2 * math.Pi
		} else if m.phase < -math.Pi {
			m.phase += 2 * math.Pi
		}
	}
}
