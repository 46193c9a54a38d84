package dsp

import (
	"math"
	"time"
)

const (
	MinAGCGain = 0.1
	MaxAGCGain = 10.0

	minAGCEstimate = 1e-6
)

// SmoothingCoefficient converts a time constant into the coefficient of an exponential smoothing
// filter at the given sample rate: e^(-1/(fs·t)).
func SmoothingCoefficient(timeConstant time.Duration, sampleRate int) float64 {
	seconds := timeConstant.Seconds()
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (float64(sampleRate) * seconds))
}

// AGC tracks the RMS level of a signal and scales it towards a target level. The level estimate uses
// the attack coefficient while the signal is above the estimate and the decay coefficient otherwise.
// The gain is clamped to [MinAGCGain, MaxAGCGain].
type AGC struct {
	target float64
	attack float64
	decay  float64

	meanSquare float64
	estimate   float64
	gain       float64
}

func NewAGC(target float64, attack, decay time.Duration, sampleRate int) *AGC {
	result := &AGC{
		target: target,
		attack: SmoothingCoefficient(attack, sampleRate),
		decay:  SmoothingCoefficient(decay, sampleRate),
	}
	result.Reset()
	return result
}

func (a *AGC) Filter(x float64) float64 {
	abs := math.Abs(x)
	coeff := a.decay
	if abs > a.estimate {
		coeff = a.attack
	}
	a.meanSquare = coeff*a.meanSquare + (1-coeff)*x*x
	a.estimate = math.Max(math.Sqrt(a.meanSquare), minAGCEstimate)

	a.gain = math.Max(MinAGCGain, math.Min(a.target/a.estimate, MaxAGCGain))
	return x * a.gain
}

func (a *AGC) Gain() float64 {
	return a.gain
}

func (a *AGC) Estimate() float64 {
	return a.estimate
}

func (a *AGC) Reset() {
	a.meanSquare = 0
	a.estimate = minAGCEstimate
	a.gain = 1
}

const (
	DefaultSquelchTimeConstant = 50 * time.Millisecond
	SquelchHysteresis          = 0.7
)

// Squelch mutes a signal while its smoothed level is below the threshold. Once open, the gate only
// closes when the level falls below SquelchHysteresis times the threshold.
// A threshold of 0 keeps the gate open.
type Squelch struct {
	threshold float64
	coeff     float64
	level     float64
	open      bool
}

func NewSquelch(threshold float64, sampleRate int) *Squelch {
	return &Squelch{
		threshold: threshold,
		coeff:     SmoothingCoefficient(DefaultSquelchTimeConstant, sampleRate),
	}
}

func (s *Squelch) Filter(x float64) float64 {
	s.level = s.coeff*s.level + (1-s.coeff)*math.Abs(x)
	if s.threshold <= 0 {
		s.open = true
		return x
	}

	if s.open && s.level < SquelchHysteresis*s.threshold {
		s.open = false
	} else if !s.open && s.level > s.threshold {
		s.open = true
	}

	if !s.open {
		return 0
	}
	return x
}

func (s *Squelch) Open() bool {
	return s.open
}

func (s *Squelch) Level() float64 {
	return s.level
}

func (s *Squelch) Reset() {
	s.level = 0
	s.open = false
}
