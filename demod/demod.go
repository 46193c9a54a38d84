// Package demod turns blocks of baseband IQ samples into audio.
//
// Each sample runs through a fixed chain: demodulation by mode, de-emphasis (FM modes only),
// DC blocking, the CW tone filter (CW only), AGC, squelch and finally volume and a hard clamp to [-1, 1].
package demod

import (
	"math"
	"sync/atomic"

	"github.com/ftl/multirx/dsp"
)

// Engine demodulates the IQ blocks of one channel. Process must be called from a single goroutine,
// Configure may be called from any goroutine.
type Engine struct {
	pending atomic.Pointer[Params]
	params  Params

	prevPhase  float64
	hilbert    *dsp.HilbertDelay
	deemphasis *dsp.OnePoleLowpass
	dcBlocker  *dsp.DCBlocker
	cwFilter   *dsp.OnePoleLowpass
	agc        *dsp.AGC
	squelch    *dsp.Squelch
}

func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	result := &Engine{}
	result.apply(params)
	return result, nil
}

// Configure stores the given parameters. They are applied at the start of the next call to Process,
// never in the middle of a block. Invalid parameters are rejected and the current ones are kept.
func (e *Engine) Configure(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.pending.Store(&params)
	return nil
}

func (e *Engine) apply(params Params) {
	old := e.params
	e.params = params

	if old.Mode != params.Mode || old.SampleRate != params.SampleRate || old.HilbertLength != params.HilbertLength {
		e.reset()
		return
	}

	if old.Deemphasis != params.Deemphasis || old.DeemphasisTau != params.DeemphasisTau {
		e.deemphasis = e.newDeemphasis()
	}
	if old.CWToneHz != params.CWToneHz {
		e.cwFilter = dsp.NewLowpass(params.CWToneHz, params.SampleRate)
	}
	if old.AGC != params.AGC || old.AGCTarget != params.AGCTarget {
		e.agc = e.newAGC()
	}
	if old.SquelchThreshold != params.SquelchThreshold {
		e.squelch = dsp.NewSquelch(params.SquelchThreshold, params.SampleRate)
	}
}

// reset all filter state
func (e *Engine) reset() {
	e.prevPhase = 0
	e.hilbert = dsp.NewHilbertDelay(e.params.HilbertLength)
	e.deemphasis = e.newDeemphasis()
	e.dcBlocker = dsp.NewDCBlocker(dsp.DefaultDCCutoff, e.params.SampleRate)
	e.cwFilter = dsp.NewLowpass(e.params.CWToneHz, e.params.SampleRate)
	e.agc = e.newAGC()
	e.squelch = dsp.NewSquelch(e.params.SquelchThreshold, e.params.SampleRate)
}

func (e *Engine) newDeemphasis() *dsp.OnePoleLowpass {
	if !e.params.Deemphasis || !e.params.Mode.FMFamily() {
		return nil
	}
	return dsp.NewDeemphasis(e.params.DeemphasisTau, e.params.SampleRate)
}

func (e *Engine) newAGC() *dsp.AGC {
	if e.params.AGC == AGCOff {
		return nil
	}
	attack, decay := e.params.AGC.TimeConstants()
	return dsp.NewAGC(e.params.AGCTarget, attack, decay, e.params.SampleRate)
}

func (e *Engine) Params() Params {
	return e.params
}

func (e *Engine) Mode() Mode {
	return e.params.Mode
}

// Gain of the AGC, 1 if the AGC is off.
func (e *Engine) Gain() float64 {
	if e.agc == nil {
		return 1
	}
	return e.agc.Gain()
}

func (e *Engine) SquelchOpen() bool {
	return e.squelch.Open()
}

// Process demodulates the given IQ block into out and returns the number of audio samples written,
// which is min(len(in), len(out)). A block that contains NaN or Inf samples produces silence and leaves
// the filter state untouched.
func (e *Engine) Process(in []complex64, out []float32) int {
	if pending := e.pending.Swap(nil); pending != nil {
		e.apply(*pending)
	}

	n := min(len(in), len(out))
	if !dsp.Finite(in[:n]) {
		clear(out[:n])
		return n
	}

	for i := 0; i < n; i++ {
		out[i] = float32(e.processSample(in[i]))
	}
	return n
}

func (e *Engine) processSample(s complex64) float64 {
	i := float64(real(s))
	q := float64(imag(s))

	var x float64
	switch e.params.Mode {
	case AM, CW:
		x = math.Sqrt(i*i + q*q)
	case FM, NFM, WFM:
		phase := math.Atan2(q, i)
		delta := phase - e.prevPhase
		if delta > math.Pi {
			delta -= 2 * math.Pi
		} else if delta < -math.Pi {
			delta += 2 * math.Pi
		}
		e.prevPhase = phase
		x = delta / math.Pi
	case USB:
		x = i + e.hilbert.Filter(q)
	case LSB:
		x = i - e.hilbert.Filter(q)
	}

	if e.deemphasis != nil {
		x = e.deemphasis.Filter(x)
	}
	x = e.dcBlocker.Filter(x)
	if e.params.Mode == CW {
		x = e.cwFilter.Filter(x)
	}
	if e.agc != nil {
		x = e.agc.Filter(x)
	}
	x = e.squelch.Filter(x)

	x *= e.params.Volume
	return math.Max(-1, math.Min(x, 1))
}
