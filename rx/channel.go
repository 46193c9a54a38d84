package rx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/dsp"
	"github.com/ftl/multirx/vfo"
)

var ErrChannelClosed = errors.New("channel closed")

// Channel carves one VFO out of the wideband IQ blocks: it shifts the VFO frequency down to baseband,
// limits the bandwidth and demodulates the result.
type Channel struct {
	id       vfo.ID
	defaults demod.Params

	lock        sync.Mutex
	closed      bool
	cfg         vfo.Config
	sampleRate  int
	centerHz    float64
	bandwidthHz float64
	mixer       *dsp.Mixer
	lowpassI    *dsp.OnePoleLowpass
	lowpassQ    *dsp.OnePoleLowpass
	engine      *demod.Engine
	baseband    []complex64
	audio       []float32
}

// NewChannel creates a channel for the given VFO configuration. The defaults are used for all demodulator
// parameters that are not part of the VFO configuration.
func NewChannel(cfg vfo.Config, sampleRate int, defaults demod.Params) (*Channel, error) {
	result := &Channel{
		id:         cfg.ID,
		defaults:   defaults,
		sampleRate: sampleRate,
		mixer:      dsp.NewMixer(sampleRate, 0),
	}
	engine, err := demod.NewEngine(result.params(cfg))
	if err != nil {
		return nil, fmt.Errorf("vfo %d: %w", cfg.ID, err)
	}
	result.engine = engine
	result.setChannel(cfg)

	return result, nil
}

func (c *Channel) params(cfg vfo.Config) demod.Params {
	result := c.defaults
	result.SampleRate = c.sampleRate
	result.Mode = cfg.Mode
	result.Deemphasis = c.defaults.Deemphasis && cfg.Mode.FMFamily()
	result.Volume = cfg.AudioGain
	return result
}

// setChannel must be called while holding the lock or before the channel is shared.
func (c *Channel) setChannel(cfg vfo.Config) {
	c.cfg = cfg
	c.centerHz = cfg.CenterHz
	if c.bandwidthHz == cfg.BandwidthHz && c.lowpassI != nil {
		return
	}
	c.bandwidthHz = cfg.BandwidthHz
	c.lowpassI = dsp.NewLowpass(cfg.BandwidthHz/2, c.sampleRate)
	c.lowpassQ = dsp.NewLowpass(cfg.BandwidthHz/2, c.sampleRate)
}

func (c *Channel) ID() vfo.ID {
	return c.id
}

// Reconfigure applies the given configuration with the next block.
func (c *Channel) Reconfigure(cfg vfo.Config) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrChannelClosed
	}

	if err := c.engine.Configure(c.params(cfg)); err != nil {
		return fmt.Errorf("vfo %d: %w", c.id, err)
	}
	c.setChannel(cfg)
	return nil
}

// SetSampleRate changes the sample rate of the incoming IQ data. The filter state is reset.
func (c *Channel) SetSampleRate(sampleRate int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if sampleRate == c.sampleRate {
		return nil
	}

	previous := c.sampleRate
	c.sampleRate = sampleRate
	if err := c.engine.Configure(c.params(c.cfg)); err != nil {
		c.sampleRate = previous
		return fmt.Errorf("vfo %d: %w", c.id, err)
	}
	c.mixer = dsp.NewMixer(sampleRate, c.mixer.Offset())
	c.lowpassI = dsp.NewLowpass(c.bandwidthHz/2, sampleRate)
	c.lowpassQ = dsp.NewLowpass(c.bandwidthHz/2, sampleRate)
	return nil
}

func (c *Channel) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.baseband = nil
	c.audio = nil
	return nil
}

func (c *Channel) Mode() demod.Mode {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.engine.Mode()
}

func (c *Channel) SquelchOpen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.engine.SquelchOpen()
}

// Process demodulates one block of wideband IQ data, captured around the given hardware center frequency.
// It returns the audio block and the mean power of the channel. The audio block is reused with the next call.
func (c *Channel) Process(block []complex64, hardwareCenterHz float64) ([]float32, float64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, 0
	}

	if cap(c.baseband) < len(block) {
		c.baseband = make([]complex64, len(block))
		c.audio = make([]float32, len(block))
	}
	baseband := c.baseband[:len(block)]
	audio := c.audio[:len(block)]

	offset := c.centerHz - hardwareCenterHz
	if c.mixer.Offset() != offset {
		c.mixer.SetOffset(offset)
	}
	c.mixer.Mix(baseband, block)

	if dsp.Finite(baseband) {
		for i, s := range baseband {
			baseband[i] = complex(
				float32(c.lowpassI.Filter(float64(real(s)))),
				float32(c.lowpassQ.Filter(float64(imag(s)))),
			)
		}
	}
	power := dsp.MeanPower(baseband)

	n := c.engine.Process(baseband, audio)
	return audio[:n], power
}
