// Package vfo manages the logical receivers (VFOs) that are carved out of one wideband IQ capture.
package vfo

import (
	"fmt"
	"time"

	"github.com/ftl/multirx/demod"
)

// ID identifies a VFO. It is supplied by the caller and must be unique within a registry.
type ID uint32

type Status string

const (
	Idle   Status = "idle"
	Active Status = "active"
	Error  Status = "error"
)

const (
	DefaultAudioGain = 1.0
	DefaultPriority  = 5
)

// Config is the user supplied configuration of a VFO. A zero AudioGain or Priority is replaced by
// the default value when the VFO is added.
type Config struct {
	ID           ID
	CenterHz     float64
	Mode         demod.Mode
	BandwidthHz  float64
	AudioEnabled bool
	AudioGain    float64
	Priority     int
	CreatedAt    time.Time
}

func (c Config) String() string {
	return fmt.Sprintf("vfo %d %s %.3fkHz/%.0fHz", c.ID, c.Mode, c.CenterHz/1000, c.BandwidthHz)
}

// Edges returns the lower and upper edge of the channel.
func (c Config) Edges() (low float64, high float64) {
	return c.CenterHz - c.BandwidthHz/2, c.CenterHz + c.BandwidthHz/2
}

func (c Config) withDefaults(now time.Time) Config {
	if c.AudioGain == 0 {
		c.AudioGain = DefaultAudioGain
	}
	if c.Priority == 0 {
		c.Priority = DefaultPriority
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return c
}

// Patch holds the fields of a Config that are changed by Registry.Update. Nil fields stay unchanged.
type Patch struct {
	CenterHz     *float64
	Mode         *demod.Mode
	BandwidthHz  *float64
	AudioEnabled *bool
	AudioGain    *float64
	Priority     *int
}

func (p Patch) apply(c Config) Config {
	if p.CenterHz != nil {
		c.CenterHz = *p.CenterHz
	}
	if p.Mode != nil {
		c.Mode = *p.Mode
	}
	if p.BandwidthHz != nil {
		c.BandwidthHz = *p.BandwidthHz
	}
	if p.AudioEnabled != nil {
		c.AudioEnabled = *p.AudioEnabled
	}
	if p.AudioGain != nil {
		c.AudioGain = *p.AudioGain
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	return c
}

// Metrics are updated by the processing loop with every block.
type Metrics struct {
	RSSI             float64
	SNR              *float64
	SamplesProcessed uint64
	ProcessingTime   time.Duration
	Timestamp        time.Time
}

// State is the runtime state of a VFO. The demodulator and the audio sink are owned by the registry,
// they are nil while the VFO is idle.
type State struct {
	Config
	Status      Status
	Metrics     Metrics
	Demodulator Demodulator
	AudioSink   AudioSink
}

// StatePatch holds the runtime fields changed by Registry.UpdateState. Nil fields stay unchanged.
type StatePatch struct {
	Status  *Status
	Metrics *Metrics
}

// Hardware describes the capture window the VFOs are validated against.
type Hardware struct {
	CenterHz     float64
	SampleRateHz float64
}

// Window returns the lower and upper edge of the capture window.
func (h Hardware) Window() (low float64, high float64) {
	return h.CenterHz - h.SampleRateHz/2, h.CenterHz + h.SampleRateHz/2
}

type Demodulator interface {
	Reconfigure(Config) error
	Close() error
}

type AudioSink interface {
	WriteAudio([]float32) error
	Close() error
}

// ResourceFactory creates the resources of an active VFO.
type ResourceFactory interface {
	NewDemodulator(Config) (Demodulator, error)
	NewAudioSink(Config) (AudioSink, error)
}

type WarningKind string

const (
	SpacingConflict WarningKind = "spacing_conflict"
	UnknownID       WarningKind = "unknown_id"
	TeardownFailed  WarningKind = "teardown_failed"
)

// Warning reports a condition that does not fail the operation.
type Warning struct {
	Kind       WarningKind
	ID         ID
	OtherID    ID
	Spacing    float64
	MinSpacing float64
	Message    string
}

func (w Warning) String() string {
	return w.Message
}

type Observer interface {
	VFOAdded(State)
	VFOUpdated(State)
	VFORemoved(ID)
	VFOWarning(Warning)
}
