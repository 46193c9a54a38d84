package render

import (
	"fmt"
	"math"
	"time"
)

type FrameID uint64

// Frame is one unit of visualization. Frames must not be modified after they were enqueued.
type Frame struct {
	ID        FrameID
	Timestamp time.Time
	Payload   Payload
}

// Payload is one of Samples, Spectrum or Waterfall.
type Payload interface {
	payloadKind() string
}

// Samples is a block of real valued samples, e.g. the audio of a VFO.
type Samples struct {
	Source     string
	SampleRate int
	Values     []float32
}

func (Samples) payloadKind() string { return "samples" }

// Level returns the RMS and the peak value of the samples.
func (s Samples) Level() (rms float64, peak float64) {
	if len(s.Values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range s.Values {
		abs := math.Abs(float64(v))
		sum += abs * abs
		peak = math.Max(peak, abs)
	}
	return math.Sqrt(sum / float64(len(s.Values))), peak
}

// Spectrum is one DC-centred spectrum in dB between two frequencies.
type Spectrum struct {
	FromHz     float64
	ToHz       float64
	Magnitude  []float64
	NoiseFloor float64
	Markers    map[string]float64
}

func (Spectrum) payloadKind() string { return "spectrum" }

// Waterfall holds the latest spectra, the newest row first.
type Waterfall struct {
	FromHz float64
	ToHz   float64
	Rows   [][]float64
}

func (Waterfall) payloadKind() string { return "waterfall" }

// PayloadKind returns the name of the payload type.
func PayloadKind(p Payload) string {
	if p == nil {
		return "none"
	}
	return p.payloadKind()
}

type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
