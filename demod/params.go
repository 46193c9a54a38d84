package demod

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	AM  Mode = "AM"
	FM  Mode = "FM"
	NFM Mode = "NFM"
	WFM Mode = "WFM"
	USB Mode = "USB"
	LSB Mode = "LSB"
	CW  Mode = "CW"
)

// Modes lists all supported demodulation modes.
var Modes = []Mode{AM, FM, NFM, WFM, USB, LSB, CW}

func ParseMode(s string) (Mode, error) {
	mode := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !mode.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return mode, nil
}

func (m Mode) Valid() bool {
	for _, mode := range Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// FMFamily indicates that the mode is demodulated from the phase of the signal.
func (m Mode) FMFamily() bool {
	return m == FM || m == NFM || m == WFM
}

type AGCMode string

const (
	AGCOff    AGCMode = "off"
	AGCFast   AGCMode = "fast"
	AGCMedium AGCMode = "medium"
	AGCSlow   AGCMode = "slow"
)

func ParseAGCMode(s string) (AGCMode, error) {
	mode := AGCMode(strings.ToLower(strings.TrimSpace(s)))
	switch mode {
	case AGCOff, AGCFast, AGCMedium, AGCSlow:
		return mode, nil
	case "":
		return AGCOff, nil
	default:
		return "", fmt.Errorf("unknown AGC mode %q", s)
	}
}

// TimeConstants returns the attack and decay time of the AGC mode.
func (m AGCMode) TimeConstants() (attack time.Duration, decay time.Duration) {
	switch m {
	case AGCFast:
		return 2 * time.Millisecond, 100 * time.Millisecond
	case AGCMedium:
		return 10 * time.Millisecond, 500 * time.Millisecond
	case AGCSlow:
		return 50 * time.Millisecond, 2000 * time.Millisecond
	default:
		return 0, 0
	}
}

const (
	DefaultAGCTarget     = 0.3
	DefaultDeemphasisTau = 75.0
	DefaultHilbertLength = 32
	DefaultCWToneHz      = 800.0
	DefaultVolume        = 1.0
)

var (
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrInvalidParams     = errors.New("invalid demodulator parameters")
)

// Params configure a demodulation engine.
type Params struct {
	SampleRate int
	Mode       Mode
	AGC        AGCMode
	AGCTarget  float64

	// SquelchThreshold is the smoothed audio level that opens the squelch. 0 disables the squelch.
	SquelchThreshold float64

	// Deemphasis is only applied in the FM modes. DeemphasisTau is given in µs.
	Deemphasis    bool
	DeemphasisTau float64

	HilbertLength int
	CWToneHz      float64
	Volume        float64
}

func DefaultParams(sampleRate int, mode Mode) Params {
	return Params{
		SampleRate:    sampleRate,
		Mode:          mode,
		AGC:           AGCMedium,
		AGCTarget:     DefaultAGCTarget,
		Deemphasis:    mode.FMFamily(),
		DeemphasisTau: DefaultDeemphasisTau,
		HilbertLength: DefaultHilbertLength,
		CWToneHz:      DefaultCWToneHz,
		Volume:        DefaultVolume,
	}
}

// Validate checks the parameters and fills in defaults for the optional values.
func (p *Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, p.SampleRate)
	}
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, p.Mode)
	}
	agc, err := ParseAGCMode(string(p.AGC))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	p.AGC = agc
	if p.SquelchThreshold < 0 {
		return fmt.Errorf("%w: negative squelch threshold %v", ErrInvalidParams, p.SquelchThreshold)
	}
	if p.Volume < 0 {
		return fmt.Errorf("%w: negative volume %v", ErrInvalidParams, p.Volume)
	}

	if p.AGCTarget <= 0 {
		p.AGCTarget = DefaultAGCTarget
	}
	if p.DeemphasisTau <= 0 {
		p.DeemphasisTau = DefaultDeemphasisTau
	}
	if p.HilbertLength <= 0 {
		p.HilbertLength = DefaultHilbertLength
	}
	if p.CWToneHz <= 0 {
		p.CWToneHz = DefaultCWToneHz
	}
	return nil
}
