package vfo

import (
	"errors"
	"fmt"
	"math"

	"github.com/ftl/multirx/demod"
)

var (
	ErrMaxVFOs                = errors.New("maximum number of VFOs reached")
	ErrNegativeFrequency      = errors.New("negative center frequency")
	ErrNonFiniteFrequency     = errors.New("center frequency is not a finite number")
	ErrOutOfRange             = errors.New("center frequency outside the hardware window")
	ErrBandwidthExceedsWindow = errors.New("channel exceeds the hardware window")
	ErrInvalidChannel         = errors.New("invalid channel")
	ErrDuplicateID            = errors.New("duplicate VFO id")
)

type Constraint string

const (
	MaxVFOsConstraint      Constraint = "max_vfos"
	FrequencyConstraint    Constraint = "frequency"
	HardwareConstraint     Constraint = "hardware_range"
	BandwidthConstraint    Constraint = "bandwidth"
	ModeConstraint         Constraint = "mode"
	ChannelWidthConstraint Constraint = "channel_width"
)

// ValidationError names the violated constraint and the bound that was violated.
type ValidationError struct {
	Constraint Constraint
	ID         ID
	Value      float64
	Bound      float64
	Limit      int

	err error
}

func (e *ValidationError) Error() string {
	switch e.Constraint {
	case MaxVFOsConstraint:
		return fmt.Sprintf("vfo %d: %v (limit %d)", e.ID, e.err, e.Limit)
	case FrequencyConstraint:
		return fmt.Sprintf("vfo %d: %v: %.0fHz", e.ID, e.err, e.Value)
	case HardwareConstraint, BandwidthConstraint:
		return fmt.Sprintf("vfo %d: %v: %.0fHz beyond the %s edge at %.0fHz", e.ID, e.err, e.Value, e.edge(), e.Bound)
	default:
		return fmt.Sprintf("vfo %d: %v", e.ID, e.err)
	}
}

func (e *ValidationError) edge() string {
	if e.Value < e.Bound {
		return "lower"
	}
	return "upper"
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// SpacingTable holds the minimum spacing in Hz between two VFOs per mode.
type SpacingTable map[demod.Mode]float64

func DefaultSpacing() SpacingTable {
	return SpacingTable{
		demod.AM:  10000,
		demod.FM:  25000,
		demod.NFM: 12500,
		demod.WFM: 200000,
		demod.USB: 3000,
		demod.LSB: 3000,
		demod.CW:  500,
	}
}

// MinSpacing between two VFOs using the given modes: the larger of both mode spacings.
func (t SpacingTable) MinSpacing(a, b demod.Mode) float64 {
	return math.Max(t[a], t[b])
}

// ValidationContext is the snapshot a configuration is validated against.
type ValidationContext struct {
	HardwareCenterHz float64
	SampleRateHz     float64
	ExistingVFOs     []Config
	MaxVFOs          int
	Spacing          SpacingTable
}

// Validate checks the given configuration against the context. The checks run in a fixed order and
// the first failing check returns a *ValidationError. Spacing conflicts with existing VFOs do not fail
// the validation, they are returned as warnings.
func Validate(cfg Config, ctx ValidationContext) ([]Warning, error) {
	if len(ctx.ExistingVFOs) >= ctx.MaxVFOs {
		return nil, &ValidationError{Constraint: MaxVFOsConstraint, ID: cfg.ID, Limit: ctx.MaxVFOs, err: ErrMaxVFOs}
	}

	if math.IsNaN(cfg.CenterHz) || math.IsInf(cfg.CenterHz, 0) {
		return nil, &ValidationError{Constraint: FrequencyConstraint, ID: cfg.ID, Value: cfg.CenterHz, err: ErrNonFiniteFrequency}
	}
	if cfg.CenterHz < 0 {
		return nil, &ValidationError{Constraint: FrequencyConstraint, ID: cfg.ID, Value: cfg.CenterHz, Bound: 0, err: ErrNegativeFrequency}
	}

	lo, hi := Hardware{CenterHz: ctx.HardwareCenterHz, SampleRateHz: ctx.SampleRateHz}.Window()
	if cfg.CenterHz < lo {
		return nil, &ValidationError{Constraint: HardwareConstraint, ID: cfg.ID, Value: cfg.CenterHz, Bound: lo, err: ErrOutOfRange}
	}
	if cfg.CenterHz > hi {
		return nil, &ValidationError{Constraint: HardwareConstraint, ID: cfg.ID, Value: cfg.CenterHz, Bound: hi, err: ErrOutOfRange}
	}

	if math.IsNaN(cfg.BandwidthHz) || math.IsInf(cfg.BandwidthHz, 0) {
		return nil, &ValidationError{Constraint: ChannelWidthConstraint, ID: cfg.ID, Value: cfg.BandwidthHz, err: fmt.Errorf("%w: bandwidth is not a finite number", ErrInvalidChannel)}
	}
	if cfg.BandwidthHz < 0 {
		return nil, &ValidationError{Constraint: ChannelWidthConstraint, ID: cfg.ID, Value: cfg.BandwidthHz, err: fmt.Errorf("%w: negative bandwidth %.0fHz", ErrInvalidChannel, cfg.BandwidthHz)}
	}

	low, high := cfg.Edges()
	if low < lo {
		return nil, &ValidationError{Constraint: BandwidthConstraint, ID: cfg.ID, Value: low, Bound: lo, err: ErrBandwidthExceedsWindow}
	}
	if high > hi {
		return nil, &ValidationError{Constraint: BandwidthConstraint, ID: cfg.ID, Value: high, Bound: hi, err: ErrBandwidthExceedsWindow}
	}

	if !cfg.Mode.Valid() {
		return nil, &ValidationError{Constraint: ModeConstraint, ID: cfg.ID, err: fmt.Errorf("%w: unknown mode %q", ErrInvalidChannel, cfg.Mode)}
	}

	spacingTable := ctx.Spacing
	if spacingTable == nil {
		spacingTable = DefaultSpacing()
	}
	var warnings []Warning
	for _, other := range ctx.ExistingVFOs {
		if other.ID == cfg.ID {
			continue
		}
		spacing := math.Abs(cfg.CenterHz - other.CenterHz)
		minSpacing := spacingTable.MinSpacing(cfg.Mode, other.Mode)
		if spacing < minSpacing {
			warnings = append(warnings, Warning{
				Kind:       SpacingConflict,
				ID:         cfg.ID,
				OtherID:    other.ID,
				Spacing:    spacing,
				MinSpacing: minSpacing,
				Message:    fmt.Sprintf("vfo %d is %.0fHz away from vfo %d, at least %.0fHz are required", cfg.ID, spacing, other.ID, minSpacing),
			})
		}
	}

	return warnings, nil
}

// Overlaps indicates if the channels of both VFOs intersect. Channels that only touch at their edges do
// not overlap.
func Overlaps(a, b Config) bool {
	low1, high1 := a.Edges()
	low2, high2 := b.Edges()
	return !(high1 <= low2 || high2 <= low1)
}
