// Package config loads the receiver configuration from a YAML file. Environment variables with the prefix
// MULTIRX_ override single values of the file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ftl/multirx/compute"
	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/dsp"
	"github.com/ftl/multirx/vfo"
)

// DefaultFilename is used by Load if no path is given and the file exists in the working directory.
const DefaultFilename = "multirx.yaml"

var ErrInvalidConfig = errors.New("invalid configuration")

// The names of the render backends.
const (
	ScopeBackend     = "scope"
	WebsocketBackend = "websocket"
	TextBackend      = "text"
)

// The kinds of audio sinks.
const (
	DiscardSink = "discard"
	PulseSink   = "pulse"
	WAVSink     = "wav"
)

type Config struct {
	Hardware HardwareConfig     `yaml:"hardware"`
	MaxVFOs  int                `yaml:"max_vfos"`
	Spacing  map[string]float64 `yaml:"spacing,omitempty"`
	VFOs     []VFOConfig        `yaml:"vfos,omitempty"`
	Demod    DemodConfig        `yaml:"demod"`
	Compute  ComputeConfig      `yaml:"compute"`
	Render   RenderConfig       `yaml:"render"`
	Audio    AudioConfig        `yaml:"audio"`
}

type HardwareConfig struct {
	CenterHz   float64 `yaml:"center_hz"`
	SampleRate int     `yaml:"sample_rate"`
	BlockSize  int     `yaml:"block_size"`
}

// VFOConfig describes one VFO that is added when the receiver starts.
type VFOConfig struct {
	ID           uint32  `yaml:"id"`
	CenterHz     float64 `yaml:"center_hz"`
	Mode         string  `yaml:"mode"`
	BandwidthHz  float64 `yaml:"bandwidth_hz"`
	AudioEnabled bool    `yaml:"audio"`
	AudioGain    float64 `yaml:"gain,omitempty"`
	Priority     int     `yaml:"priority,omitempty"`
}

type DemodConfig struct {
	AGC           string  `yaml:"agc"`
	AGCTarget     float64 `yaml:"agc_target"`
	Squelch       float64 `yaml:"squelch"`
	Deemphasis    bool    `yaml:"deemphasis"`
	DeemphasisTau float64 `yaml:"deemphasis_tau_us"`
	CWToneHz      float64 `yaml:"cw_tone_hz"`
}

type ComputeConfig struct {
	Workers          int    `yaml:"workers"`
	FFTSize          int    `yaml:"fft_size"`
	Transform        string `yaml:"transform"`
	Window           string `yaml:"window"`
	SpectrumInterval int    `yaml:"spectrum_interval"`
	WaterfallRows    int    `yaml:"waterfall_rows"`
}

type RenderConfig struct {
	Backends         []string `yaml:"backends"`
	Width            int      `yaml:"width"`
	Height           int      `yaml:"height"`
	WebsocketAddress string   `yaml:"websocket_address"`
	ScopeAddress     string   `yaml:"scope_address"`
}

type AudioConfig struct {
	Sink string `yaml:"sink"`
	Dir  string `yaml:"dir"`
}

func Default() *Config {
	params := demod.DefaultParams(48000, demod.FM)
	return &Config{
		Hardware: HardwareConfig{
			CenterHz:   0,
			SampleRate: 48000,
			BlockSize:  512,
		},
		MaxVFOs: 8,
		Demod: DemodConfig{
			AGC:           string(params.AGC),
			AGCTarget:     params.AGCTarget,
			Deemphasis:    true,
			DeemphasisTau: params.DeemphasisTau,
			CWToneHz:      params.CWToneHz,
		},
		Compute: ComputeConfig{
			Workers:          2,
			Transform:        "fast",
			Window:           "hann",
			SpectrumInterval: 10,
			WaterfallRows:    64,
		},
		Render: RenderConfig{
			Backends:         []string{WebsocketBackend, TextBackend},
			Width:            1024,
			Height:           256,
			WebsocketAddress: "localhost:35370",
			ScopeAddress:     "localhost:35369",
		},
		Audio: AudioConfig{
			Sink: DiscardSink,
			Dir:  ".",
		},
	}
}

// Load reads the configuration from the given file. Without a path, DefaultFilename is used if it exists,
// otherwise the defaults. The environment overrides are applied afterwards and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFilename); err == nil {
			path = DefaultFilename
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnvOverrides(lookup lookupFunc) error {
	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"MULTIRX_CENTER_HZ", floatValue(&c.Hardware.CenterHz)},
		{"MULTIRX_SAMPLE_RATE", intValue(&c.Hardware.SampleRate)},
		{"MULTIRX_BLOCK_SIZE", intValue(&c.Hardware.BlockSize)},
		{"MULTIRX_MAX_VFOS", intValue(&c.MaxVFOs)},
		{"MULTIRX_WORKERS", intValue(&c.Compute.Workers)},
		{"MULTIRX_FFT_SIZE", intValue(&c.Compute.FFTSize)},
		{"MULTIRX_TRANSFORM", stringValue(&c.Compute.Transform)},
		{"MULTIRX_WINDOW", stringValue(&c.Compute.Window)},
		{"MULTIRX_RENDER_BACKENDS", listValue(&c.Render.Backends)},
		{"MULTIRX_WEBSOCKET_ADDRESS", stringValue(&c.Render.WebsocketAddress)},
		{"MULTIRX_SCOPE_ADDRESS", stringValue(&c.Render.ScopeAddress)},
		{"MULTIRX_AUDIO_SINK", stringValue(&c.Audio.Sink)},
		{"MULTIRX_AUDIO_DIR", stringValue(&c.Audio.Dir)},
	}
	for _, override := range overrides {
		value, ok := lookup(override.name)
		if !ok {
			continue
		}
		if err := override.apply(value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, override.name, err)
		}
		log.Printf("configuration: %s overridden from the environment: %s", override.name, value)
	}
	return nil
}

func floatValue(target *float64) func(string) error {
	return func(s string) error {
		value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*target = value
		return nil
	}
}

func intValue(target *int) func(string) error {
	return func(s string) error {
		value, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*target = value
		return nil
	}
}

func stringValue(target *string) func(string) error {
	return func(s string) error {
		*target = strings.TrimSpace(s)
		return nil
	}
}

func listValue(target *[]string) func(string) error {
	return func(s string) error {
		var values []string
		for _, value := range strings.Split(s, ",") {
			value = strings.TrimSpace(value)
			if value != "" {
				values = append(values, value)
			}
		}
		*target = values
		return nil
	}
}

// Validate checks the configuration. It does not validate the initial VFOs against the capture window,
// this is done by the registry when the VFOs are added.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Hardware.CenterHz < 0 {
		invalid("hardware.center_hz must not be negative: %.0f", c.Hardware.CenterHz)
	}
	if c.Hardware.SampleRate <= 0 {
		invalid("hardware.sample_rate must be positive: %d", c.Hardware.SampleRate)
	}
	if c.Hardware.BlockSize <= 0 {
		invalid("hardware.block_size must be positive: %d", c.Hardware.BlockSize)
	}
	if c.MaxVFOs <= 0 {
		invalid("max_vfos must be positive: %d", c.MaxVFOs)
	}
	for name, spacing := range c.Spacing {
		if _, err := demod.ParseMode(name); err != nil {
			invalid("spacing: %v", err)
		}
		if spacing < 0 {
			invalid("spacing.%s must not be negative: %.0f", name, spacing)
		}
	}

	ids := make(map[uint32]bool, len(c.VFOs))
	for i, v := range c.VFOs {
		if ids[v.ID] {
			invalid("vfos[%d]: duplicate id %d", i, v.ID)
		}
		ids[v.ID] = true
		if _, err := demod.ParseMode(v.Mode); err != nil {
			invalid("vfos[%d]: %v", i, err)
		}
		if v.BandwidthHz <= 0 {
			invalid("vfos[%d]: bandwidth_hz must be positive: %.0f", i, v.BandwidthHz)
		}
		if v.AudioGain < 0 {
			invalid("vfos[%d]: gain must not be negative: %f", i, v.AudioGain)
		}
	}

	if _, err := demod.ParseAGCMode(c.Demod.AGC); err != nil {
		invalid("demod.agc: %v", err)
	}
	if c.Demod.Squelch < 0 {
		invalid("demod.squelch must not be negative: %f", c.Demod.Squelch)
	}

	if c.Compute.Workers <= 0 {
		invalid("compute.workers must be positive: %d", c.Compute.Workers)
	}
	if c.Compute.FFTSize < 0 {
		invalid("compute.fft_size must not be negative: %d", c.Compute.FFTSize)
	}
	if _, err := compute.ParseTransform(c.Compute.Transform); err != nil {
		invalid("compute.transform: %v", err)
	}
	if _, err := dsp.ParseWindow(c.Compute.Window); err != nil {
		invalid("compute.window: %v", err)
	}
	if c.Compute.SpectrumInterval < 0 {
		invalid("compute.spectrum_interval must not be negative: %d", c.Compute.SpectrumInterval)
	}
	if c.Compute.WaterfallRows < 0 {
		invalid("compute.waterfall_rows must not be negative: %d", c.Compute.WaterfallRows)
	}

	if len(c.Render.Backends) == 0 {
		invalid("render.backends must name at least one backend")
	}
	for _, backend := range c.Render.Backends {
		switch backend {
		case ScopeBackend, WebsocketBackend, TextBackend:
		default:
			invalid("render.backends: unknown backend %q", backend)
		}
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		invalid("render size must be positive: %dx%d", c.Render.Width, c.Render.Height)
	}

	switch c.Audio.Sink {
	case DiscardSink, PulseSink:
	case WAVSink:
		if c.Audio.Dir == "" {
			invalid("audio.dir is required for the wav sink")
		}
	default:
		invalid("audio.sink: unknown sink %q", c.Audio.Sink)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// SpacingTable returns the default spacing table with the configured spacings applied.
func (c *Config) SpacingTable() vfo.SpacingTable {
	result := vfo.DefaultSpacing()
	for name, spacing := range c.Spacing {
		mode, err := demod.ParseMode(name)
		if err != nil {
			continue
		}
		result[mode] = spacing
	}
	return result
}

// DemodParams returns the template for the demodulator parameters of all VFOs.
func (c *Config) DemodParams() demod.Params {
	result := demod.DefaultParams(c.Hardware.SampleRate, demod.FM)
	if agc, err := demod.ParseAGCMode(c.Demod.AGC); err == nil {
		result.AGC = agc
	}
	if c.Demod.AGCTarget > 0 {
		result.AGCTarget = c.Demod.AGCTarget
	}
	result.SquelchThreshold = c.Demod.Squelch
	result.Deemphasis = c.Demod.Deemphasis
	if c.Demod.DeemphasisTau > 0 {
		result.DeemphasisTau = c.Demod.DeemphasisTau
	}
	if c.Demod.CWToneHz > 0 {
		result.CWToneHz = c.Demod.CWToneHz
	}
	return result
}

// InitialVFOs returns the configured VFOs. Invalid modes are reported by Validate.
func (c *Config) InitialVFOs() []vfo.Config {
	result := make([]vfo.Config, 0, len(c.VFOs))
	for _, v := range c.VFOs {
		mode, _ := demod.ParseMode(v.Mode)
		gain := v.AudioGain
		if gain == 0 {
			gain = vfo.DefaultAudioGain
		}
		result = append(result, vfo.Config{
			ID:           vfo.ID(v.ID),
			CenterHz:     v.CenterHz,
			Mode:         mode,
			BandwidthHz:  v.BandwidthHz,
			AudioEnabled: v.AudioEnabled,
			AudioGain:    gain,
			Priority:     v.Priority,
		})
	}
	return result
}

// Transform returns the configured spectrum transform.
func (c *Config) Transform() (compute.Transform, error) {
	return compute.ParseTransform(c.Compute.Transform)
}

// Window returns the configured window function.
func (c *Config) Window() (dsp.Window, error) {
	return dsp.ParseWindow(c.Compute.Window)
}
