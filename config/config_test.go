package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/multirx/compute"
	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/dsp"
	"github.com/ftl/multirx/vfo"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "multirx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const exampleConfig = `
hardware:
  center_hz: 7100000
  sample_rate: 96000
  block_size: 1024
max_vfos: 4
spacing:
  cw: 250
vfos:
  - id: 1
    center_hz: 7074000
    mode: usb
    bandwidth_hz: 2700
    audio: true
  - id: 2
    center_hz: 7030000
    mode: CW
    bandwidth_hz: 500
    gain: 0.5
    priority: 9
demod:
  agc: slow
  squelch: 0.05
  cw_tone_hz: 600
compute:
  workers: 4
  fft_size: 2048
  transform: direct
  window: blackman-harris
render:
  backends: [scope, text]
audio:
  sink: wav
  dir: /tmp/recordings
`

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 7100000.0, cfg.Hardware.CenterHz)
	assert.Equal(t, 96000, cfg.Hardware.SampleRate)
	assert.Equal(t, 1024, cfg.Hardware.BlockSize)
	assert.Equal(t, 4, cfg.MaxVFOs)
	assert.Equal(t, []string{ScopeBackend, TextBackend}, cfg.Render.Backends)
	assert.Equal(t, "localhost:35370", cfg.Render.WebsocketAddress, "defaults are kept")
	assert.Equal(t, WAVSink, cfg.Audio.Sink)
	assert.Equal(t, 10, cfg.Compute.SpectrumInterval)

	spacing := cfg.SpacingTable()
	assert.Equal(t, 250.0, spacing[demod.CW])
	assert.Equal(t, vfo.DefaultSpacing()[demod.USB], spacing[demod.USB])

	params := cfg.DemodParams()
	assert.Equal(t, 96000, params.SampleRate)
	assert.Equal(t, demod.AGCSlow, params.AGC)
	assert.Equal(t, 0.05, params.SquelchThreshold)
	assert.Equal(t, 600.0, params.CWToneHz)
	assert.NoError(t, params.Validate())

	vfos := cfg.InitialVFOs()
	require.Len(t, vfos, 2)
	assert.Equal(t, vfo.Config{ID: 1, CenterHz: 7074000, Mode: demod.USB, BandwidthHz: 2700, AudioEnabled: true, AudioGain: 1}, vfos[0])
	assert.Equal(t, vfo.Config{ID: 2, CenterHz: 7030000, Mode: demod.CW, BandwidthHz: 500, AudioGain: 0.5, Priority: 9}, vfos[1])

	transform, err := cfg.Transform()
	require.NoError(t, err)
	assert.IsType(t, &compute.DirectTransform{}, transform)
	window, err := cfg.Window()
	require.NoError(t, err)
	assert.Equal(t, dsp.BlackmanHarrisWindow, window)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeTempConfig(t, ":\n:bad"))
	assert.ErrorContains(t, err, "cannot parse config file")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MULTIRX_CENTER_HZ", "14074000")
	t.Setenv("MULTIRX_MAX_VFOS", "12")
	t.Setenv("MULTIRX_RENDER_BACKENDS", "websocket, scope")
	t.Setenv("MULTIRX_AUDIO_SINK", "pulse")

	cfg, err := Load(writeTempConfig(t, exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 14074000.0, cfg.Hardware.CenterHz)
	assert.Equal(t, 12, cfg.MaxVFOs)
	assert.Equal(t, []string{WebsocketBackend, ScopeBackend}, cfg.Render.Backends)
	assert.Equal(t, PulseSink, cfg.Audio.Sink)
}

func TestLoad_InvalidEnvironmentOverride(t *testing.T) {
	t.Setenv("MULTIRX_SAMPLE_RATE", "fast")

	_, err := Load(writeTempConfig(t, exampleConfig))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "MULTIRX_SAMPLE_RATE")
}

func TestValidate(t *testing.T) {
	tt := []struct {
		desc   string
		modify func(*Config)
		msg    string
	}{
		{"negative center", func(c *Config) { c.Hardware.CenterHz = -1 }, "hardware.center_hz"},
		{"no sample rate", func(c *Config) { c.Hardware.SampleRate = 0 }, "hardware.sample_rate"},
		{"no block size", func(c *Config) { c.Hardware.BlockSize = 0 }, "hardware.block_size"},
		{"no vfos allowed", func(c *Config) { c.MaxVFOs = 0 }, "max_vfos"},
		{"unknown spacing mode", func(c *Config) { c.Spacing = map[string]float64{"rtty": 100} }, "spacing"},
		{"negative spacing", func(c *Config) { c.Spacing = map[string]float64{"am": -1} }, "spacing.am"},
		{"duplicate vfo id", func(c *Config) {
			c.VFOs = []VFOConfig{{ID: 1, Mode: "AM", BandwidthHz: 6000}, {ID: 1, Mode: "FM", BandwidthHz: 12000}}
		}, "duplicate id 1"},
		{"unknown vfo mode", func(c *Config) { c.VFOs = []VFOConfig{{ID: 1, Mode: "RTTY", BandwidthHz: 500}} }, "vfos[0]"},
		{"no vfo bandwidth", func(c *Config) { c.VFOs = []VFOConfig{{ID: 1, Mode: "AM"}} }, "bandwidth_hz"},
		{"unknown agc", func(c *Config) { c.Demod.AGC = "turbo" }, "demod.agc"},
		{"no workers", func(c *Config) { c.Compute.Workers = 0 }, "compute.workers"},
		{"unknown transform", func(c *Config) { c.Compute.Transform = "wavelet" }, "compute.transform"},
		{"unknown window", func(c *Config) { c.Compute.Window = "kaiser" }, "compute.window"},
		{"no backend", func(c *Config) { c.Render.Backends = nil }, "render.backends"},
		{"unknown backend", func(c *Config) { c.Render.Backends = []string{"opengl"} }, "opengl"},
		{"no render size", func(c *Config) { c.Render.Width = 0 }, "render size"},
		{"unknown sink", func(c *Config) { c.Audio.Sink = "alsa" }, "audio.sink"},
		{"wav without dir", func(c *Config) { c.Audio.Sink = WAVSink; c.Audio.Dir = "" }, "audio.dir"},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()

			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestValidate_Default(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
