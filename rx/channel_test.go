package rx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/vfo"
)

const testSampleRate = 48000

func toneIQ(n int, sampleRate int, frequency float64, amplitude float64) []complex64 {
	result := make([]complex64, n)
	for i := range result {
		phase := 2 * math.Pi * frequency * float64(i) / float64(sampleRate)
		result[i] = complex(float32(amplitude*math.Cos(phase)), float32(amplitude*math.Sin(phase)))
	}
	return result
}

func testChannel(t *testing.T, cfg vfo.Config) *Channel {
	t.Helper()
	if cfg.AudioGain == 0 {
		cfg.AudioGain = vfo.DefaultAudioGain
	}
	channel, err := NewChannel(cfg, testSampleRate, demod.DefaultParams(testSampleRate, demod.FM))
	require.NoError(t, err)
	return channel
}

func TestChannel_SelectsTheVFOFrequency(t *testing.T) {
	tt := []struct {
		desc      string
		frequency float64
	}{
		{"above hardware center", 7005000},
		{"below hardware center", 6990000},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			channel := testChannel(t, vfo.Config{ID: 1, CenterHz: tc.frequency, Mode: demod.AM, BandwidthHz: 2000})
			offset := tc.frequency - 7000000

			var inBand, outOfBand float64
			inBandBlock := toneIQ(4800, testSampleRate, offset, 0.5)
			outOfBandBlock := toneIQ(4800, testSampleRate, offset+15000, 0.5)
			for i := 0; i < 3; i++ {
				_, inBand = channel.Process(inBandBlock, 7000000)
			}
			for i := 0; i < 3; i++ {
				_, outOfBand = channel.Process(outOfBandBlock, 7000000)
			}

			assert.InDelta(t, 0.25, inBand, 0.01)
			assert.Less(t, outOfBand, inBand/10)
		})
	}
}

func TestChannel_ProcessReturnsOneAudioSamplePerIQSample(t *testing.T) {
	channel := testChannel(t, vfo.Config{ID: 1, CenterHz: 1000, Mode: demod.USB, BandwidthHz: 3000})

	audio, _ := channel.Process(toneIQ(512, testSampleRate, 1500, 0.5), 0)
	assert.Len(t, audio, 512)
	for _, sample := range audio {
		assert.LessOrEqual(t, math.Abs(float64(sample)), 1.0)
	}

	audio, _ = channel.Process(toneIQ(256, testSampleRate, 1500, 0.5), 0)
	assert.Len(t, audio, 256)
}

func TestChannel_NonFiniteBlockIsSilent(t *testing.T) {
	channel := testChannel(t, vfo.Config{ID: 1, CenterHz: 0, Mode: demod.AM, BandwidthHz: 6000})
	block := toneIQ(128, testSampleRate, 500, 0.5)
	block[10] = complex(float32(math.NaN()), 0)

	audio, _ := channel.Process(block, 0)
	require.Len(t, audio, 128)
	for _, sample := range audio {
		assert.Equal(t, float32(0), sample)
	}
}

func TestChannel_Reconfigure(t *testing.T) {
	channel := testChannel(t, vfo.Config{ID: 3, CenterHz: 7010000, Mode: demod.USB, BandwidthHz: 3000})
	assert.Equal(t, vfo.ID(3), channel.ID())
	assert.Equal(t, demod.USB, channel.Mode())

	err := channel.Reconfigure(vfo.Config{ID: 3, CenterHz: 7012000, Mode: demod.CW, BandwidthHz: 500, AudioGain: 0.5})
	require.NoError(t, err)
	assert.Equal(t, demod.USB, channel.Mode(), "the new configuration is applied with the next block")

	channel.Process(toneIQ(64, testSampleRate, 12000, 0.5), 7000000)
	assert.Equal(t, demod.CW, channel.Mode())
	assert.Equal(t, 12000.0, channel.mixer.Offset())
	assert.Equal(t, 500.0, channel.bandwidthHz)

	err = channel.Reconfigure(vfo.Config{ID: 3, CenterHz: 7012000, Mode: "RTTY", BandwidthHz: 500, AudioGain: 1})
	assert.ErrorIs(t, err, demod.ErrInvalidMode)
}

func TestChannel_SetSampleRate(t *testing.T) {
	channel := testChannel(t, vfo.Config{ID: 1, CenterHz: 1000, Mode: demod.FM, BandwidthHz: 12000})

	require.NoError(t, channel.SetSampleRate(96000))
	channel.Process(toneIQ(64, 96000, 1000, 0.5), 0)
	assert.Equal(t, 96000, channel.engine.Params().SampleRate)

	assert.Error(t, channel.SetSampleRate(0))
	assert.Equal(t, 96000, channel.sampleRate)
}

func TestChannel_Close(t *testing.T) {
	channel := testChannel(t, vfo.Config{ID: 1, CenterHz: 1000, Mode: demod.AM, BandwidthHz: 6000})

	assert.NoError(t, channel.Close())
	assert.NoError(t, channel.Close())

	audio, power := channel.Process(toneIQ(64, testSampleRate, 1000, 0.5), 0)
	assert.Nil(t, audio)
	assert.Equal(t, 0.0, power)
	assert.ErrorIs(t, channel.Reconfigure(vfo.Config{ID: 1, Mode: demod.AM, BandwidthHz: 6000, AudioGain: 1}), ErrChannelClosed)
	assert.ErrorIs(t, channel.SetSampleRate(96000), ErrChannelClosed)
}

func TestNewChannel_InvalidMode(t *testing.T) {
	_, err := NewChannel(vfo.Config{ID: 1, Mode: "RTTY", AudioGain: 1}, testSampleRate, demod.DefaultParams(testSampleRate, demod.FM))
	assert.ErrorIs(t, err, demod.ErrInvalidMode)
}
