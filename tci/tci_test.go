package tci

import (
	"testing"

	tci "github.com/ftl/tci/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/vfo"
)

type fakeReceiver struct {
	centerFrequency float64
	blocks          [][]float32
	sampleRates     []int
}

func (r *fakeReceiver) Start(int, int) {}
func (r *fakeReceiver) Stop()          {}

func (r *fakeReceiver) SetCenterFrequency(frequency float64) {
	r.centerFrequency = frequency
}

func (r *fakeReceiver) IQData(sampleRate int, data []float32) {
	r.sampleRates = append(r.sampleRates, sampleRate)
	r.blocks = append(r.blocks, data)
}

func TestListener_IgnoresOtherTRX(t *testing.T) {
	receiver := &fakeReceiver{}
	listener := &tciListener{process: &Process{trx: 1, receiver: receiver}, trx: 1}

	listener.SetDDS(0, 14000000)
	listener.IQData(0, tci.IQSampleRate(48000), make([]float32, 2048))
	assert.Equal(t, 0.0, receiver.centerFrequency)
	assert.Empty(t, receiver.blocks)

	listener.SetDDS(1, 7050000)
	assert.Equal(t, 7050000.0, receiver.centerFrequency)
}

func TestListener_SplitsIQDataIntoParts(t *testing.T) {
	receiver := &fakeReceiver{}
	listener := &tciListener{process: &Process{trx: 0, receiver: receiver}, trx: 0}
	data := make([]float32, 2048)
	for i := range data {
		data[i] = float32(i)
	}

	listener.IQData(0, tci.IQSampleRate(48000), data)

	require.Len(t, receiver.blocks, partCount)
	for i, block := range receiver.blocks {
		assert.Len(t, block, 2048/partCount)
		assert.Equal(t, float32(i*2048/partCount), block[0])
		assert.Equal(t, 48000, receiver.sampleRates[i])
	}
}

func TestSpotMode(t *testing.T) {
	tt := []struct {
		mode     demod.Mode
		expected tci.Mode
	}{
		{demod.AM, tci.ModeAM},
		{demod.FM, tci.ModeNFM},
		{demod.NFM, tci.ModeNFM},
		{demod.WFM, tci.ModeWFM},
		{demod.USB, tci.ModeUSB},
		{demod.LSB, tci.ModeLSB},
		{demod.CW, tci.ModeCW},
		{"RTTY", tci.ModeUSB},
	}
	for _, tc := range tt {
		t.Run(string(tc.mode), func(t *testing.T) {
			assert.Equal(t, tc.expected, spotMode(tc.mode))
		})
	}
}

func TestSpotLabelAndColor(t *testing.T) {
	state := vfo.State{Config: vfo.Config{ID: 3, Mode: demod.CW}, Status: vfo.Active}

	assert.Equal(t, "VFO3 CW", spotLabel(state))
	assert.Equal(t, activeColor, spotColor(vfo.Active))
	assert.Equal(t, errorColor, spotColor(vfo.Error))
	assert.Equal(t, idleColor, spotColor(vfo.Idle))
}

func TestSplitHostPort(t *testing.T) {
	tt := []struct {
		value string
		host  string
		port  string
	}{
		{"", "", ""},
		{"localhost", "localhost", ""},
		{"localhost:40001", "localhost", "40001"},
		{":50001", "", "50001"},
		{"[::1]:40001", "::1", "40001"},
		{"[::1]", "::1", ""},
	}
	for _, tc := range tt {
		t.Run(tc.value, func(t *testing.T) {
			host, port := splitHostPort(tc.value)
			assert.Equal(t, tc.host, host)
			assert.Equal(t, tc.port, port)
		})
	}
}

func TestParseTCPAddrArg(t *testing.T) {
	addr, err := parseTCPAddrArg("", "127.0.0.1", defaultPort)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:40001", addr.String())

	addr, err = parseTCPAddrArg("127.0.0.1:50001", defaultHostname, defaultPort)
	require.NoError(t, err)
	assert.Equal(t, 50001, addr.Port)

	_, err = parseTCPAddrArg("127.0.0.1:port", defaultHostname, defaultPort)
	assert.Error(t, err)
}
