package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/multirx/scope"
)

func TestLevelBar(t *testing.T) {
	tt := []struct {
		values   []float64
		floor    float64
		width    int
		expected string
	}{
		{values: nil, width: 4, expected: ""},
		{values: []float64{-100, -100}, floor: -100, width: 4, expected: "  "},
		{values: []float64{-100, -40}, floor: -100, width: 2, expected: " @"},
		{values: []float64{-100, -100, -40, -40}, floor: -100, width: 2, expected: " @"},
		{values: []float64{-100, -70, -100, -100}, floor: -100, width: 2, expected: "= "},
		{values: []float64{0}, floor: -100, width: 3, expected: "@"},
	}
	for i, tc := range tt {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			assert.Equal(t, tc.expected, levelBar(tc.values, tc.floor, tc.width))
		})
	}
}

func TestTextBackend(t *testing.T) {
	out := &bytes.Buffer{}
	backend, err := TextBackendFactory(out)("spectrum", Size{Width: 10})
	require.NoError(t, err)
	assert.Equal(t, "text", backend.Name())

	require.NoError(t, backend.Render(Frame{ID: 1, Payload: Spectrum{FromHz: 7000000, ToHz: 7048000, Magnitude: []float64{-100, -40}, NoiseFloor: -100}}))
	require.NoError(t, backend.Render(Frame{ID: 2, Payload: Samples{Source: "vfo 1", Values: []float32{0.5, -0.5}}}))
	require.NoError(t, backend.Render(Frame{ID: 3, Payload: Waterfall{Rows: [][]float64{{-100, -40}, {-100, -100}}}}))
	require.NoError(t, backend.Render(Frame{ID: 4, Payload: Waterfall{}}))
	err = backend.Render(Frame{ID: 5})
	assert.ErrorIs(t, err, ErrUnknownPayload)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "spectrum #1 | @| 7000.000-7048.000kHz", lines[0])
	assert.Equal(t, "spectrum #2 vfo 1 [#####     ] rms 0.500 peak 0.500", lines[1])
	assert.Equal(t, "spectrum #3 | @| 2 rows", lines[2])
	assert.Equal(t, "spectrum #4 ||", lines[3])
}

func TestTextBackend_DefaultWidth(t *testing.T) {
	backend, err := TextBackendFactory(&bytes.Buffer{})("audio", Size{})
	require.NoError(t, err)
	assert.Equal(t, defaultTextWidth, backend.(*TextBackend).width)

	require.NoError(t, backend.Resize(Size{Width: 20}))
	assert.Equal(t, 20, backend.(*TextBackend).width)
}

func TestWebsocketBackend_BroadcastsFrames(t *testing.T) {
	backend, err := NewWebsocketBackend("spectrum", Size{Width: 640, Height: 480}, "localhost:0")
	require.NoError(t, err)
	defer backend.Close()

	url := fmt.Sprintf("ws://%s%s", backend.Addr(), WebsocketPath)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return backend.ClientCount() == 1 }, testTimeout, time.Millisecond)

	frame := Frame{
		ID:        7,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload: Spectrum{
			FromHz:    7000000,
			ToHz:      7048000,
			Magnitude: []float64{-100, -60, -100},
			Markers:   map[string]float64{"vfo 1": 7010000},
		},
	}
	require.NoError(t, backend.Render(frame))

	var msg websocketMessage
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websocketMessage{
		Surface:   "spectrum",
		Frame:     7,
		Kind:      "spectrum",
		Timestamp: frame.Timestamp,
		Width:     640,
		Height:    480,
		FromHz:    7000000,
		ToHz:      7048000,
		Values:    []float64{-100, -60, -100},
		Markers:   map[string]float64{"vfo 1": 7010000},
	}, msg)

	conn.Close()
	assert.Eventually(t, func() bool { return backend.ClientCount() == 0 }, testTimeout, time.Millisecond)
}

func TestWebsocketBackend_NotAvailableOnInvalidAddress(t *testing.T) {
	_, err := WebsocketBackendFactory("invalid:address:0")("spectrum", Size{})
	assert.Error(t, err)
}

func TestSurface_FallsBackToTextWhenScopeIsNotAvailable(t *testing.T) {
	out := &bytes.Buffer{}
	surface, err := NewSurface("spectrum", Size{Width: 8}, []BackendFactory{
		ScopeBackendFactory("invalid:address:0"),
		TextBackendFactory(out),
	}, nil)
	require.NoError(t, err)
	defer surface.Dispose()

	assert.Equal(t, "text", surface.Backend())
}

func TestScopeBackend_StreamsSpectralFrames(t *testing.T) {
	server := scope.NewServer("localhost:0")
	require.NoError(t, server.Start())
	defer server.Stop()

	backend, err := SharedScopeBackendFactory(server)("spectrum", Size{})
	require.NoError(t, err)
	assert.Equal(t, "scope", backend.Name())

	client := scope.NewClient(server.Addr().String())
	require.NoError(t, client.Open())
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	frames, err := client.GetFrames(ctx)
	require.NoError(t, err)

	frame := Frame{
		ID:        1,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload: Spectrum{
			FromHz:     7000000,
			ToHz:       7048000,
			Magnitude:  []float64{-100, -60},
			NoiseFloor: -100,
			Markers:    map[string]float64{"vfo 1": 7010000},
		},
	}

	// frames are only sent to streams that are already registered on the server
	var received *scope.SpectralFrame
	require.Eventually(t, func() bool {
		if backend.Render(frame) != nil {
			return false
		}
		select {
		case received = <-frames.Spectral:
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, testTimeout, time.Millisecond)

	assert.Equal(t, scope.StreamID("spectrum"), received.Stream)
	assert.Equal(t, 7000000.0, received.FromFrequency)
	assert.Equal(t, 7048000.0, received.ToFrequency)
	assert.Equal(t, []float64{-100, -60}, received.Values)
	assert.Equal(t, 7010000.0, received.FrequencyMarkers["vfo 1"])
	assert.Equal(t, -100.0, received.MagnitudeMarkers["noise_floor"])

	require.NoError(t, backend.Close())
	assert.True(t, server.Active())
}

func TestSharedScopeBackend_NotAvailableWithoutServer(t *testing.T) {
	_, err := SharedScopeBackendFactory(scope.NewServer("localhost:0"))("spectrum", Size{})
	assert.Error(t, err)
}
