package rx

import (
	"bytes"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/multirx/audio"
	"github.com/ftl/multirx/compute"
	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/render"
	"github.com/ftl/multirx/vfo"
)

const (
	testTimeout   = 5 * time.Second
	testBlockSize = 1024
	testCenter    = 7000000.0
)

type recordingSink struct {
	lock    sync.Mutex
	samples int
	closed  bool
}

func (s *recordingSink) WriteAudio(block []float32) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return audio.ErrClosed
	}
	s.samples += len(block)
	return nil
}

func (s *recordingSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Samples() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.samples
}

type recordingSinks struct {
	lock  sync.Mutex
	sinks map[string]*recordingSink
}

func (s *recordingSinks) factory() audio.SinkFactory {
	return func(name string, _ int) (audio.Sink, error) {
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.sinks == nil {
			s.sinks = make(map[string]*recordingSink)
		}
		sink := new(recordingSink)
		s.sinks[name] = sink
		return sink, nil
	}
}

func (s *recordingSinks) get(name string) *recordingSink {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.sinks[name]
}

type recordingDisplay struct {
	lock   sync.Mutex
	frames []render.Frame
}

func (d *recordingDisplay) Enqueue(frame render.Frame) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.frames = append(d.frames, frame)
	return true
}

func (d *recordingDisplay) Frames() []render.Frame {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]render.Frame{}, d.frames...)
}

type recordingObserver struct {
	lock     sync.Mutex
	events   []string
	warnings []vfo.Warning
}

func (o *recordingObserver) record(event string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) VFOAdded(state vfo.State)   { o.record("added " + string(state.Status)) }
func (o *recordingObserver) VFOUpdated(state vfo.State) { o.record("updated " + string(state.Status)) }
func (o *recordingObserver) VFORemoved(vfo.ID)          { o.record("removed") }
func (o *recordingObserver) VFOWarning(warning vfo.Warning) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.warnings = append(o.warnings, warning)
}

func (o *recordingObserver) Events() []string {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]string{}, o.events...)
}

func interleavedTone(n int, sampleRate int, frequency float64, amplitude float64) []float32 {
	result := make([]float32, 2*n)
	for i, s := range toneIQ(n, sampleRate, frequency, amplitude) {
		result[2*i] = real(s)
		result[2*i+1] = imag(s)
	}
	return result
}

func newTestReceiver(t *testing.T, pool *compute.Pool, sinks *recordingSinks, observers ...vfo.Observer) *Receiver {
	t.Helper()
	settings := DefaultSettings()
	settings.SampleRate = testSampleRate
	settings.BlockSize = testBlockSize
	settings.SpectrumInterval = 1
	settings.WaterfallRows = 3
	if sinks != nil {
		settings.AudioSinks = sinks.factory()
	}
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	result := NewReceiver("test", settings, pool, clock, observers...)
	result.SetCenterFrequency(testCenter)
	return result
}

func TestReceiver_ValidatesAgainstTheHardwareWindow(t *testing.T) {
	receiver := newTestReceiver(t, nil, nil)
	defer receiver.Close()

	_, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7100000, Mode: demod.USB, BandwidthHz: 3000})
	assert.ErrorIs(t, err, vfo.ErrOutOfRange)

	state, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7010000, Mode: demod.USB, BandwidthHz: 3000})
	require.NoError(t, err)
	assert.Equal(t, vfo.Active, state.Status)
	assert.IsType(t, &Channel{}, state.Demodulator)
	assert.Nil(t, state.AudioSink)

	receiver.SetCenterFrequency(14000000)
	_, err = receiver.AddVFO(vfo.Config{ID: 2, CenterHz: 7012000, Mode: demod.USB, BandwidthHz: 3000})
	assert.ErrorIs(t, err, vfo.ErrOutOfRange)
	assert.Len(t, receiver.VFOs(), 1)
}

func TestReceiver_DemodulatesActiveVFOs(t *testing.T) {
	sinks := new(recordingSinks)
	observer := new(recordingObserver)
	receiver := newTestReceiver(t, nil, sinks, observer)
	receiver.Start(testSampleRate, testBlockSize)
	defer receiver.Close()

	_, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7005000, Mode: demod.AM, BandwidthHz: 6000, AudioEnabled: true})
	require.NoError(t, err)
	_, err = receiver.AddVFO(vfo.Config{ID: 2, CenterHz: 6990000, Mode: demod.USB, BandwidthHz: 3000})
	require.NoError(t, err)

	block := interleavedTone(testBlockSize, testSampleRate, 5000, 0.5)
	require.Eventually(t, func() bool {
		receiver.IQData(testSampleRate, block)
		state, _ := receiver.VFO(2)
		return state.Metrics.SamplesProcessed >= 4*testBlockSize
	}, testTimeout, time.Millisecond)

	state1, _ := receiver.VFO(1)
	state2, _ := receiver.VFO(2)
	assert.Greater(t, state1.Metrics.RSSI, state2.Metrics.RSSI+10, "the tone is only in the channel of vfo 1")
	assert.InDelta(t, 10*math.Log10(0.25), state1.Metrics.RSSI, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), state1.Metrics.Timestamp)

	sink := sinks.get("vfo-1")
	require.NotNil(t, sink)
	assert.Eventually(t, func() bool { return sink.Samples() >= 4*testBlockSize }, testTimeout, time.Millisecond)
	assert.Nil(t, sinks.get("vfo-2"))

	assert.True(t, receiver.RemoveVFO(1))
	assert.True(t, sink.closed)
	assert.False(t, receiver.RemoveVFO(1))
	assert.Equal(t, []string{"added active", "added active", "removed"}, observer.Events())
}

func TestReceiver_AudioSinkFailureSetsErrorStatus(t *testing.T) {
	sinks := new(recordingSinks)
	observer := new(recordingObserver)
	receiver := newTestReceiver(t, nil, sinks, observer)
	receiver.Start(testSampleRate, testBlockSize)
	defer receiver.Close()

	_, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7005000, Mode: demod.AM, BandwidthHz: 6000, AudioEnabled: true})
	require.NoError(t, err)
	sinks.get("vfo-1").Close()

	block := interleavedTone(testBlockSize, testSampleRate, 5000, 0.5)
	require.Eventually(t, func() bool {
		receiver.IQData(testSampleRate, block)
		state, _ := receiver.VFO(1)
		return state.Status == vfo.Error
	}, testTimeout, time.Millisecond)

	ok, err := receiver.SetAudioEnabled(1, false)
	assert.True(t, ok)
	assert.NoError(t, err)
	require.Eventually(t, func() bool {
		receiver.IQData(testSampleRate, block)
		state, _ := receiver.VFO(1)
		return state.Status == vfo.Active
	}, testTimeout, time.Millisecond)

	assert.Contains(t, observer.Events(), "updated error")
}

func TestReceiver_PublishesSpectrumAndWaterfall(t *testing.T) {
	pool := compute.NewPool(2, nil)
	defer pool.Close()
	receiver := newTestReceiver(t, pool, nil)
	spectrum := new(recordingDisplay)
	waterfall := new(recordingDisplay)
	audioDisplay := new(recordingDisplay)
	receiver.SetSpectrumDisplay(spectrum)
	receiver.SetWaterfallDisplay(waterfall)
	receiver.SetAudioDisplay(audioDisplay)
	receiver.Start(testSampleRate, testBlockSize)
	defer receiver.Close()

	_, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7005000, Mode: demod.AM, BandwidthHz: 3000})
	require.NoError(t, err)

	block := interleavedTone(testBlockSize, testSampleRate, 5000, 0.5)
	require.Eventually(t, func() bool {
		receiver.IQData(testSampleRate, block)
		state, _ := receiver.VFO(1)
		return len(waterfall.Frames()) >= 4 && state.Metrics.SNR != nil
	}, testTimeout, time.Millisecond)

	frames := spectrum.Frames()
	require.NotEmpty(t, frames)
	payload, ok := frames[0].Payload.(render.Spectrum)
	require.True(t, ok)
	assert.Equal(t, testCenter-testSampleRate/2, payload.FromHz)
	assert.Equal(t, testCenter+testSampleRate/2, payload.ToHz)
	assert.Len(t, payload.Magnitude, testBlockSize)
	assert.Equal(t, 7005000.0, payload.Markers["vfo 1"])

	rows := waterfall.Frames()[3].Payload.(render.Waterfall).Rows
	assert.Len(t, rows, 3)

	state, _ := receiver.VFO(1)
	assert.Greater(t, *state.Metrics.SNR, 20.0)

	samples := audioDisplay.Frames()
	require.NotEmpty(t, samples)
	assert.Equal(t, "vfo 1", samples[0].Payload.(render.Samples).Source)

	var ids []render.FrameID
	for _, frame := range append(append(frames, waterfall.Frames()...), samples...) {
		ids = append(ids, frame.ID)
	}
	assert.Len(t, uniqueIDs(ids), len(ids), "frame ids are unique")
}

func uniqueIDs(ids []render.FrameID) map[render.FrameID]bool {
	result := make(map[render.FrameID]bool)
	for _, id := range ids {
		result[id] = true
	}
	return result
}

func TestReceiver_IgnoresUnexpectedIQData(t *testing.T) {
	receiver := newTestReceiver(t, nil, nil)
	receiver.IQData(testSampleRate, make([]float32, 2*testBlockSize))

	receiver.Start(testSampleRate, testBlockSize)
	defer receiver.Close()
	_, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7005000, Mode: demod.AM, BandwidthHz: 3000})
	require.NoError(t, err)

	receiver.IQData(96000, make([]float32, 2*testBlockSize))
	receiver.IQData(testSampleRate, make([]float32, testBlockSize))
	receiver.CenterFrequency() // wait for the processing loop

	state, _ := receiver.VFO(1)
	assert.Equal(t, uint64(0), state.Metrics.SamplesProcessed)
}

func TestReceiver_StopWhileIQDataArrives(t *testing.T) {
	receiver := newTestReceiver(t, nil, nil)
	receiver.Start(testSampleRate, testBlockSize)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		block := make([]float32, 2*testBlockSize)
		for {
			select {
			case <-done:
				return
			default:
				receiver.IQData(testSampleRate, block)
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	receiver.Stop()
	time.Sleep(10 * time.Millisecond)
	close(done)
	wg.Wait()

	receiver.IQData(testSampleRate, make([]float32, 2*testBlockSize))
	receiver.Close()
}

func TestReceiver_RestartWithNewSampleRate(t *testing.T) {
	receiver := newTestReceiver(t, nil, nil)
	_, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7005000, Mode: demod.FM, BandwidthHz: 12000})
	require.NoError(t, err)

	receiver.Start(testSampleRate, testBlockSize)
	receiver.Stop()
	receiver.Stop()
	receiver.Start(96000, 2048)
	defer receiver.Close()

	assert.Equal(t, 96000, receiver.SampleRate())
	state, _ := receiver.VFO(1)
	assert.Equal(t, 96000, state.Demodulator.(*Channel).sampleRate)
}

func TestReceiver_UpdateVFO(t *testing.T) {
	receiver := newTestReceiver(t, nil, nil)
	receiver.Start(testSampleRate, testBlockSize)
	defer receiver.Close()

	_, err := receiver.AddVFO(vfo.Config{ID: 1, CenterHz: 7005000, Mode: demod.AM, BandwidthHz: 3000})
	require.NoError(t, err)

	mode := demod.USB
	ok, err := receiver.UpdateVFO(1, vfo.Patch{Mode: &mode})
	assert.True(t, ok)
	assert.NoError(t, err)

	outside := 7030000.0
	ok, err = receiver.UpdateVFO(1, vfo.Patch{CenterHz: &outside})
	assert.True(t, ok)
	assert.ErrorIs(t, err, vfo.ErrOutOfRange)

	ok, err = receiver.UpdateVFO(2, vfo.Patch{Mode: &mode})
	assert.False(t, ok)
	assert.NoError(t, err)

	state, _ := receiver.VFO(1)
	assert.Equal(t, demod.USB, state.Mode)
	assert.Equal(t, 7005000.0, state.CenterHz)

	receiver.ClearVFOs()
	assert.Empty(t, receiver.VFOs())
}

func TestTextReporter(t *testing.T) {
	out := &bytes.Buffer{}
	reporter := NewTextReporter(out)

	state := vfo.State{Config: vfo.Config{ID: 1, CenterHz: 7005000, Mode: demod.USB, BandwidthHz: 3000}, Status: vfo.Active}
	reporter.VFOAdded(state)
	state.AudioEnabled = true
	reporter.VFOUpdated(state)
	reporter.VFOWarning(vfo.Warning{Kind: vfo.SpacingConflict, Message: "vfo 1 and vfo 2 are too close"})
	reporter.VFORemoved(1)
	reporter.FrameDropped(render.Drop{Surface: "spectrum", FrameID: 7, Reason: render.ReasonQueueFull})
	reporter.RenderError(8, errors.New("boom"))

	assert.Equal(t, `vfo 1 added: USB on 7005.000kHz, 3000Hz wide, active
vfo 1 updated: USB on 7005.000kHz, 3000Hz wide, audio on, active
warning: vfo 1 and vfo 2 are too close
vfo 1 removed
spectrum: frame 7 dropped (queue_full)
cannot render frame 8: boom
`, out.String())
}
