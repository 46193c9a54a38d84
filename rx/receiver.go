package rx

import (
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/ftl/multirx/audio"
	"github.com/ftl/multirx/compute"
	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/dsp"
	"github.com/ftl/multirx/render"
	"github.com/ftl/multirx/trace"
	"github.com/ftl/multirx/vfo"
)

const (
	iqBufferSize      = 100
	noiseWindow       = 10
	maxPendingSpectra = 8
	collectInterval   = 50 * time.Millisecond

	DefaultMaxVFOs          = 8
	DefaultSampleRate       = 48000
	DefaultBlockSize        = 1024
	DefaultSpectrumInterval = 10
	DefaultWaterfallRows    = 64
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

var WallClock = ClockFunc(time.Now)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Add(d time.Duration) {
	c.now = c.now.Add(d)
}

// Display takes the frames for one visualization. *render.Surface is a Display.
type Display interface {
	Enqueue(render.Frame) bool
}

// Settings of a receiver. The demodulator parameters are the template for all VFOs, their mode, sample
// rate and volume are taken from the VFO configuration.
type Settings struct {
	SampleRate       int
	BlockSize        int
	MaxVFOs          int
	Spacing          vfo.SpacingTable
	Demod            demod.Params
	AudioSinks       audio.SinkFactory
	FFTSize          int
	Window           dsp.Window
	SpectrumInterval int
	WaterfallRows    int
}

func DefaultSettings() Settings {
	return Settings{
		SampleRate:       DefaultSampleRate,
		BlockSize:        DefaultBlockSize,
		MaxVFOs:          DefaultMaxVFOs,
		Spacing:          vfo.DefaultSpacing(),
		Demod:            demod.DefaultParams(DefaultSampleRate, demod.FM),
		AudioSinks:       audio.DiscardFactory(),
		Window:           dsp.HannWindow,
		SpectrumInterval: DefaultSpectrumInterval,
		WaterfallRows:    DefaultWaterfallRows,
	}
}

func (s Settings) withDefaults() Settings {
	defaults := DefaultSettings()
	if s.SampleRate <= 0 {
		s.SampleRate = defaults.SampleRate
	}
	if s.BlockSize <= 0 {
		s.BlockSize = defaults.BlockSize
	}
	if s.MaxVFOs <= 0 {
		s.MaxVFOs = defaults.MaxVFOs
	}
	if s.Spacing == nil {
		s.Spacing = defaults.Spacing
	}
	if s.Demod.AGC == "" {
		s.Demod = defaults.Demod
	}
	if s.AudioSinks == nil {
		s.AudioSinks = defaults.AudioSinks
	}
	if s.SpectrumInterval <= 0 {
		s.SpectrumInterval = defaults.SpectrumInterval
	}
	if s.WaterfallRows <= 0 {
		s.WaterfallRows = defaults.WaterfallRows
	}
	return s
}

type pendingSpectrum struct {
	future     *compute.Future
	centerHz   float64
	sampleRate int
}

// Receiver ingests the wideband IQ data, demodulates all active VFOs and feeds the spectral compute pool
// and the displays. All VFO operations are executed by the processing loop between two blocks.
type Receiver struct {
	id       string
	clock    Clock
	settings Settings
	registry *vfo.Registry
	pool     *compute.Pool

	sampleRate      int
	blockSize       int
	centerFrequency float64

	ingest  sync.RWMutex
	in      chan []float32
	op      chan func()
	stop    chan struct{}
	stopped chan struct{}

	spectrumDisplay  Display
	waterfallDisplay Display
	audioDisplay     Display
	tracer           trace.Tracer

	block       []complex64
	blockCount  int
	nextTaskID  compute.TaskID
	nextFrameID render.FrameID
	pending     []pendingSpectrum
	noiseFloor  *dsp.RollingMean[float64]
	waterfall   [][]float64
	snr         map[vfo.ID]float64
}

// NewReceiver creates a new receiver. The pool is optional, without a pool no spectrum is computed. The
// observers are notified about all changes of the VFOs. Observers must not call the receiver.
func NewReceiver(id string, settings Settings, pool *compute.Pool, clock Clock, observers ...vfo.Observer) *Receiver {
	if clock == nil {
		clock = WallClock
	}
	settings = settings.withDefaults()
	result := &Receiver{
		id:         id,
		clock:      clock,
		settings:   settings,
		pool:       pool,
		sampleRate: settings.SampleRate,
		blockSize:  settings.BlockSize,
		noiseFloor: dsp.NewRollingMean[float64](noiseWindow),
		snr:        make(map[vfo.ID]float64),
		tracer:     new(trace.NoTracer),
	}
	result.registry = vfo.NewRegistry(settings.MaxVFOs, settings.Spacing, resources{result}, observers...)

	return result
}

// resources creates the demodulator and the audio sink of a VFO for the current sample rate.
type resources struct {
	r *Receiver
}

func (f resources) NewDemodulator(cfg vfo.Config) (vfo.Demodulator, error) {
	return NewChannel(cfg, f.r.sampleRate, f.r.settings.Demod)
}

func (f resources) NewAudioSink(cfg vfo.Config) (vfo.AudioSink, error) {
	return f.r.settings.AudioSinks(fmt.Sprintf("vfo-%d", cfg.ID), f.r.sampleRate)
}

func (r *Receiver) Start(sampleRate int, blockSize int) {
	if r.in != nil {
		return
	}

	r.ingest.Lock()
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	r.in = make(chan []float32, iqBufferSize)
	r.op = make(chan func())
	r.setSampleRate(sampleRate)
	r.blockSize = blockSize
	r.ingest.Unlock()

	r.block = make([]complex64, blockSize)
	r.blockCount = 0
	r.pending = r.pending[:0]
	r.noiseFloor.Reset()
	r.waterfall = nil
	clear(r.snr)

	r.tracer.Start()

	go r.run()
}

func (r *Receiver) setSampleRate(sampleRate int) {
	if sampleRate == r.sampleRate {
		return
	}
	r.sampleRate = sampleRate
	for _, state := range r.registry.GetAll() {
		channel, ok := state.Demodulator.(*Channel)
		if !ok {
			continue
		}
		if err := channel.SetSampleRate(sampleRate); err != nil {
			log.Printf("cannot change the sample rate of vfo %d: %v", state.ID, err)
		}
	}
}

func (r *Receiver) Stop() {
	if r.in == nil {
		return
	}

	r.tracer.Stop()

	close(r.stop)
	<-r.stopped
	close(r.op)

	r.ingest.Lock()
	r.stop = nil
	r.stopped = nil
	r.in = nil
	r.op = nil
	r.ingest.Unlock()
}

// Close stops the receiver and releases all VFOs.
func (r *Receiver) Close() {
	r.Stop()
	r.registry.Clear()
}

// do executes f in the processing loop and waits until it is done.
func (r *Receiver) do(f func()) {
	if r.op == nil {
		f()
		return
	}
	done := make(chan struct{})
	r.op <- func() {
		defer close(done)
		f()
	}
	<-done
}

func (r *Receiver) SetTracer(tracer trace.Tracer) {
	r.do(func() {
		r.tracer.Stop()
		r.tracer = tracer
		if r.in != nil {
			r.tracer.Start()
		}
	})
}

func (r *Receiver) SetSpectrumDisplay(display Display) {
	r.do(func() {
		r.spectrumDisplay = display
	})
}

func (r *Receiver) SetWaterfallDisplay(display Display) {
	r.do(func() {
		r.waterfallDisplay = display
	})
}

func (r *Receiver) SetAudioDisplay(display Display) {
	r.do(func() {
		r.audioDisplay = display
	})
}

func (r *Receiver) SetCenterFrequency(frequency float64) {
	r.do(func() {
		r.centerFrequency = frequency
		low, high := r.hardware().Window()
		for _, state := range r.registry.GetAll() {
			vfoLow, vfoHigh := state.Edges()
			if vfoLow < low || vfoHigh > high {
				log.Printf("vfo %d is outside of the hardware window %.0f-%.0fHz", state.ID, low, high)
			}
		}
	})
}

func (r *Receiver) CenterFrequency() float64 {
	var result float64
	r.do(func() {
		result = r.centerFrequency
	})
	return result
}

func (r *Receiver) SampleRate() int {
	var result int
	r.do(func() {
		result = r.sampleRate
	})
	return result
}

func (r *Receiver) hardware() vfo.Hardware {
	return vfo.Hardware{
		CenterHz:     r.centerFrequency,
		SampleRateHz: float64(r.sampleRate),
	}
}

// AddVFO validates the given configuration against the current hardware window and adds the VFO.
func (r *Receiver) AddVFO(cfg vfo.Config) (vfo.State, error) {
	var state vfo.State
	var err error
	r.do(func() {
		state, err = r.registry.Add(cfg, r.hardware())
	})
	return state, err
}

func (r *Receiver) RemoveVFO(id vfo.ID) bool {
	var result bool
	r.do(func() {
		result = r.registry.Remove(id)
	})
	return result
}

func (r *Receiver) UpdateVFO(id vfo.ID, patch vfo.Patch) (bool, error) {
	var result bool
	var err error
	r.do(func() {
		result, err = r.registry.Update(id, patch, r.hardware())
	})
	return result, err
}

func (r *Receiver) SetAudioEnabled(id vfo.ID, enabled bool) (bool, error) {
	var result bool
	var err error
	r.do(func() {
		result, err = r.registry.SetAudioEnabled(id, enabled)
	})
	return result, err
}

func (r *Receiver) ClearVFOs() {
	r.do(func() {
		r.registry.Clear()
	})
}

func (r *Receiver) SetMaxVFOs(n int) {
	r.registry.SetMaxVFOs(n)
}

func (r *Receiver) VFO(id vfo.ID) (vfo.State, bool) {
	return r.registry.Get(id)
}

func (r *Receiver) VFOs() []vfo.State {
	return r.registry.GetAll()
}

// IQData takes one block of interleaved I/Q values. The block is dropped if the processing loop cannot
// keep up. IQData may be called from any goroutine, also while the receiver is stopped.
func (r *Receiver) IQData(sampleRate int, data []float32) {
	r.ingest.RLock()
	defer r.ingest.RUnlock()

	if r.in == nil {
		return
	}
	if r.sampleRate != sampleRate {
		log.Printf("wrong incoming sample rate on receiver %s: %d!", r.id, sampleRate)
		return
	}
	if r.blockSize != len(data)/2 {
		log.Printf("wrong incoming block size on receiver %s: %d", r.id, len(data))
		return
	}

	select {
	case r.in <- data:
		return
	case <-r.stop:
		return
	default:
		log.Printf("IQ data skipped on receiver %s", r.id)
	}
}

func (r *Receiver) run() {
	defer close(r.stopped)

	collectTicker := time.NewTicker(collectInterval)
	defer collectTicker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case op := <-r.op:
			op()
		case <-collectTicker.C:
			r.collectSpectra()
		case data := <-r.in:
			r.process(data)
		}
	}
}

func (r *Receiver) process(data []float32) {
	n := dsp.InterleavedToIQ(r.block, data)
	if n == 0 {
		return
	}
	block := r.block[:n]
	r.blockCount++
	showAudio := r.blockCount%r.settings.SpectrumInterval == 0

	now := r.clock.Now()
	for _, state := range r.registry.GetAll() {
		r.processVFO(state, block, now, showAudio)
	}

	if r.blockCount%r.settings.SpectrumInterval == 0 {
		r.submitSpectrum(block)
	}
	r.collectSpectra()
}

func (r *Receiver) processVFO(state vfo.State, block []complex64, now time.Time, showAudio bool) {
	channel, ok := state.Demodulator.(*Channel)
	if !ok {
		return
	}

	startTime := time.Now()
	audioBlock, power := channel.Process(block, r.centerFrequency)
	status := vfo.Active
	if audioBlock == nil {
		status = vfo.Error
	}
	if state.AudioSink != nil && len(audioBlock) > 0 {
		if err := state.AudioSink.WriteAudio(audioBlock); err != nil {
			log.Printf("cannot write the audio of vfo %d: %v", state.ID, err)
			status = vfo.Error
		}
	}

	metrics := state.Metrics
	if !math.IsNaN(power) {
		metrics.RSSI = dsp.PowerIndB(power)
	}
	if snr, ok := r.snr[state.ID]; ok {
		metrics.SNR = &snr
	}
	metrics.SamplesProcessed += uint64(len(block))
	metrics.ProcessingTime = time.Since(startTime)
	metrics.Timestamp = now

	patch := vfo.StatePatch{Metrics: &metrics}
	if status != state.Status {
		patch.Status = &status
	}
	r.registry.UpdateState(state.ID, patch)

	r.tracer.Trace(trace.VFOContext, "vfo;%d;%.1f;%t", state.ID, metrics.RSSI, channel.SquelchOpen())
	if showAudio && r.audioDisplay != nil && len(audioBlock) > 0 {
		r.show(r.audioDisplay, render.Samples{
			Source:     fmt.Sprintf("vfo %d", state.ID),
			SampleRate: r.sampleRate,
			Values:     slices.Clone(audioBlock),
		})
	}
}

func (r *Receiver) submitSpectrum(block []complex64) {
	if r.pool == nil {
		return
	}
	if len(r.pending) >= maxPendingSpectra {
		log.Printf("spectrum skipped on receiver %s, %d spectra pending", r.id, len(r.pending))
		return
	}

	fftSize := r.settings.FFTSize
	if fftSize <= 0 {
		fftSize = len(block)
	}
	r.nextTaskID++
	future, err := r.pool.Process(compute.Task{
		ID:         r.nextTaskID,
		Samples:    slices.Clone(block),
		SampleRate: r.sampleRate,
		FFTSize:    fftSize,
		Window:     r.settings.Window,
	})
	if err != nil {
		log.Printf("cannot compute spectrum on receiver %s: %v", r.id, err)
		return
	}
	r.pending = append(r.pending, pendingSpectrum{
		future:     future,
		centerHz:   r.centerFrequency,
		sampleRate: r.sampleRate,
	})
}

// collectSpectra handles the completed spectra in the order of their completion.
func (r *Receiver) collectSpectra() {
	waiting := r.pending[:0]
	for _, p := range r.pending {
		select {
		case <-p.future.Done():
			result, err := p.future.Wait(context.Background())
			if err != nil {
				log.Printf("spectrum %d failed on receiver %s: %v", result.ID, r.id, err)
				continue
			}
			r.handleSpectrum(p, result)
		default:
			waiting = append(waiting, p)
		}
	}
	clear(r.pending[len(waiting):])
	r.pending = waiting
}

func (r *Receiver) handleSpectrum(p pendingSpectrum, result compute.Result) {
	magnitude := dsp.Block[float64](result.Magnitude)
	edgeWidth := len(magnitude) / 20
	noiseFloor := r.noiseFloor.Put(dsp.FindNoiseFloor(magnitude, edgeWidth))
	mapping := dsp.NewFrequencyMapping(p.sampleRate, len(magnitude), p.centerHz)

	clear(r.snr)
	markers := make(map[string]float64)
	for _, state := range r.registry.GetAll() {
		markers[fmt.Sprintf("vfo %d", state.ID)] = state.CenterHz
		low, high := state.Edges()
		if low < mapping.FromFrequency() || high > mapping.ToFrequency() {
			continue
		}
		from := mapping.FrequencyToBin(low)
		to := max(from, mapping.FrequencyToBin(high))
		peak, _ := magnitude.Max(from, to)
		r.snr[state.ID] = peak - noiseFloor
	}

	r.tracer.TraceBlock(trace.SpectrumContext, magnitude)
	r.tracer.Trace(trace.SpectrumContext, "meta;noiseFloor;%.1f", noiseFloor)

	if r.spectrumDisplay != nil {
		r.show(r.spectrumDisplay, render.Spectrum{
			FromHz:     mapping.FromFrequency(),
			ToHz:       mapping.ToFrequency(),
			Magnitude:  result.Magnitude,
			NoiseFloor: noiseFloor,
			Markers:    markers,
		})
	}

	rows := make([][]float64, 0, r.settings.WaterfallRows)
	rows = append(rows, result.Magnitude)
	rows = append(rows, r.waterfall[:min(len(r.waterfall), r.settings.WaterfallRows-1)]...)
	r.waterfall = rows
	if r.waterfallDisplay != nil {
		r.show(r.waterfallDisplay, render.Waterfall{
			FromHz: mapping.FromFrequency(),
			ToHz:   mapping.ToFrequency(),
			Rows:   rows,
		})
	}
}

func (r *Receiver) show(display Display, payload render.Payload) {
	r.nextFrameID++
	display.Enqueue(render.Frame{
		ID:        r.nextFrameID,
		Timestamp: r.clock.Now(),
		Payload:   payload,
	})
}
