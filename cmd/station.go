package cmd

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/spf13/cobra"

	"github.com/ftl/multirx/audio"
	"github.com/ftl/multirx/compute"
	"github.com/ftl/multirx/config"
	"github.com/ftl/multirx/control"
	"github.com/ftl/multirx/render"
	"github.com/ftl/multirx/rx"
	"github.com/ftl/multirx/trace"
	"github.com/ftl/multirx/vfo"
)

var traceFlags = struct {
	context     string
	destination string
}{}

func init() {
	rootCmd.PersistentFlags().StringVar(&traceFlags.context, "trace", "", trace.SpectrumContext+" | "+trace.VFOContext)
	rootCmd.PersistentFlags().StringVar(&traceFlags.destination, "trace_to", "", "file:<filename> | udp:<host:port>")
}

// The surfaces of a station, in the order of their websocket port offsets.
const (
	spectrumSurface  = "spectrum"
	waterfallSurface = "waterfall"
	audioSurface     = "audio"
)

// station bundles the receiver with its compute pool, displays and audio output.
type station struct {
	events   *deferredObservers
	control  *control.Server
	receiver *rx.Receiver
	pool     *compute.Pool
	surfaces []*render.Surface
	pulse    *pulse.Client
}

func newStation(env environment, sampleRate int, blockSize int) (*station, error) {
	cfg := env.cfg
	result := &station{events: new(deferredObservers)}

	transform, err := cfg.Transform()
	if err != nil {
		return nil, err
	}
	window, err := cfg.Window()
	if err != nil {
		return nil, err
	}
	result.pool = compute.NewPool(cfg.Compute.Workers, transform)

	sinks, err := result.audioSinks(cfg.Audio)
	if err != nil {
		result.Close()
		return nil, err
	}

	reporter := rx.NewTextReporter(os.Stdout)
	settings := rx.Settings{
		SampleRate:       sampleRate,
		BlockSize:        blockSize,
		MaxVFOs:          cfg.MaxVFOs,
		Spacing:          cfg.SpacingTable(),
		Demod:            cfg.DemodParams(),
		AudioSinks:       sinks,
		FFTSize:          cfg.Compute.FFTSize,
		Window:           window,
		SpectrumInterval: cfg.Compute.SpectrumInterval,
		WaterfallRows:    cfg.Compute.WaterfallRows,
	}
	result.receiver = rx.NewReceiver("main", settings, result.pool, rx.WallClock, reporter, result.events)

	if rootFlags.control != "" {
		server, err := control.NewServer(rootFlags.control, formatVersion(), result.receiver)
		if err != nil {
			result.Close()
			return nil, fmt.Errorf("cannot start the control server: %w", err)
		}
		result.control = server
		result.events.Add(server)
	}

	size := render.Size{Width: cfg.Render.Width, Height: cfg.Render.Height}
	for i, name := range []string{spectrumSurface, waterfallSurface, audioSurface} {
		surface, err := render.NewSurface(name, size, backendFactories(env, i), reporter)
		if err != nil {
			log.Printf("no display for %s: %v", name, err)
			continue
		}
		result.surfaces = append(result.surfaces, surface)
		switch name {
		case spectrumSurface:
			result.receiver.SetSpectrumDisplay(surface)
		case waterfallSurface:
			result.receiver.SetWaterfallDisplay(surface)
		case audioSurface:
			result.receiver.SetAudioDisplay(surface)
		}
	}

	if tracer, ok := createTracer(); ok {
		log.Printf("set tracer %#v", tracer)
		result.receiver.SetTracer(tracer)
	}

	return result, nil
}

func (s *station) audioSinks(cfg config.AudioConfig) (audio.SinkFactory, error) {
	switch cfg.Sink {
	case config.PulseSink:
		client, err := pulse.NewClient(pulse.ClientApplicationName("multirx"))
		if err != nil {
			return nil, fmt.Errorf("cannot connect to pulseaudio: %w", err)
		}
		s.pulse = client
		return audio.PulseSinkFactory(client), nil
	case config.WAVSink:
		return audio.WAVSinkFactory(cfg.Dir, time.Now), nil
	default:
		return audio.DiscardFactory(), nil
	}
}

// backendFactories returns the configured backends in order of preference. Each surface gets its own
// websocket port, the port of the configured address plus the index of the surface.
func backendFactories(env environment, index int) []render.BackendFactory {
	var result []render.BackendFactory
	for _, backend := range env.cfg.Render.Backends {
		switch backend {
		case config.ScopeBackend:
			if env.scope != nil {
				result = append(result, render.SharedScopeBackendFactory(env.scope))
			}
		case config.WebsocketBackend:
			address, err := offsetAddress(env.cfg.Render.WebsocketAddress, index)
			if err != nil {
				log.Printf("invalid websocket address: %v", err)
				continue
			}
			result = append(result, render.WebsocketBackendFactory(address))
		case config.TextBackend:
			result = append(result, render.TextBackendFactory(os.Stdout))
		}
	}
	return result
}

func offsetAddress(address string, offset int) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	portNumber, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("invalid port %q: %w", port, err)
	}
	if portNumber == 0 {
		return address, nil
	}
	return net.JoinHostPort(host, strconv.Itoa(portNumber+offset)), nil
}

// addInitialVFOs adds the VFOs of the configuration. Invalid VFOs are reported and skipped.
func (s *station) addInitialVFOs(cfg *config.Config) {
	for _, v := range cfg.InitialVFOs() {
		if _, err := s.receiver.AddVFO(v); err != nil {
			fmt.Fprintf(os.Stderr, "cannot add vfo %d: %v\n", v.ID, err)
		}
	}
}

func (s *station) Close() {
	if s.control != nil {
		s.control.Stop()
	}
	if s.receiver != nil {
		s.receiver.Close()
	}
	for _, surface := range s.surfaces {
		surface.Dispose()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pulse != nil {
		s.pulse.Close()
	}
}

func createTracer() (trace.Tracer, bool) {
	if traceFlags.destination == "" {
		return nil, false
	}

	tracer, err := trace.Parse(traceFlags.context, traceFlags.destination)
	if err != nil {
		log.Printf("cannot create tracer: %v", err)
		return nil, false
	}
	return tracer, true
}

// exitOnError is used by the commands for unrecoverable setup errors.
func exitOnError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", cmd.Name(), err)
	os.Exit(1)
}

// deferredObservers forwards the VFO events to observers that are created after the receiver.
type deferredObservers struct {
	lock      sync.Mutex
	observers []vfo.Observer
}

func (o *deferredObservers) Add(observer vfo.Observer) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.observers = append(o.observers, observer)
}

func (o *deferredObservers) each(f func(vfo.Observer)) {
	o.lock.Lock()
	observers := o.observers
	o.lock.Unlock()
	for _, observer := range observers {
		f(observer)
	}
}

func (o *deferredObservers) VFOAdded(state vfo.State) {
	o.each(func(observer vfo.Observer) { observer.VFOAdded(state) })
}

func (o *deferredObservers) VFOUpdated(state vfo.State) {
	o.each(func(observer vfo.Observer) { observer.VFOUpdated(state) })
}

func (o *deferredObservers) VFORemoved(id vfo.ID) {
	o.each(func(observer vfo.Observer) { observer.VFORemoved(id) })
}

func (o *deferredObservers) VFOWarning(warning vfo.Warning) {
	o.each(func(observer vfo.Observer) { observer.VFOWarning(warning) })
}
