package render

import (
	"fmt"

	"github.com/ftl/multirx/scope"
)

// ScopeBackend streams the frames to remote scope viewers over gRPC. It is the preferred backend, the
// viewers draw the frames with their own graphics stack.
type ScopeBackend struct {
	surface string
	server  *scope.Server
	owned   bool
}

// ScopeBackendFactory returns a factory for scope backends that start their own scope server on the given
// address. The backend is not available if the server cannot be started.
func ScopeBackendFactory(address string) BackendFactory {
	return func(surface string, _ Size) (Backend, error) {
		server := scope.NewServer(address)
		if err := server.Start(); err != nil {
			return nil, err
		}
		return &ScopeBackend{surface: surface, server: server, owned: true}, nil
	}
}

// SharedScopeBackendFactory returns a factory for scope backends that use the given running server. The
// server is not stopped when the backend is closed.
func SharedScopeBackendFactory(server *scope.Server) BackendFactory {
	return func(surface string, _ Size) (Backend, error) {
		if !server.Active() {
			return nil, fmt.Errorf("scope server is not active")
		}
		return &ScopeBackend{surface: surface, server: server}, nil
	}
}

func (b *ScopeBackend) Name() string {
	return "scope"
}

func (b *ScopeBackend) Server() *scope.Server {
	return b.server
}

func (b *ScopeBackend) Resize(Size) error {
	return nil
}

func (b *ScopeBackend) Close() error {
	if b.owned {
		b.server.Stop()
	}
	return nil
}

func (b *ScopeBackend) Render(frame Frame) error {
	header := scope.Frame{Stream: scope.StreamID(b.surface), Timestamp: frame.Timestamp}
	switch p := frame.Payload.(type) {
	case Samples:
		rms, peak := p.Level()
		b.server.ShowTimeFrame(&scope.TimeFrame{
			Frame: header,
			Values: map[scope.ChannelID]float64{
				scope.ChannelID(p.Source + ".rms"):  rms,
				scope.ChannelID(p.Source + ".peak"): peak,
			},
		})
	case Spectrum:
		markers := make(map[scope.MarkerID]float64, len(p.Markers))
		for name, frequency := range p.Markers {
			markers[scope.MarkerID(name)] = frequency
		}
		b.server.ShowSpectralFrame(&scope.SpectralFrame{
			Frame:            header,
			FromFrequency:    p.FromHz,
			ToFrequency:      p.ToHz,
			Values:           p.Magnitude,
			FrequencyMarkers: markers,
			MagnitudeMarkers: map[scope.MarkerID]float64{"noise_floor": p.NoiseFloor},
		})
	case Waterfall:
		b.server.ShowWaterfallFrame(&scope.WaterfallFrame{
			Frame:         header,
			FromFrequency: p.FromHz,
			ToFrequency:   p.ToHz,
			Rows:          p.Rows,
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPayload, PayloadKind(frame.Payload))
	}
	return nil
}
