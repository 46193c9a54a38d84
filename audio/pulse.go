package audio

import (
	"fmt"

	"github.com/jfreymuth/pulse"
)

const defaultPulseLatency = 0.1 // s

// PulseSink plays the audio on a Pulseaudio playback stream. The stream pulls the queued blocks and
// plays silence when the queue runs empty.
type PulseSink struct {
	queue   *blockQueue
	stream  *pulse.PlaybackStream
	pending []float32
}

// PulseSinkFactory returns a factory that opens one playback stream per sink on the given client.
func PulseSinkFactory(client *pulse.Client) SinkFactory {
	return func(name string, sampleRate int) (Sink, error) {
		return NewPulseSink(client, name, sampleRate)
	}
}

func NewPulseSink(client *pulse.Client, name string, sampleRate int) (*PulseSink, error) {
	result := &PulseSink{
		queue: newBlockQueue(name, DefaultQueueSize),
	}

	stream, err := client.NewPlayback(
		pulse.Float32Reader(result.read),
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackMono,
		pulse.PlaybackLatency(defaultPulseLatency),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot open playback stream for %s: %w", name, err)
	}
	result.stream = stream
	stream.Start()

	return result, nil
}

func (s *PulseSink) WriteAudio(block []float32) error {
	return s.queue.put(block)
}

func (s *PulseSink) Dropped() uint64 {
	return s.queue.Dropped()
}

func (s *PulseSink) Close() error {
	if !s.queue.close() {
		return nil
	}
	s.stream.Stop()
	s.stream.Close()
	return nil
}

func (s *PulseSink) read(buf []float32) (int, error) {
	return fill(buf, &s.pending, s.queue.blocks), nil
}

// fill copies the pending samples and the queued blocks into buf without waiting. The rest of buf is filled
// with silence.
func fill(buf []float32, pending *[]float32, blocks <-chan []float32) int {
	n := 0
	for n < len(buf) {
		if len(*pending) == 0 {
			select {
			case block, ok := <-blocks:
				if !ok {
					clear(buf[n:])
					return len(buf)
				}
				*pending = block
			default:
				clear(buf[n:])
				return len(buf)
			}
		}
		copied := copy(buf[n:], *pending)
		*pending = (*pending)[copied:]
		n += copied
	}
	return n
}
