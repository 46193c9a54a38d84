// Package audio provides the sinks for the demodulated audio of the VFOs.
//
// The processing loop must never wait for an audio device or a file. All sinks take the audio blocks
// through a bounded hand-off queue and drop blocks when the queue is full.
package audio

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

const DefaultQueueSize = 32

var ErrClosed = errors.New("audio sink closed")

// Sink receives blocks of mono audio samples in [-1, 1].
type Sink interface {
	WriteAudio([]float32) error
	Close() error
}

// SinkFactory creates a sink with the given name for audio with the given sample rate.
type SinkFactory func(name string, sampleRate int) (Sink, error)

// blockQueue is the bounded hand-off between the processing loop and the consumer of a sink.
type blockQueue struct {
	name    string
	blocks  chan []float32
	dropped atomic.Uint64

	lock   sync.RWMutex
	closed bool
}

func newBlockQueue(name string, size int) *blockQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &blockQueue{
		name:   name,
		blocks: make(chan []float32, size),
	}
}

// put copies the block into the queue, the caller may reuse its buffer.
func (q *blockQueue) put(block []float32) error {
	q.lock.RLock()
	defer q.lock.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if len(block) == 0 {
		return nil
	}

	select {
	case q.blocks <- append([]float32(nil), block...):
	default:
		dropped := q.dropped.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			log.Printf("audio: %s: %d blocks dropped", q.name, dropped)
		}
	}
	return nil
}

// close returns false if the queue was already closed.
func (q *blockQueue) close() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	close(q.blocks)
	return true
}

func (q *blockQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Discard counts the written samples and throws them away.
type Discard struct {
	samples atomic.Uint64
	closed  atomic.Bool
}

func DiscardFactory() SinkFactory {
	return func(string, int) (Sink, error) {
		return new(Discard), nil
	}
}

func (d *Discard) WriteAudio(block []float32) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.samples.Add(uint64(len(block)))
	return nil
}

func (d *Discard) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *Discard) Samples() uint64 {
	return d.samples.Load()
}

// Clip limits the value to [-1, 1].
func Clip(value float32) float32 {
	if value > 1 {
		return 1
	} else if value < -1 {
		return -1
	} else {
		return value
	}
}
