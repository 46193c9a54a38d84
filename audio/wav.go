package audio

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WAVSink records the audio into a 16 bit mono WAV file. The encoder runs in its own goroutine.
type WAVSink struct {
	filename string
	queue    *blockQueue
	file     *os.File
	encoder  *wav.Encoder
	buffer   *audio.IntBuffer

	closed chan struct{}
	err    error
}

// WAVSinkFactory returns a factory that creates one WAV file per sink in the given directory. The file name
// contains the sink name and the current time.
func WAVSinkFactory(dir string, now func() time.Time) SinkFactory {
	if now == nil {
		now = time.Now
	}
	return func(name string, sampleRate int) (Sink, error) {
		filename := filepath.Join(dir, fmt.Sprintf("%s_%s.wav", name, now().UTC().Format("20060102_150405")))
		return NewWAVSink(filename, sampleRate)
	}
}

func NewWAVSink(filename string, sampleRate int) (*WAVSink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot create WAV file: %w", err)
	}

	result := &WAVSink{
		filename: filename,
		queue:    newBlockQueue(filepath.Base(filename), DefaultQueueSize),
		file:     file,
		encoder:  wav.NewEncoder(file, sampleRate, wavBitDepth, 1, 1),
		buffer: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: 1,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: wavBitDepth,
		},
		closed: make(chan struct{}),
	}

	go result.run()

	return result, nil
}

func (s *WAVSink) Filename() string {
	return s.filename
}

func (s *WAVSink) Dropped() uint64 {
	return s.queue.Dropped()
}

func (s *WAVSink) WriteAudio(block []float32) error {
	return s.queue.put(block)
}

// Close writes the remaining queued blocks and finalizes the WAV file.
func (s *WAVSink) Close() error {
	if s.queue.close() {
		<-s.closed
		return s.err
	}
	<-s.closed
	return nil
}

func (s *WAVSink) run() {
	defer close(s.closed)

	failed := false
	for block := range s.queue.blocks {
		if failed {
			continue
		}
		if err := s.write(block); err != nil {
			log.Printf("audio: %s: cannot write WAV data: %v", s.filename, err)
			s.err = err
			failed = true
		}
	}

	if err := s.encoder.Close(); err != nil && s.err == nil {
		s.err = fmt.Errorf("cannot finalize WAV file: %w", err)
	}
	if err := s.file.Close(); err != nil && s.err == nil {
		s.err = err
	}
}

func (s *WAVSink) write(block []float32) error {
	const scale = math.MaxInt16
	if cap(s.buffer.Data) < len(block) {
		s.buffer.Data = make([]int, len(block))
	}
	s.buffer.Data = s.buffer.Data[:len(block)]
	for i, sample := range block {
		s.buffer.Data[i] = int(math.Round(float64(Clip(sample)) * scale))
	}
	return s.encoder.Write(s.buffer)
}
