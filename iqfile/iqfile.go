// Package iqfile replays recorded IQ data into a receiver. The files contain interleaved I/Q values as
// little-endian float32, without any header.
package iqfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"
)

const bytesPerValue = 4

var ErrInvalidParameters = errors.New("invalid replay parameters")

// Receiver consumes the IQ stream.
type Receiver interface {
	Start(sampleRate int, blockSize int)
	Stop()
	SetCenterFrequency(frequency float64)
	IQData(sampleRate int, data []float32)
}

type Settings struct {
	SampleRate int
	BlockSize  int
	CenterHz   float64
	// Realtime paces the blocks according to the sample rate, otherwise the file is replayed as fast as possible.
	Realtime bool
	// Loop restarts the replay at the end of the file until the context is done.
	Loop bool
}

func (s Settings) validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidParameters, s.SampleRate)
	}
	if s.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d", ErrInvalidParameters, s.BlockSize)
	}
	if s.CenterHz < 0 {
		return fmt.Errorf("%w: center frequency %.0fHz", ErrInvalidParameters, s.CenterHz)
	}
	return nil
}

// BlockDuration is the time span covered by one block.
func (s Settings) BlockDuration() time.Duration {
	return time.Duration(float64(s.BlockSize) / float64(s.SampleRate) * float64(time.Second))
}

// Play replays the given file into the receiver until the end of the file or until the context is done.
// It returns the number of blocks handed to the receiver.
func Play(ctx context.Context, filename string, settings Settings, receiver Receiver) (int, error) {
	if err := settings.validate(); err != nil {
		return 0, err
	}
	file, err := os.Open(filename)
	if err != nil {
		return 0, fmt.Errorf("cannot open IQ file: %w", err)
	}
	defer file.Close()

	receiver.Start(settings.SampleRate, settings.BlockSize)
	defer receiver.Stop()
	receiver.SetCenterFrequency(settings.CenterHz)

	blocks := 0
	for {
		n, err := Replay(ctx, file, settings, receiver)
		blocks += n
		if err != nil || !settings.Loop || ctx.Err() != nil {
			return blocks, err
		}
		if n == 0 {
			return blocks, nil
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return blocks, fmt.Errorf("cannot rewind IQ file: %w", err)
		}
	}
}

// Replay reads the IQ blocks from the reader and hands them to the already started receiver. An incomplete
// block at the end of the stream is discarded.
func Replay(ctx context.Context, r io.Reader, settings Settings, receiver Receiver) (int, error) {
	if err := settings.validate(); err != nil {
		return 0, err
	}

	var tick <-chan time.Time
	if settings.Realtime {
		ticker := time.NewTicker(settings.BlockDuration())
		defer ticker.Stop()
		tick = ticker.C
	}

	reader := bufio.NewReader(r)
	buffer := make([]byte, 2*settings.BlockSize*bytesPerValue)
	blocks := 0
	for {
		_, err := io.ReadFull(reader, buffer)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			log.Printf("end of IQ data after %d blocks", blocks)
			return blocks, nil
		}
		if err != nil {
			return blocks, fmt.Errorf("cannot read IQ data: %w", err)
		}

		if ctx.Err() != nil {
			return blocks, nil
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return blocks, nil
			case <-tick:
			}
		}

		receiver.IQData(settings.SampleRate, Decode(buffer))
		blocks++
	}
}

// Decode converts little-endian float32 values into a new slice.
func Decode(data []byte) []float32 {
	result := make([]float32, len(data)/bytesPerValue)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*bytesPerValue:]))
	}
	return result
}

// Encode writes the values as little-endian float32.
func Encode(w io.Writer, values []float32) error {
	return binary.Write(w, binary.LittleEndian, values)
}

// Blocker cuts a continuous stream of interleaved I/Q values into blocks of a fixed size. Each block is a
// new slice that is handed over to the receiver.
type Blocker struct {
	sampleRate int
	receiver   Receiver
	block      []float32
	fill       int
}

func NewBlocker(sampleRate int, blockSize int, receiver Receiver) *Blocker {
	return &Blocker{
		sampleRate: sampleRate,
		receiver:   receiver,
		block:      make([]float32, 2*blockSize),
	}
}

// Write takes interleaved I/Q values. It is compatible with pulse.Float32Writer.
func (b *Blocker) Write(values []float32) (int, error) {
	total := len(values)
	for len(values) > 0 {
		n := copy(b.block[b.fill:], values)
		b.fill += n
		values = values[n:]
		if b.fill < len(b.block) {
			break
		}
		b.receiver.IQData(b.sampleRate, b.block)
		b.block = make([]float32, len(b.block))
		b.fill = 0
	}
	return total, nil
}
