package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// MagnitudeFloor is the smallest magnitude that is converted into dB, to avoid -Inf values.
const MagnitudeFloor = 1e-10

// FFT computes DC-centred spectra using a fast fourier transform.
type FFT struct {
	samples []complex128
}

func NewFFT() *FFT {
	return &FFT{}
}

// Spectrum computes the magnitude in dB (and optionally the phase) of the given IQ samples. The transform
// size is defined by the length of magnitude. Samples beyond the transform size are ignored, missing samples
// are zero. The window is optional and must have the transform size if given. The result is shifted,
// so that the DC bin is found at the center index.
func (f *FFT) Spectrum(magnitude []float64, phase []float64, samples []complex64, window []float64) {
	fftSize := len(magnitude)
	if phase != nil && len(phase) != fftSize {
		panic(fmt.Sprintf("the phase slice must have the same length as the magnitude slice: %d", fftSize))
	}
	f.setSamples(samples, fftSize, window)

	fftResult := fft.FFT(f.samples)
	for i, value := range fftResult {
		k := SpectrumIndex(i, fftSize)
		magnitude[k] = MagnitudeIndB(value)
		if phase != nil {
			phase[k] = cmplx.Phase(value)
		}
	}
}

func (f *FFT) setSamples(samples []complex64, fftSize int, window []float64) {
	if len(f.samples) != fftSize {
		f.samples = make([]complex128, fftSize)
	}
	for i := range f.samples {
		if i >= len(samples) {
			f.samples[i] = 0
			continue
		}
		value := complex128(samples[i])
		if window != nil {
			value *= complex(window[i], 0)
		}
		f.samples[i] = value
	}
}

// SpectrumIndex maps the given FFT bin to the index in a DC-centred spectrum.
func SpectrumIndex(bin int, blockSize int) int {
	centerBin := blockSize / 2
	return (bin + centerBin) % blockSize
}

// MagnitudeIndB returns 20*log10(|value|), floored at MagnitudeFloor.
func MagnitudeIndB(value complex128) float64 {
	return 20.0 * math.Log10(math.Max(cmplx.Abs(value), MagnitudeFloor))
}

type BinLocation float64

const (
	BinFrom   BinLocation = -0.5
	BinCenter BinLocation = 0
	BinTo     BinLocation = 0.5
)

// FrequencyMapping maps between the indexes of a DC-centred spectrum and absolute frequencies.
type FrequencyMapping[F Number] struct {
	sampleRate int
	blockSize  int
	binSize    float64

	centerFrequency int
	fromFrequency   int
}

func NewFrequencyMapping[F Number](sampleRate int, blockSize int, centerFrequency F) *FrequencyMapping[F] {
	result := &FrequencyMapping[F]{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		binSize:    float64(sampleRate) / float64(blockSize),
	}
	result.SetCenterFrequency(centerFrequency)

	return result
}

func (m *FrequencyMapping[F]) String() string {
	return fmt.Sprintf("[%v - %v - %v]", m.fromFrequency, m.centerFrequency, m.BinToFrequency(m.blockSize-1, BinTo))
}

func (m *FrequencyMapping[F]) SetCenterFrequency(frequency F) {
	m.centerFrequency = int(frequency)
	m.fromFrequency = m.centerFrequency - m.sampleRate/2
}

func (m *FrequencyMapping[F]) FromFrequency() F {
	return F(m.fromFrequency)
}

func (m *FrequencyMapping[F]) ToFrequency() F {
	return F(m.fromFrequency + m.sampleRate)
}

func (m *FrequencyMapping[F]) BinToFrequency(bin int, location BinLocation) F {
	locationDelta := float64(m.binSize) * float64(location)

	return F(m.fromFrequency + int(float64(bin)*m.binSize+locationDelta))
}

func (m *FrequencyMapping[F]) FrequencyToBin(frequency F) int {
	bin := int((float64(frequency) - float64(m.fromFrequency)) / m.binSize)
	return max(0, min(bin, m.blockSize-1))
}
