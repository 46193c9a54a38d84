package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpectrumIndex(t *testing.T) {
	tt := []struct {
		blockSize int
		bin       int
		expected  int
	}{
		{blockSize: 512, bin: 0, expected: 256},
		{blockSize: 512, bin: 1, expected: 257},
		{blockSize: 512, bin: 255, expected: 511},
		{blockSize: 512, bin: 256, expected: 0},
		{blockSize: 512, bin: 257, expected: 1},
		{blockSize: 512, bin: 511, expected: 255},
	}
	for _, tc := range tt {
		t.Run(fmt.Sprintf("%d_%d", tc.blockSize, tc.bin), func(t *testing.T) {
			actual := SpectrumIndex(tc.bin, tc.blockSize)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestFrequencyMapping(t *testing.T) {
	sampleRate := 48000
	blockSize := 512
	centerFrequency := 7020000
	tt := []struct {
		bin    int
		center int
	}{
		{0, centerFrequency - sampleRate/2},
		{256, centerFrequency},
	}
	for _, tc := range tt {
		t.Run(fmt.Sprintf("%d", tc.bin), func(t *testing.T) {
			m := NewFrequencyMapping[int](sampleRate, blockSize, centerFrequency)

			assert.Equal(t, tc.bin, m.FrequencyToBin(tc.center), "center to bin")
			assert.Equal(t, tc.center, m.BinToFrequency(tc.bin, BinCenter), "bin to center")
		})
	}
}

func TestMagnitudeIndB_Floor(t *testing.T) {
	assert.Equal(t, -200.0, MagnitudeIndB(0))
	assert.InDelta(t, 0.0, MagnitudeIndB(1), 1e-12)
	assert.InDelta(t, 20.0, MagnitudeIndB(complex(0, 10)), 1e-12)
}

func toneBlock(size int, bin float64, amplitude float64) []complex64 {
	result := make([]complex64, size)
	for i := range result {
		angle := 2 * math.Pi * bin * float64(i) / float64(size)
		result[i] = complex64(cmplx.Rect(amplitude, angle))
	}
	return result
}

func TestTrigTable_ToneProducesPeakAtCenteredBin(t *testing.T) {
	tt := []struct {
		size int
		bin  int
	}{
		{size: 64, bin: 0},
		{size: 64, bin: 5},
		{size: 64, bin: 60},
		{size: 128, bin: 17},
	}
	for _, tc := range tt {
		t.Run(fmt.Sprintf("%d_%d", tc.size, tc.bin), func(t *testing.T) {
			table := NewTrigCache().Get(tc.size)
			magnitude := make([]float64, tc.size)
			buffer := make([]complex128, tc.size)

			table.Spectrum(magnitude, nil, buffer, toneBlock(tc.size, float64(tc.bin), 1), nil)

			expectedIndex := SpectrumIndex(tc.bin, tc.size)
			peak, peakIndex := Block[float64](magnitude).Max(0, tc.size-1)
			assert.Equal(t, expectedIndex, peakIndex)
			assert.InDelta(t, 20*math.Log10(float64(tc.size)), peak, 0.01)
			for i, value := range magnitude {
				if i == expectedIndex {
					continue
				}
				assert.Less(t, value, peak-60, "bin %d", i)
			}
		})
	}
}

func TestTrigTable_TruncatesAndZeroPads(t *testing.T) {
	table := NewTrigCache().Get(8)
	buffer := make([]complex128, 8)

	long := make([]complex64, 20)
	long[0] = 1
	long[10] = 1 // beyond the transform size
	table.DFT(buffer, long, nil)
	for _, value := range buffer {
		assert.InDelta(t, 1.0, cmplx.Abs(value), 1e-9)
	}

	table.DFT(buffer, []complex64{1}, nil)
	for _, value := range buffer {
		assert.InDelta(t, 1.0, cmplx.Abs(value), 1e-9)
	}
}

func TestFFT_MatchesDFT(t *testing.T) {
	size := 256
	samples := toneBlock(size, 31, 0.5)
	for i := range samples {
		samples[i] += complex(float32(0.01*math.Sin(float64(i))), 0)
	}
	window := WindowCoefficients(HannWindow, size)

	dftMagnitude := make([]float64, size)
	dftPhase := make([]float64, size)
	NewTrigCache().Get(size).Spectrum(dftMagnitude, dftPhase, make([]complex128, size), samples, window)

	fftMagnitude := make([]float64, size)
	fftPhase := make([]float64, size)
	NewFFT().Spectrum(fftMagnitude, fftPhase, samples, window)

	for i := range dftMagnitude {
		assert.InDelta(t, dftMagnitude[i], fftMagnitude[i], 1e-3, "magnitude %d", i)
	}
	_, peakIndex := Block[float64](fftMagnitude).Max(0, size-1)
	assert.InDelta(t, dftPhase[peakIndex], fftPhase[peakIndex], 1e-6)
}

func TestTrigCache_ConcurrentAccess(t *testing.T) {
	cache := NewTrigCache()
	tables := make([]*TrigTable, 16)
	wg := &sync.WaitGroup{}
	for i := range tables {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tables[i] = cache.Get(512)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, cache.Len())
	for _, table := range tables {
		assert.Same(t, tables[0], table)
	}
	cache.Get(1024)
	assert.Equal(t, 2, cache.Len())
}

func TestWindowCoefficients(t *testing.T) {
	assert.Nil(t, WindowCoefficients(NoWindow, 16))

	hann := WindowCoefficients(HannWindow, 16)
	require.Len(t, hann, 16)
	assert.InDelta(t, 0.0, hann[0], 1e-9)
	assert.Less(t, hann[0], hann[8])

	w, err := ParseWindow("Blackman-Harris")
	require.NoError(t, err)
	assert.Equal(t, BlackmanHarrisWindow, w)
	_, err = ParseWindow("kaiser")
	assert.Error(t, err)
}
