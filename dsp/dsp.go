// Package dsp provides generic implementations of the DSP building blocks used by the receiver.
package dsp

import (
	"math"

	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// Block represents a block of samples that are processed as one unit.
type Block[T Number] []T

// Size returns the blocksize.
func (b Block[T]) Size() int {
	return len(b)
}

// Sum of the values in the given section of this block.
func (b Block[T]) Sum(from, to int) T {
	var sum T
	for i := from; i <= to; i++ {
		sum += b[i]
	}
	return sum
}

// Mean of the values in the given section of this block.
func (b Block[T]) Mean(from, to int) T {
	return b.Sum(from, to) / T(to-from+1)
}

// Max imum value in the given section of this block.
func (b Block[T]) Max(from, to int) (T, int) {
	maxValue := b[from]
	maxI := from
	for i := from; i <= to; i++ {
		if maxValue < b[i] {
			maxValue = b[i]
			maxI = i
		}
	}
	return maxValue, maxI
}

// Min imum value in the given section of this block.
func (b Block[T]) Min(from, to int) (T, int) {
	minValue := b[from]
	minI := from
	for i := from; i <= to; i++ {
		if minValue > b[i] {
			minValue = b[i]
			minI = i
		}
	}
	return minValue, minI
}

// RollingMean calculates the mean over n values.
type RollingMean[T Number] struct {
	values []T
	n      T
	next   int
	filled int

	sumForMean T
	mean       T
}

// NewRollingMean with size n.
func NewRollingMean[T Number](n int) *RollingMean[T] {
	return &RollingMean[T]{
		values: make([]T, n),
		n:      T(n),
	}
}

// Put a new value into the rolling window and get the new mean back.
// Until the window is filled, the mean is taken over the values put so far.
func (v *RollingMean[T]) Put(value T) T {
	v.sumForMean -= v.values[v.next]

	v.values[v.next] = value

	v.sumForMean += v.values[v.next]
	if v.filled < len(v.values) {
		v.filled++
	}
	v.mean = v.sumForMean / T(v.filled)

	v.next = (v.next + 1) % len(v.values)

	return v.mean
}

// Get the current mean value.
func (v *RollingMean[T]) Get() T {
	return v.mean
}

// Filled indicates if at least one value was put into the window.
func (v *RollingMean[T]) Filled() bool {
	return v.filled > 0
}

// Reset the rolling window.
func (v *RollingMean[T]) Reset() {
	clear(v.values)
	v.next = 0
	v.filled = 0
	v.sumForMean = 0
	v.mean = 0
}

// InterleavedToIQ converts interleaved I/Q values into complex samples. The destination must provide
// room for len(interleaved)/2 samples. It returns the number of samples written.
func InterleavedToIQ(dst []complex64, interleaved []float32) int {
	n := min(len(dst), len(interleaved)/2)
	for i := 0; i < n; i++ {
		dst[i] = complex(interleaved[2*i], interleaved[2*i+1])
	}
	return n
}

// MeanPower of the given IQ block (mean of I²+Q²).
func MeanPower(block []complex64) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		re := float64(real(s))
		im := float64(imag(s))
		sum += re*re + im*im
	}
	return sum / float64(len(block))
}

// PowerIndB converts a linear power value into dB relative to full scale. Zero power is floored to
// -200dB.
func PowerIndB(power float64) float64 {
	if power <= 1e-20 {
		return -200
	}
	return 10 * math.Log10(power)
}

// Finite indicates that all samples of the given block are finite numbers.
func Finite(block []complex64) bool {
	for _, s := range block {
		re := float64(real(s))
		im := float64(imag(s))
		if math.IsNaN(re) || math.IsNaN(im) || math.IsInf(re, 0) || math.IsInf(im, 0) {
			return false
		}
	}
	return true
}

// FindNoiseFloor estimates the noise floor of a spectrum in dB. The spectrum is split into ten windows,
// ignoring edgeWidth bins on both edges, and the lowest window mean is taken as noise floor.
func FindNoiseFloor[T Number](spectrum Block[T], edgeWidth int) T {
	windowSize := max(1, (len(spectrum)-2*edgeWidth)/10)
	var minValue T
	var sum T
	count := 0
	first := true
	for i := edgeWidth; i < len(spectrum)-edgeWidth; i++ {
		sum += spectrum[i]
		count++
		if count == windowSize {
			mean := sum / T(windowSize)
			if mean < minValue || first {
				minValue = mean
				first = false
			}
			sum = 0
			count = 0
		}
	}

	return minValue
}
