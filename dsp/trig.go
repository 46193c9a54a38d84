package dsp

import (
	"math"
	"math/cmplx"
	"sync"
)

// TrigTable holds the cosine and sine values of the angles 2πi/Size for i in [0, Size).
// A table is immutable after creation.
type TrigTable struct {
	size int
	cos  []float64
	sin  []float64
}

func newTrigTable(size int) *TrigTable {
	result := &TrigTable{
		size: size,
		cos:  make([]float64, size),
		sin:  make([]float64, size),
	}
	for i := 0; i < size; i++ {
		angle := 2 * math.Pi * float64(i) / float64(size)
		result.cos[i] = math.Cos(angle)
		result.sin[i] = math.Sin(angle)
	}
	return result
}

// Size of the transform this table was computed for.
func (t *TrigTable) Size() int {
	return t.size
}

// DFT computes the discrete fourier transform of the given samples by direct summation:
// X[k] = Σ x[n]·e^(-j2πkn/N). Samples beyond the table size are ignored, missing samples are zero.
// The window is optional and must have the table size if given. dst must have the table size.
func (t *TrigTable) DFT(dst []complex128, samples []complex64, window []float64) {
	n := min(len(samples), t.size)
	for k := 0; k < t.size; k++ {
		var re, im float64
		angleIndex := 0
		for i := 0; i < n; i++ {
			a := float64(real(samples[i]))
			b := float64(imag(samples[i]))
			if window != nil {
				a *= window[i]
				b *= window[i]
			}
			c := t.cos[angleIndex]
			s := t.sin[angleIndex]
			re += a*c + b*s
			im += b*c - a*s

			angleIndex += k
			if angleIndex >= t.size {
				angleIndex -= t.size
			}
		}
		dst[k] = complex(re, im)
	}
}

// Spectrum computes the DC-centred magnitude in dB and optionally the phase of the given samples
// using DFT. magnitude (and phase, if not nil) must have the table size. The intermediate buffer must
// have the table size as well, it is used to hold the complex transform result.
func (t *TrigTable) Spectrum(magnitude []float64, phase []float64, buffer []complex128, samples []complex64, window []float64) {
	t.DFT(buffer, samples, window)
	for i, value := range buffer {
		k := SpectrumIndex(i, t.size)
		magnitude[k] = MagnitudeIndB(value)
		if phase != nil {
			phase[k] = cmplx.Phase(value)
		}
	}
}

// TrigCache memoizes trig tables per transform size. Tables are only ever added, never changed or
// removed, so the cache is safe for concurrent use.
type TrigCache struct {
	tablesLock sync.RWMutex
	tables     map[int]*TrigTable
}

func NewTrigCache() *TrigCache {
	return &TrigCache{
		tables: make(map[int]*TrigTable),
	}
}

// Get the table for the given size, compute it if necessary.
func (c *TrigCache) Get(size int) *TrigTable {
	c.tablesLock.RLock()
	table, ok := c.tables[size]
	c.tablesLock.RUnlock()
	if ok {
		return table
	}

	c.tablesLock.Lock()
	defer c.tablesLock.Unlock()
	table, ok = c.tables[size]
	if ok {
		return table
	}
	table = newTrigTable(size)
	c.tables[size] = table
	return table
}

// Len returns the number of cached sizes.
func (c *TrigCache) Len() int {
	c.tablesLock.RLock()
	defer c.tablesLock.RUnlock()
	return len(c.tables)
}
