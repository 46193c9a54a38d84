package dsp

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// Window selects the window function that is applied to a block before the transform.
type Window int

const (
	NoWindow Window = iota
	HannWindow
	HammingWindow
	BlackmanHarrisWindow
)

func (w Window) String() string {
	switch w {
	case NoWindow:
		return "none"
	case HannWindow:
		return "hann"
	case HammingWindow:
		return "hamming"
	case BlackmanHarrisWindow:
		return "blackman-harris"
	default:
		return fmt.Sprintf("window(%d)", int(w))
	}
}

// ParseWindow parses the name of a window function.
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "rectangular":
		return NoWindow, nil
	case "hann":
		return HannWindow, nil
	case "hamming":
		return HammingWindow, nil
	case "blackman-harris", "blackmanharris":
		return BlackmanHarrisWindow, nil
	default:
		return NoWindow, fmt.Errorf("unknown window function %q", s)
	}
}

// WindowCoefficients returns the coefficients of the given window function for the given size.
// NoWindow returns nil.
func WindowCoefficients(w Window, size int) []float64 {
	if w == NoWindow || size <= 0 {
		return nil
	}

	coefficients := make([]float64, size)
	for i := range coefficients {
		coefficients[i] = 1
	}
	switch w {
	case HannWindow:
		return window.Hann(coefficients)
	case HammingWindow:
		return window.Hamming(coefficients)
	case BlackmanHarrisWindow:
		return window.BlackmanHarris(coefficients)
	default:
		return nil
	}
}
