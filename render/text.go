package render

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

const (
	defaultTextWidth = 64
	textDynamicRange = 60.0
)

var levelChars = []rune(" .:-=+*#%@")

// TextBackend is the software fallback. It draws one line of ASCII level bars per frame.
type TextBackend struct {
	surface string
	out     io.Writer
	width   int
}

// TextBackendFactory returns a factory for text backends that write to the given writer, os.Stdout if nil.
func TextBackendFactory(out io.Writer) BackendFactory {
	if out == nil {
		out = os.Stdout
	}
	return func(surface string, size Size) (Backend, error) {
		result := &TextBackend{
			surface: surface,
			out:     out,
		}
		result.Resize(size)
		return result, nil
	}
}

func (b *TextBackend) Name() string {
	return "text"
}

func (b *TextBackend) Resize(size Size) error {
	if size.Width <= 0 {
		b.width = defaultTextWidth
		return nil
	}
	b.width = size.Width
	return nil
}

func (b *TextBackend) Close() error {
	return nil
}

func (b *TextBackend) Render(frame Frame) error {
	var line string
	switch p := frame.Payload.(type) {
	case Samples:
		line = b.samplesLine(p)
	case Spectrum:
		line = fmt.Sprintf("|%s| %.3f-%.3fkHz", levelBar(p.Magnitude, p.NoiseFloor, b.width), p.FromHz/1000, p.ToHz/1000)
	case Waterfall:
		if len(p.Rows) == 0 {
			line = "||"
			break
		}
		floor, _ := minMax(p.Rows[0])
		line = fmt.Sprintf("|%s| %d rows", levelBar(p.Rows[0], floor, b.width), len(p.Rows))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPayload, PayloadKind(frame.Payload))
	}

	_, err := fmt.Fprintf(b.out, "%s #%d %s\n", b.surface, frame.ID, line)
	return err
}

func (b *TextBackend) samplesLine(p Samples) string {
	rms, peak := p.Level()
	filled := int(math.Round(math.Min(rms, 1) * float64(b.width)))
	return fmt.Sprintf("%s [%s%s] rms %.3f peak %.3f", p.Source, strings.Repeat("#", filled), strings.Repeat(" ", b.width-filled), rms, peak)
}

// levelBar reduces the given values in dB to width columns, using the maximum per column.
func levelBar(values []float64, floor float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	columns := min(width, len(values))
	result := make([]rune, columns)
	for c := range result {
		from := c * len(values) / columns
		to := max(from+1, (c+1)*len(values)/columns)
		_, level := minMax(values[from:to])
		normalized := (level - floor) / textDynamicRange
		index := int(normalized * float64(len(levelChars)-1))
		index = max(0, min(index, len(levelChars)-1))
		result[c] = levelChars[index]
	}
	return string(result)
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
