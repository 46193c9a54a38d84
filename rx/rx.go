// Package rx ties the VFO registry, the demodulators, the spectral compute pool and the displays together
// into one receiver that processes a wideband IQ stream.
package rx

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ftl/multirx/render"
	"github.com/ftl/multirx/vfo"
)

// TextReporter prints the VFO events and the dropped frames of the displays.
type TextReporter struct {
	lock sync.Mutex
	out  io.Writer
}

func NewTextReporter(out io.Writer) *TextReporter {
	if out == nil {
		out = os.Stdout
	}
	return &TextReporter{out: out}
}

func (r *TextReporter) printf(format string, args ...any) {
	r.lock.Lock()
	defer r.lock.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *TextReporter) VFOAdded(state vfo.State) {
	r.printf("vfo %d added: %s on %.3fkHz, %.0fHz wide, %s", state.ID, state.Mode, state.CenterHz/1000, state.BandwidthHz, state.Status)
}

func (r *TextReporter) VFOUpdated(state vfo.State) {
	audio := "off"
	if state.AudioEnabled {
		audio = "on"
	}
	r.printf("vfo %d updated: %s on %.3fkHz, %.0fHz wide, audio %s, %s", state.ID, state.Mode, state.CenterHz/1000, state.BandwidthHz, audio, state.Status)
}

func (r *TextReporter) VFORemoved(id vfo.ID) {
	r.printf("vfo %d removed", id)
}

func (r *TextReporter) VFOWarning(warning vfo.Warning) {
	r.printf("warning: %s", warning.Message)
}

func (r *TextReporter) FrameComplete(render.Metrics) {}

func (r *TextReporter) FrameDropped(drop render.Drop) {
	r.printf("%s: frame %d dropped (%s)", drop.Surface, drop.FrameID, drop.Reason)
}

func (r *TextReporter) RenderError(id render.FrameID, err error) {
	r.printf("cannot render frame %d: %v", id, err)
}
