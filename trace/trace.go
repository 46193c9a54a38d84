// Package trace writes internal values of the processing loop as semicolon separated lines, either into a
// file or to a UDP destination. Only the values of one context are traced at a time.
package trace

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	SpectrumContext = "spectrum"
	VFOContext      = "vfo"
)

type Tracer interface {
	Context() string
	Start()
	Trace(context string, format string, args ...any)
	TraceBlock(context string, block []float64)
	Stop()
}

type NoTracer struct{}

func (t *NoTracer) Context() string              { return "" }
func (t *NoTracer) Start()                       {}
func (t *NoTracer) Trace(string, string, ...any) {}
func (t *NoTracer) TraceBlock(string, []float64) {}
func (t *NoTracer) Stop()                        {}

// Parse creates a tracer from a destination of the form "file:<filename>" or "udp:<host:port>". An empty
// destination returns a NoTracer.
func Parse(context string, destination string) (Tracer, error) {
	if destination == "" {
		return new(NoTracer), nil
	}
	kind, target, ok := strings.Cut(destination, ":")
	if !ok || target == "" {
		return nil, fmt.Errorf("invalid trace destination %q", destination)
	}
	switch kind {
	case "file":
		return NewFileTracer(context, target), nil
	case "udp":
		addr, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			return nil, fmt.Errorf("cannot parse UDP destination: %w", err)
		}
		return NewUDPTracer(context, addr), nil
	default:
		return nil, fmt.Errorf("unknown trace destination type %q", kind)
	}
}

// streamTracer writes the traced lines to the stream that is opened on Start.
type streamTracer struct {
	context string
	open    func() (io.WriteCloser, error)

	lock sync.Mutex
	out  io.WriteCloser
}

func (t *streamTracer) Context() string {
	return t.context
}

func (t *streamTracer) Start() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.out != nil {
		return
	}

	out, err := t.open()
	if err != nil {
		log.Printf("cannot start trace: %v", err)
		return
	}
	t.out = out
}

func (t *streamTracer) Trace(context string, format string, args ...any) {
	if context != t.context {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.out == nil {
		return
	}

	fmt.Fprintf(t.out, format+"\n", args...)
}

// TraceBlock writes all values of the block into one line.
func (t *streamTracer) TraceBlock(context string, block []float64) {
	if context != t.context {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.out == nil {
		return
	}

	line := make([]byte, 0, len(block)*8)
	line = append(line, "block"...)
	for _, value := range block {
		line = append(line, ';')
		line = strconv.AppendFloat(line, value, 'f', 2, 64)
	}
	line = append(line, '\n')
	t.out.Write(line)
}

func (t *streamTracer) Stop() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.out == nil {
		return
	}

	t.out.Close()
	t.out = nil
}

type FileTracer struct {
	streamTracer
	filename string
}

func NewFileTracer(context string, filename string) *FileTracer {
	result := &FileTracer{filename: filename}
	result.context = context
	result.open = func() (io.WriteCloser, error) {
		return os.Create(result.filename)
	}
	return result
}

type UDPTracer struct {
	streamTracer
	addr *net.UDPAddr
}

func NewUDPTracer(context string, addr *net.UDPAddr) *UDPTracer {
	result := &UDPTracer{addr: addr}
	result.context = context
	result.open = func() (io.WriteCloser, error) {
		return net.DialUDP("udp", nil, result.addr)
	}
	return result
}
