// Package render draws frames on visualization surfaces at their own pace.
//
// Each surface has a bounded queue of MaxQueueSize frames and renders one frame at a time. When a new
// frame arrives at a full queue, the oldest queued frame is dropped, the producer never blocks.
package render

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	MaxQueueSize    = 3
	ReasonQueueFull = "queue_full"

	controlBufferSize = 8
)

var (
	ErrNoBackend      = errors.New("no render backend available")
	ErrUnknownPayload = errors.New("unknown payload")
	ErrDisposed       = errors.New("surface disposed")
)

// Backend draws frames. A backend is only used by the render loop of one surface, it does not need to be
// safe for concurrent use.
type Backend interface {
	Name() string
	Render(Frame) error
	Resize(Size) error
	Close() error
}

// BackendFactory creates a backend for the given surface. It returns an error if the backend is not
// available.
type BackendFactory func(surface string, size Size) (Backend, error)

type Metrics struct {
	Surface        string
	FrameID        FrameID
	RenderTime     time.Duration
	QueueSize      int
	DroppedFrames  int
	RenderedFrames int
}

type Drop struct {
	Surface string
	FrameID FrameID
	Reason  string
}

type Observer interface {
	FrameComplete(Metrics)
	FrameDropped(Drop)
	RenderError(FrameID, error)
}

type nopObserver struct{}

func (nopObserver) FrameComplete(Metrics)      {}
func (nopObserver) FrameDropped(Drop)          {}
func (nopObserver) RenderError(FrameID, error) {}

// control messages are handled by the render loop between two frames
type control interface {
	controlKind() string
}

type resizeMessage struct {
	size Size
}

func (resizeMessage) controlKind() string { return "resize" }

type disposeMessage struct{}

func (disposeMessage) controlKind() string { return "dispose" }

// Surface is a visualization target with its own render loop.
type Surface struct {
	name     string
	backend  Backend
	observer Observer

	lock      sync.Mutex
	queue     []Frame
	size      Size
	rendering bool
	disposed  bool
	dropped   int
	rendered  int

	wakeup      chan struct{}
	control     chan control
	done        chan struct{}
	disposeOnce sync.Once
}

// NewSurface selects the first backend that can be created with the given factories and starts the render
// loop. The selected backend does not change during the lifetime of the surface.
func NewSurface(name string, size Size, factories []BackendFactory, observer Observer) (*Surface, error) {
	if observer == nil {
		observer = nopObserver{}
	}

	var backend Backend
	for i, factory := range factories {
		var err error
		backend, err = factory(name, size)
		if err == nil {
			break
		}
		log.Printf("render: %s: backend %d is not available: %v", name, i, err)
		backend = nil
	}
	if backend == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNoBackend)
	}
	log.Printf("render: %s: using %s backend", name, backend.Name())

	result := &Surface{
		name:     name,
		backend:  backend,
		observer: observer,
		queue:    make([]Frame, 0, MaxQueueSize),
		size:     size,
		wakeup:   make(chan struct{}, 1),
		control:  make(chan control, controlBufferSize),
		done:     make(chan struct{}),
	}
	go result.run()

	return result, nil
}

func (s *Surface) Name() string {
	return s.name
}

// Backend returns the name of the selected backend.
func (s *Surface) Backend() string {
	return s.backend.Name()
}

func (s *Surface) Size() Size {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.size
}

// Enqueue puts the frame into the queue. If the queue is full, the oldest frame is dropped. It returns false
// if the surface is already disposed.
func (s *Surface) Enqueue(frame Frame) bool {
	s.lock.Lock()
	if s.disposed {
		s.lock.Unlock()
		return false
	}
	var drop *Drop
	if len(s.queue) >= MaxQueueSize {
		drop = &Drop{Surface: s.name, FrameID: s.queue[0].ID, Reason: ReasonQueueFull}
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped++
	}
	s.queue = append(s.queue, frame)
	s.lock.Unlock()

	if drop != nil {
		s.observer.FrameDropped(*drop)
	}
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
	return true
}

// Resize the surface. The new size is applied between two frames.
func (s *Surface) Resize(width, height int) error {
	return s.send(resizeMessage{size: Size{Width: width, Height: height}})
}

// Dispose stops the render loop, clears the queue and releases the backend. A frame that is currently
// rendered is completed first. Dispose may be called several times.
func (s *Surface) Dispose() {
	s.disposeOnce.Do(func() {
		s.lock.Lock()
		s.disposed = true
		s.lock.Unlock()

		s.control <- disposeMessage{}
	})
	<-s.done
}

func (s *Surface) send(msg control) error {
	s.lock.Lock()
	disposed := s.disposed
	s.lock.Unlock()
	if disposed {
		return ErrDisposed
	}

	select {
	case s.control <- msg:
		return nil
	case <-s.done:
		return ErrDisposed
	}
}

// QueuedFrames returns the ids of the queued frames, oldest first.
func (s *Surface) QueuedFrames() []FrameID {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]FrameID, len(s.queue))
	for i, frame := range s.queue {
		result[i] = frame.ID
	}
	return result
}

func (s *Surface) Rendering() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.rendering
}

func (s *Surface) Stats() (rendered int, dropped int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.rendered, s.dropped
}

func (s *Surface) run() {
	defer close(s.done)
	for {
		select {
		case msg := <-s.control:
			if !s.handleControl(msg) {
				return
			}
			continue
		default:
		}

		if frame, ok := s.next(); ok {
			s.render(frame)
			continue
		}

		select {
		case msg := <-s.control:
			if !s.handleControl(msg) {
				return
			}
		case <-s.wakeup:
		}
	}
}

// handleControl returns false if the render loop must stop.
func (s *Surface) handleControl(msg control) bool {
	switch msg := msg.(type) {
	case resizeMessage:
		err := s.backend.Resize(msg.size)
		if err != nil {
			s.observer.RenderError(0, fmt.Errorf("%s: cannot resize to %s: %w", s.name, msg.size, err))
			return true
		}
		s.lock.Lock()
		s.size = msg.size
		s.lock.Unlock()
		return true
	case disposeMessage:
		s.lock.Lock()
		clear(s.queue)
		s.queue = s.queue[:0]
		s.lock.Unlock()
		if err := s.backend.Close(); err != nil {
			log.Printf("render: %s: cannot close %s backend: %v", s.name, s.backend.Name(), err)
		}
		return false
	default:
		panic(fmt.Sprintf("unknown control message %s", msg.controlKind()))
	}
}

func (s *Surface) next() (Frame, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.rendering || len(s.queue) == 0 || s.disposed {
		return Frame{}, false
	}
	frame := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue[len(s.queue)-1] = Frame{}
	s.queue = s.queue[:len(s.queue)-1]
	s.rendering = true
	return frame, true
}

func (s *Surface) render(frame Frame) {
	startTime := time.Now()
	err := s.renderFrame(frame)
	renderTime := time.Since(startTime)

	s.lock.Lock()
	s.rendering = false
	if err == nil {
		s.rendered++
	}
	metrics := Metrics{
		Surface:        s.name,
		FrameID:        frame.ID,
		RenderTime:     renderTime,
		QueueSize:      len(s.queue),
		DroppedFrames:  s.dropped,
		RenderedFrames: s.rendered,
	}
	s.lock.Unlock()

	if err != nil {
		s.observer.RenderError(frame.ID, err)
		return
	}
	s.observer.FrameComplete(metrics)
}

func (s *Surface) renderFrame(frame Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %s backend panicked: %v", s.name, s.backend.Name(), r)
		}
	}()
	return s.backend.Render(frame)
}
