// Package compute runs spectral transforms on a fixed set of workers, off the processing loop.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/ftl/multirx/dsp"
)

const (
	maxDefaultPoolSize = 4
	resultBufferSize   = 64
)

var (
	ErrPoolClosed    = errors.New("compute pool closed")
	ErrDuplicateTask = errors.New("duplicate task id")
	ErrInvalidTask   = errors.New("invalid task")
	ErrTaskPanic     = errors.New("task panicked")
)

type TaskID uint64

// Task is a block of samples to be transformed. The pool takes ownership of the samples, the caller must
// not modify them after submission.
type Task struct {
	ID         TaskID
	Priority   int
	Samples    []complex64
	SampleRate int
	FFTSize    int
	Phase      bool
	Window     dsp.Window
}

// Result of a task, correlated by the task id. Err is set if the transform failed.
type Result struct {
	ID             TaskID
	Worker         int
	Magnitude      []float64
	Phase          []float64
	ProcessingTime time.Duration
	Err            error
}

// Future resolves with the result of one task.
type Future struct {
	id     TaskID
	done   chan struct{}
	result Result
}

func newFuture(id TaskID) *Future {
	return &Future{
		id:   id,
		done: make(chan struct{}),
	}
}

func (f *Future) resolve(result Result) {
	f.result = result
	close(f.done)
}

func (f *Future) ID() TaskID {
	return f.id
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait for the result. It returns the error of the result, or the error of the context if the context is
// done first.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, f.result.Err
	case <-ctx.Done():
		return Result{ID: f.id}, ctx.Err()
	}
}

// Pool dispatches tasks strictly round robin to a fixed number of workers. Each worker has its own
// unbounded queue. Results may complete out of submission order, they are correlated with the waiting
// future by the task id only.
type Pool struct {
	transform Transform
	workers   []*worker
	results   chan Result
	stopped   chan struct{}
	workersWG sync.WaitGroup

	lock       sync.Mutex
	next       int
	pending    map[TaskID]*Future
	dispatched []int
	closed     bool
}

// NewPool starts a pool with the given number of workers. If size is not positive, min(4, NumCPU) workers
// are used. If transform is nil, the direct transform is used.
func NewPool(size int, transform Transform) *Pool {
	if size <= 0 {
		size = min(maxDefaultPoolSize, runtime.NumCPU())
	}
	if transform == nil {
		transform = NewDirectTransform(nil)
	}

	result := &Pool{
		transform:  transform,
		workers:    make([]*worker, size),
		results:    make(chan Result, resultBufferSize),
		stopped:    make(chan struct{}),
		pending:    make(map[TaskID]*Future),
		dispatched: make([]int, size),
	}
	for i := range result.workers {
		result.workers[i] = newWorker(i)
		result.workersWG.Add(1)
		go func(w *worker) {
			defer result.workersWG.Done()
			w.run(result.transform, result.results)
		}(result.workers[i])
	}
	go result.dispatchResults()

	return result
}

// Process submits the given task. The returned future resolves with the result of the task.
func (p *Pool) Process(task Task) (*Future, error) {
	if task.FFTSize <= 0 {
		return nil, fmt.Errorf("%w %d: transform size %d", ErrInvalidTask, task.ID, task.FFTSize)
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if _, ok := p.pending[task.ID]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateTask, task.ID)
	}

	future := newFuture(task.ID)
	p.pending[task.ID] = future

	i := p.next
	p.next = (p.next + 1) % len(p.workers)
	p.dispatched[i]++
	p.workers[i].push(task)

	return future, nil
}

func (p *Pool) dispatchResults() {
	defer close(p.stopped)
	for result := range p.results {
		p.dispatch(result)
	}
}

func (p *Pool) dispatch(result Result) {
	p.lock.Lock()
	future, ok := p.pending[result.ID]
	if ok {
		delete(p.pending, result.ID)
	}
	p.lock.Unlock()

	if !ok {
		log.Printf("compute: dropping result of unknown task %d", result.ID)
		return
	}
	future.resolve(result)
}

// Size is the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// QueueDepth is the number of submitted tasks without result.
func (p *Pool) QueueDepth() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.pending)
}

// Dispatched returns the number of tasks that were dispatched to each worker.
func (p *Pool) Dispatched() []int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]int{}, p.dispatched...)
}

// Close stops all workers. Tasks that are still pending resolve with ErrPoolClosed.
func (p *Pool) Close() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		<-p.stopped
		return
	}
	p.closed = true
	p.lock.Unlock()

	for _, w := range p.workers {
		w.close()
	}
	p.workersWG.Wait()
	close(p.results)
	<-p.stopped

	p.lock.Lock()
	pending := p.pending
	p.pending = make(map[TaskID]*Future)
	p.lock.Unlock()
	for id, future := range pending {
		future.resolve(Result{ID: id, Err: ErrPoolClosed})
	}
}

type worker struct {
	index int

	lock   sync.Mutex
	queue  []Task
	wakeup chan struct{}
	stop   chan struct{}
}

func newWorker(index int) *worker {
	return &worker{
		index:  index,
		wakeup: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

func (w *worker) push(task Task) {
	w.lock.Lock()
	w.queue = append(w.queue, task)
	w.lock.Unlock()

	select {
	case w.wakeup <- struct{}{}:
	default:
	}
}

func (w *worker) pop() (Task, bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if len(w.queue) == 0 {
		return Task{}, false
	}
	task := w.queue[0]
	w.queue[0] = Task{}
	w.queue = w.queue[1:]
	return task, true
}

func (w *worker) close() {
	close(w.stop)
}

func (w *worker) run(transform Transform, results chan<- Result) {
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		task, ok := w.pop()
		if !ok {
			select {
			case <-w.stop:
				return
			case <-w.wakeup:
			}
			continue
		}

		results <- w.compute(transform, task)
	}
}

func (w *worker) compute(transform Transform, task Task) (result Result) {
	startTime := time.Now()
	result = Result{ID: task.ID, Worker: w.index}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("compute: worker %d recovered from panic in task %d: %v", w.index, task.ID, r)
			result = Result{ID: task.ID, Worker: w.index, Err: fmt.Errorf("%w: %v", ErrTaskPanic, r)}
		}
		result.ProcessingTime = time.Since(startTime)
	}()

	magnitude := make([]float64, task.FFTSize)
	var phase []float64
	if task.Phase {
		phase = make([]float64, task.FFTSize)
	}
	window := dsp.WindowCoefficients(task.Window, task.FFTSize)

	err := transform.Spectrum(magnitude, phase, task.Samples, window)
	if err != nil {
		result.Err = fmt.Errorf("task %d: %w", task.ID, err)
		return result
	}

	result.Magnitude = magnitude
	result.Phase = phase
	return result
}
