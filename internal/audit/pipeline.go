package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull       = errors.New("audit queue full")
	ErrPipelineClosed  = errors.New("audit pipeline closed")
	ErrPipelineStopped = errors.New("audit pipeline not started")
	ErrAlreadyStarted  = errors.New("audit pipeline already started")
)

const defaultQueueSize = 4096

// Pipeline is the serialization point between concurrent producers and
// the single Writer. Events drain in publish order on one flusher
// goroutine, so causally related events written by different threads
// land on disk in the order the facts were established, and no
// producer ever blocks on fsync while holding its own locks.
type Pipeline struct {
	w  *Writer
	ch chan Event
	wg sync.WaitGroup

	err     atomic.Value
	started uint32
	closed  uint32
}

// NewPipeline wraps a writer with a bounded ordered queue.
func NewPipeline(w *Writer, queueSize int) *Pipeline {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Pipeline{
		w:  w,
		ch: make(chan Event, queueSize),
	}
}

// Start runs the flusher loop in a new goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&p.started, 0, 1) {
		return ErrAlreadyStarted
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	return nil
}

// Publish enqueues an event, blocking when the queue is full. Blocking
// rather than dropping keeps the on-disk order equal to publish order.
func (p *Pipeline) Publish(event Event) error {
	if err := p.usable(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	p.ch <- event
	return nil
}

// TryPublish enqueues an event without blocking.
func (p *Pipeline) TryPublish(event Event) error {
	if err := p.usable(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	select {
	case p.ch <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains buffered events, stops the flusher, and closes the
// writer.
func (p *Pipeline) Close() error {
	if atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		close(p.ch)
	}
	p.wg.Wait()
	if err := p.w.Close(); err != nil && p.Err() == nil {
		p.setErr(err)
	}
	return p.Err()
}

// Err returns the first error observed by the flusher, if any.
func (p *Pipeline) Err() error {
	if v := p.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (p *Pipeline) usable() error {
	if atomic.LoadUint32(&p.closed) != 0 {
		return ErrPipelineClosed
	}
	if atomic.LoadUint32(&p.started) == 0 {
		return ErrPipelineStopped
	}
	if err := p.Err(); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drainNonBlocking()
			return
		case event, ok := <-p.ch:
			if !ok {
				return
			}
			if err := p.w.Write(event); err != nil {
				p.setErr(err)
				return
			}
		}
	}
}

func (p *Pipeline) drainNonBlocking() {
	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				return
			}
			if err := p.w.Write(event); err != nil {
				p.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}
	if p.err.Load() != nil {
		return
	}
	p.err.Store(err)
}
