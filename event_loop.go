package walletsync

import (
	"sync"
)

// eventLoop runs every posted closure on one goroutine, in posting order.
// Anything that touches NetworkState or the session scheduler runs here, so
// wallet callbacks, timer fires and storage notifications never interleave.
type eventLoop struct {
	queue chan func()
	done  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newEventLoop(size int) *eventLoop {
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	return &eventLoop{
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-l.closed:
			return
		}
	}
}

// post enqueues fn. It blocks while the queue is full and returns false once
// the loop is closed.
func (l *eventLoop) post(fn func()) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.closed:
		return false
	}
}

// do runs fn on the loop and waits for it. Must not be called from the loop.
func (l *eventLoop) do(fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClientClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// closed before fn got its turn
		select {
		case <-finished:
			return nil
		default:
			return ErrClientClosed
		}
	}
}

func (l *eventLoop) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

// wait blocks until run has returned.
func (l *eventLoop) wait() {
	<-l.done
}
