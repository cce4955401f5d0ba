package reactive

import (
	"sync"

	database "reactive_kv_store/internal/kvstore"
	"reactive_kv_store/internal/partition"
)

type opKind int

const (
	opWrite opKind = iota
	opDelete
	opBarrier
)

type op struct {
	kind opKind
	key  string
	data []byte
	done chan struct{}
}

// lane is an unbounded FIFO drained by one goroutine. push never blocks, so
// it is safe to call with the store lock held.
type lane struct {
	mu     sync.Mutex
	ops    []op
	closed bool
	wake   chan struct{}
}

// push appends o and returns the lane backlog including o.
func (l *lane) push(o op) int {
	l.mu.Lock()
	l.ops = append(l.ops, o)
	n := len(l.ops)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return n
}

// take returns everything queued so far. ok is false once the lane is
// closed and empty.
func (l *lane) take() (batch []op, ok bool) {
	for {
		l.mu.Lock()
		batch, l.ops = l.ops, nil
		closed := l.closed
		l.mu.Unlock()

		if len(batch) > 0 {
			return batch, true
		}
		if closed {
			return nil, false
		}
		<-l.wake
	}
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// writer applies durable operations on one goroutine per lane. Operations on
// the same key share a lane, so they reach the backend in enqueue order.
type writer struct {
	backend     database.Store
	partitioner partition.Partitioner
	lanes       []*lane
	wg          sync.WaitGroup
	onResult    func(op, error)
}

func newWriter(backend database.Store, p partition.Partitioner, onResult func(op, error)) *writer {
	w := &writer{
		backend:     backend,
		partitioner: p,
		lanes:       make([]*lane, p.Lanes()),
		onResult:    onResult,
	}
	for i := range w.lanes {
		w.lanes[i] = &lane{wake: make(chan struct{}, 1)}
		w.wg.Add(1)
		go w.run(w.lanes[i])
	}
	return w
}

func (w *writer) run(l *lane) {
	defer w.wg.Done()

	for {
		batch, ok := l.take()
		if !ok {
			return
		}
		for _, o := range batch {
			w.apply(o)
		}
	}
}

func (w *writer) apply(o op) {
	var err error
	switch o.kind {
	case opWrite:
		err = w.backend.Write(o.key, o.data)
	case opDelete:
		err = w.backend.Delete(o.key)
	case opBarrier:
		close(o.done)
		return
	}
	w.onResult(o, err)
}

// enqueue returns the backlog of the lane o was queued on.
func (w *writer) enqueue(o op) int {
	return w.lanes[w.partitioner.Lane(o.key)].push(o)
}

// barrier returns one channel per lane that is closed once everything queued
// on that lane before the barrier has been applied.
func (w *writer) barrier() []chan struct{} {
	done := make([]chan struct{}, len(w.lanes))
	for i, l := range w.lanes {
		done[i] = make(chan struct{})
		l.push(op{kind: opBarrier, done: done[i]})
	}
	return done
}

// stop drains every lane and waits for the goroutines to exit.
func (w *writer) stop() {
	for _, l := range w.lanes {
		l.close()
	}
	w.wg.Wait()
}
