package sweep

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/syncqueue"

	"github.com/grailbio/gc/cell"
)

// backgroundQueueSize bounds how far a producer (the sweeper) may run ahead
// of the background finalization goroutine before Enqueue blocks.
const backgroundQueueSize = 4096

// BackgroundFinalizer runs finalizers for background-finalizable kinds
// (§5, C12) off the mutator thread, preserving the order cells were handed
// to it via a syncqueue.OrderedQueue and draining them on a single
// dedicated goroutine for the lifetime of the heap.
type BackgroundFinalizer struct {
	queue     *syncqueue.OrderedQueue
	seq       int64
	processed int64
	done      chan struct{}
}

// NewBackgroundFinalizer starts the background worker goroutine, which
// calls onFinalize once per enqueued cell, in enqueue order, until Shutdown
// is called.
func NewBackgroundFinalizer(onFinalize func(*cell.Cell)) *BackgroundFinalizer {
	f := &BackgroundFinalizer{
		queue: syncqueue.NewOrderedQueue(backgroundQueueSize),
		done:  make(chan struct{}),
	}
	go f.run(onFinalize)
	return f
}

func (f *BackgroundFinalizer) run(onFinalize func(*cell.Cell)) {
	defer close(f.done)
	for {
		v, ok, err := f.queue.Next()
		if err != nil || !ok {
			return
		}
		if onFinalize != nil {
			onFinalize(v.(*cell.Cell))
		}
		atomic.AddInt64(&f.processed, 1)
	}
}

// Enqueue hands c to the background finalizer. Safe to call concurrently
// from multiple sweeper instances (e.g. one per zone group).
func (f *BackgroundFinalizer) Enqueue(c *cell.Cell) {
	seq := atomic.AddInt64(&f.seq, 1) - 1
	if err := f.queue.Insert(int(seq), c); err != nil {
		log.Panicf("sweep: background finalize enqueue: %v", err)
	}
}

// Processed returns the number of cells finalized so far.
func (f *BackgroundFinalizer) Processed() int64 { return atomic.LoadInt64(&f.processed) }

// Shutdown closes the queue and blocks until the worker goroutine has
// drained everything already enqueued and exited.
func (f *BackgroundFinalizer) Shutdown() {
	f.queue.Close(nil)
	<-f.done
}
