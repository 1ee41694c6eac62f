package opus

import "sync"

// pageQueue holds pages submitted before the decoder is ready and releases
// them in arrival order once it is. Nothing is ever dropped.
type pageQueue struct {
	mu      sync.Mutex
	ready   bool
	pending [][]byte
	forward func([]byte)
}

func newPageQueue(forward func([]byte)) *pageQueue {
	return &pageQueue{forward: forward}
}

// submit forwards page, or queues it while not ready. It reports whether
// the page was queued.
func (q *pageQueue) submit(page []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.ready {
		q.pending = append(q.pending, page)
		return true
	}
	q.forward(page)
	return false
}

// open marks the queue ready and flushes everything pending. Pages
// submitted concurrently wait until the flush completes, so order holds.
// It returns the number of pages flushed. Calling open again is a no-op.
func (q *pageQueue) open() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return 0
	}
	q.ready = true
	n := len(q.pending)
	for _, p := range q.pending {
		q.forward(p)
	}
	q.pending = nil
	return n
}

// len returns the number of pages waiting.
func (q *pageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
