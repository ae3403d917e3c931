package pipeline

import "sync"

// OptsWatch is a single-writer / many-reader watched value, modeled on
// the watch-channel the capture loop uses to observe CaptureOpts
// changes: readers always see the latest value, never a queue of
// stale ones.
type OptsWatch struct {
	mu      sync.RWMutex
	value   CaptureOpts
	version uint64
	changed chan struct{}
}

// NewOptsWatch creates a watch seeded with initial.
func NewOptsWatch(initial CaptureOpts) *OptsWatch {
	return &OptsWatch{value: initial, changed: make(chan struct{})}
}

// Get returns the latest value.
func (w *OptsWatch) Get() CaptureOpts {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value
}

// Set overwrites the value and wakes any goroutine blocked in Changed.
func (w *OptsWatch) Set(v CaptureOpts) {
	w.mu.Lock()
	w.value = v
	w.version++
	closed := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(closed)
}

// Modify applies fn to a copy of the current value and stores the
// result, mirroring the send_modify pattern used to flip individual
// CaptureOpts fields without races against concurrent readers.
func (w *OptsWatch) Modify(fn func(*CaptureOpts)) {
	w.mu.Lock()
	v := w.value
	fn(&v)
	w.value = v
	w.version++
	closed := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(closed)
}

// Changed returns a channel that closes the next time the value
// changes.
func (w *OptsWatch) Changed() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.changed
}
