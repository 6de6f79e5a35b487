package signaling

import "sync"

// listenerID is an opaque unsubscribe token.
type listenerID uint64

// unsubscribeFunc removes a previously registered listener. Calling it more
// than once is a no-op.
type unsubscribeFunc func()

// emitter is a typed multi-listener fan-out registry with unsubscribe
// tokens. It snapshots the listener set before each dispatch so that a
// listener that unsubscribes itself mid-dispatch does not skip a
// successor, and a listener registered during dispatch is not invoked for
// the event currently being dispatched.
type emitter struct {
	mu      sync.Mutex
	nextID  listenerID
	buckets map[string]map[listenerID]func(interface{})
}

func newEmitter() *emitter {
	return &emitter{buckets: make(map[string]map[listenerID]func(interface{}))}
}

// on registers fn for name and returns an unsubscribe function.
func (e *emitter) on(name string, fn func(interface{})) unsubscribeFunc {
	e.mu.Lock()
	defer e.mu.Unlock()

	bucket, ok := e.buckets[name]
	if !ok {
		bucket = make(map[listenerID]func(interface{}))
		e.buckets[name] = bucket
	}

	id := e.nextID
	e.nextID++
	bucket[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if b, ok := e.buckets[name]; ok {
				delete(b, id)
				if len(b) == 0 {
					delete(e.buckets, name)
				}
			}
		})
	}
}

// emit snapshots the current listener set for name and invokes each one in
// registration order with payload.
func (e *emitter) emit(name string, payload interface{}) {
	e.mu.Lock()
	bucket, ok := e.buckets[name]
	if !ok || len(bucket) == 0 {
		e.mu.Unlock()
		return
	}
	ids := make([]listenerID, 0, len(bucket))
	fns := make([]func(interface{}), 0, len(bucket))
	for id, fn := range bucket {
		ids = append(ids, id)
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	// Registration order is not guaranteed by Go map iteration; sort by id
	// (monotonically assigned at registration) to honor it.
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && ids[j-1] > ids[j] {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			fns[j-1], fns[j] = fns[j], fns[j-1]
			j--
		}
	}

	for _, fn := range fns {
		fn(payload)
	}
}

// clear drops every listener in every bucket.
func (e *emitter) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buckets = make(map[string]map[listenerID]func(interface{}))
}
