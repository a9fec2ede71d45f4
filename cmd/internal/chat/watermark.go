package chat

import (
	"sync/atomic"
	"time"
)

// Watermark is the process-wide timestamp of the most recent write to the
// message set. It is the server half of the polling protocol: clients hold a
// cursor and ask whether the watermark has moved past it.
//
// The value is monotonically non-decreasing and safe under concurrent writers
// without blocking readers. It is deliberately coarse: any write invalidates
// the whole set. Single-process only; promoting it to a shared store is what
// a multi-node deployment would need.
type Watermark struct {
	// Unix nanoseconds of the last write.
	ns atomic.Int64
}

// NewWatermark returns a watermark initialized to process-start time, so a
// fresh server does not signal updates to clients that already fetched.
func NewWatermark() *Watermark {
	w := &Watermark{}
	w.ns.Store(time.Now().UTC().UnixNano())
	return w
}

// Advance moves the watermark to now. Called on every successful message
// create, update, or delete. Concurrent callers race benignly: the CAS loop
// only ever moves the value forward, and any value near "now" is an acceptable
// upper bound for triggering a refetch.
func (w *Watermark) Advance(now time.Time) {
	n := now.UnixNano()
	for {
		cur := w.ns.Load()
		if n <= cur {
			return
		}
		if w.ns.CompareAndSwap(cur, n) {
			return
		}
	}
}

// HasChangedSince reports whether any write happened after the given cursor.
// A zero cursor (no cursor yet, or an unparsable one) always reports true.
func (w *Watermark) HasChangedSince(cursor time.Time) bool {
	return w.ns.Load() > cursor.UnixNano()
}

// Time returns the current watermark value.
func (w *Watermark) Time() time.Time {
	return time.Unix(0, w.ns.Load()).UTC()
}

// ParseCursor parses a client-supplied Last-Update value. Malformed or missing
// cursors map to the epoch: the client is conservatively told it has updates
// rather than being starved of data.
func ParseCursor(raw string) time.Time {
	if raw == "" {
		return time.Unix(0, 0).UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}
