package gpuframe

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpuframe/gpucore"
)

// ErrNoTimeQuery is returned by PopTimeQuery without a matching push.
var ErrNoTimeQuery = errors.New("gpuframe: no open time query")

// TimeQuery is a named GPU time measurement of one frame. Begin and End are
// GPU timestamps in nanoseconds.
type TimeQuery struct {
	Name  string
	Frame uint64
	Begin uint64
	End   uint64
}

// Duration returns the GPU time between the two timestamps.
func (q TimeQuery) Duration() time.Duration {
	if q.End < q.Begin {
		return 0
	}
	return time.Duration(q.End - q.Begin)
}

// openQuery is a pushed query waiting for its pop. A nil begin marks a
// recorder without timestamp support; the pop is then a no-op.
type openQuery struct {
	name  string
	rec   gpucore.CommandRecorder
	begin gpucore.TimestampQuery
}

type pendingQuery struct {
	name       string
	frame      uint64
	begin, end gpucore.TimestampQuery
}

// timeQueries collects the closed queries of one ring slot until the slot
// retires.
type timeQueries struct {
	mu      sync.Mutex
	pending []pendingQuery
}

func (t *timeQueries) add(q pendingQuery) {
	t.mu.Lock()
	t.pending = append(t.pending, q)
	t.mu.Unlock()
}

// resolve reads every pending query. It must run after the slot's fence
// signaled.
func (t *timeQueries) resolve() []TimeQuery {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	var out []TimeQuery
	for _, q := range pending {
		begin, ok1 := q.begin.Result()
		end, ok2 := q.end.Result()
		if !ok1 || !ok2 {
			Logger().Debug("gpuframe: time query unavailable", "name", q.name, "frame", q.frame)
			continue
		}
		out = append(out, TimeQuery{Name: q.name, Frame: q.frame, Begin: begin, End: end})
	}
	return out
}

func (t *timeQueries) discard() {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
}

// PushTimeQuery writes a begin timestamp named name into rec. Queries nest;
// PopTimeQuery closes the innermost one. Recorders without timestamp support
// are accepted and produce no result.
func (w *Worker) PushTimeQuery(rec gpucore.CommandRecorder, name string) error {
	tw, ok := rec.(gpucore.TimestampWriter)
	if !ok {
		w.queries = append(w.queries, openQuery{name: name, rec: rec})
		return nil
	}
	q, err := tw.WriteTimestamp()
	if err != nil {
		return fmt.Errorf("gpuframe: time query %q: %w", name, err)
	}
	w.queries = append(w.queries, openQuery{name: name, rec: rec, begin: q})
	return nil
}

// PopTimeQuery writes the end timestamp of the innermost open query into the
// recorder it was pushed on. The result is available from
// Device.TimeQueries once the frame has retired.
func (w *Worker) PopTimeQuery() error {
	n := len(w.queries)
	if n == 0 {
		return ErrNoTimeQuery
	}
	open := w.queries[n-1]
	w.queries = w.queries[:n-1]
	if open.begin == nil {
		return nil
	}
	if w.dev.closed.Load() {
		return ErrClosed
	}
	end, err := open.rec.(gpucore.TimestampWriter).WriteTimestamp()
	if err != nil {
		return fmt.Errorf("gpuframe: time query %q: %w", open.name, err)
	}
	slot := w.dev.currentSlot()
	slot.timing.add(pendingQuery{name: open.name, frame: slot.frame, begin: open.begin, end: end})
	return nil
}
