// Package queue implements the outbound command queue: a priority-ordered
// list where priority never increases from head to tail, the head is never
// displaced by insertion, and same-identifier commands are compressed or
// deduplicated at the tail.
package queue

import (
	"sync"

	"bmvlink/pkg/message"
)

// Queue holds pending commands awaiting transmission. The head (index 0) is
// the command currently inflight or about to be sent; only Advance may
// remove it.
type Queue struct {
	mu    sync.Mutex
	items []*message.Command
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len reports the number of queued commands, including the head.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Head returns the command at index 0, or nil if the queue is empty.
func (q *Queue) Head() *message.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Enqueue inserts cmd, preserving the non-increasing-priority invariant and
// never touching index 0. Priority-1 (high) commands are inserted after the
// last consecutive run of priority-1 entries starting at index 1 (or at
// index 0 if the queue is empty). Priority-0 (normal) commands are appended
// at the tail.
//
// When compress is true, an existing tail entry (index len-1, provided it
// is not also the head) sharing cmd's identifier is replaced in place
// rather than appended, per scenario S6. Independently of compress, an
// exact wire-form duplicate already at the tail is dropped silently - this
// dedup rule applies regardless of the compression flag, per the design
// decision on re-queuing while inflight.
func (q *Queue) Enqueue(cmd *message.Command, compress bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.items); n > 0 {
		tail := q.items[n-1]
		if tail.Wire == cmd.Wire {
			return
		}
		if compress && n > 1 && tail.Identifier() == cmd.Identifier() {
			q.items[n-1] = cmd
			return
		}
	}

	if cmd.Priority <= 0 {
		q.items = append(q.items, cmd)
		return
	}

	if len(q.items) == 0 {
		q.items = append(q.items, cmd)
		return
	}

	insertAt := 1
	for insertAt < len(q.items) && q.items[insertAt].Priority >= cmd.Priority {
		insertAt++
	}
	q.items = insertAtIndex(q.items, insertAt, cmd)
}

func insertAtIndex(items []*message.Command, idx int, cmd *message.Command) []*message.Command {
	items = append(items, nil)
	copy(items[idx+1:], items[idx:])
	items[idx] = cmd
	return items
}

// Delete removes the first queued command (other than the head) whose
// identifier matches. It reports whether anything was removed. The head is
// never removed by Delete; use Advance to retire it.
func (q *Queue) Delete(identifier string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 1; i < len(q.items); i++ {
		if q.items[i].Identifier() == identifier {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Advance retires the current head (on success, exhaustion, or drop) and
// promotes whatever is now at index 0. Per the design note on retry-count
// reset, the newly promoted head is a fresh occupant of index 0: callers
// should re-read its MaxRetries rather than carry over any prior retry
// counter.
func (q *Queue) Advance() (removed, newHead *message.Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	removed = q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		return removed, nil
	}
	return removed, q.items[0]
}

// Snapshot returns a copy of the queue contents for inspection (tests,
// diagnostics). Mutating the returned slice does not affect the queue.
func (q *Queue) Snapshot() []*message.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*message.Command, len(q.items))
	copy(out, q.items)
	return out
}
