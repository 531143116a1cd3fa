// Package ringbuf implements the bounded output buffer (C1): a fixed-size
// ring of captured process output lines with a blocking wait-for-new-lines
// call. It is the sink background processes write into and the source the
// MCP tool surface tails from.
//
// The blocking/notification shape mirrors the done/exited channel pair the
// teacher's BCCExecutor.Run uses to let one goroutine wait on a process
// exit while another watches for cancellation: here, each waiter gets its
// own one-shot channel, and add() delivers to whichever waiters are
// satisfied, in registration order.
package ringbuf

import (
	"sync"
	"time"

	"github.com/quanticsoul4772/macos-shell-sub000/internal/shellmodel"
)

// DefaultCapacity is the default number of resident lines.
const DefaultCapacity = 300

// Buffer is a bounded ring of OutputLine values with blocking reads.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	lines    []shellmodel.OutputLine // oldest first, len <= capacity
	total    int64                   // highest line number ever assigned
	waiters  []*waiter
}

type waiter struct {
	afterLine int64
	ch        chan []shellmodel.OutputLine
}

// New creates a Buffer with the given capacity. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Add appends one line of output, evicting the oldest resident line if the
// buffer is at capacity, and wakes any waiters whose condition is now met.
func (b *Buffer) Add(stream shellmodel.OutputStream, content string) shellmodel.OutputLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	line := shellmodel.OutputLine{
		Timestamp:  time.Now(),
		Stream:     stream,
		Content:    content,
		LineNumber: b.total,
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.capacity {
		b.lines = b.lines[len(b.lines)-b.capacity:]
	}

	b.wakeLocked()
	return line
}

// wakeLocked delivers resident lines to any satisfied waiters, in the
// order they registered, removing them from the waiter list. Callers must
// hold b.mu.
func (b *Buffer) wakeLocked() {
	remaining := b.waiters[:0]
	for _, w := range b.waiters {
		if b.total > w.afterLine {
			w.ch <- b.linesAfterLocked(w.afterLine)
		} else {
			remaining = append(remaining, w)
		}
	}
	b.waiters = remaining
}

// linesAfterLocked returns resident lines with LineNumber > afterLine.
// Callers must hold b.mu.
func (b *Buffer) linesAfterLocked(afterLine int64) []shellmodel.OutputLine {
	if len(b.lines) == 0 {
		return nil
	}
	// Lines are contiguous and sorted by LineNumber; find the first index
	// whose LineNumber exceeds afterLine.
	for i, l := range b.lines {
		if l.LineNumber > afterLine {
			out := make([]shellmodel.OutputLine, len(b.lines)-i)
			copy(out, b.lines[i:])
			return out
		}
	}
	return nil
}

// GetLines returns resident lines. If fromLine is non-nil, only lines with
// LineNumber > *fromLine are returned (empty if those lines were
// overwritten). Otherwise, the last count lines are returned (all resident
// lines if count <= 0).
func (b *Buffer) GetLines(count int, fromLine *int64) []shellmodel.OutputLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	if fromLine != nil {
		return b.linesAfterLocked(*fromLine)
	}
	if count <= 0 || count >= len(b.lines) {
		out := make([]shellmodel.OutputLine, len(b.lines))
		copy(out, b.lines)
		return out
	}
	out := make([]shellmodel.OutputLine, count)
	copy(out, b.lines[len(b.lines)-count:])
	return out
}

// WaitForLines blocks until total lines exceed afterLine or timeout
// elapses. On timeout it returns a nil slice, never an error.
func (b *Buffer) WaitForLines(afterLine int64, timeout time.Duration) []shellmodel.OutputLine {
	b.mu.Lock()
	if b.total > afterLine {
		lines := b.linesAfterLocked(afterLine)
		b.mu.Unlock()
		return lines
	}
	w := &waiter{afterLine: afterLine, ch: make(chan []shellmodel.OutputLine, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lines := <-w.ch:
		return lines
	case <-timer.C:
		b.mu.Lock()
		for i, ww := range b.waiters {
			if ww == w {
				b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		// w may have been delivered to in the narrow race between the timer
		// firing and us acquiring the lock above; prefer that result.
		select {
		case lines := <-w.ch:
			return lines
		default:
			return nil
		}
	}
}

// TotalLines returns the highest line number ever assigned.
func (b *Buffer) TotalLines() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// BufferSize returns the configured capacity.
func (b *Buffer) BufferSize() int {
	return b.capacity
}

// Clear resets the buffer to empty, including the line-number counter, and
// releases any pending waiters with an empty result.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
	b.total = 0
	for _, w := range b.waiters {
		w.ch <- nil
	}
	b.waiters = nil
}
