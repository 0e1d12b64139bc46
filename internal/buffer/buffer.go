// Package buffer provides the bounded ingestion buffer for log events.
// The buffer is the single owner of its ring storage and counters; all
// mutation goes through its methods.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"agent-sentinel/internal/schema"
)

// DefaultCapacity is used when no capacity is configured.
const DefaultCapacity = 1000

// Buffer is a capacity-bounded, oldest-evicted ring buffer of log
// events. Submission assigns strictly increasing event IDs and stamps
// ingestion time. When the buffer is full the oldest event is evicted
// synchronously before insertion; submission never blocks.
type Buffer struct {
	validator *schema.Validator

	mu     sync.Mutex
	ring   []*schema.LogEvent
	size   int
	head   int // index of oldest entry
	count  int
	nextID int64
	levels map[schema.Level]uint64

	// Metrics (accessed atomically)
	totalSubmitted uint64
	totalEvicted   uint64
	totalRejected  uint64
}

// New creates a Buffer with the specified capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		validator: schema.NewValidator(),
		ring:      make([]*schema.LogEvent, capacity),
		size:      capacity,
		nextID:    1,
		levels:    make(map[schema.Level]uint64, len(schema.Levels)),
	}
}

// Submit validates the input and appends a new event to the buffer.
// Returns a *schema.ValidationError if the input is malformed; nothing
// enters the buffer in that case.
func (b *Buffer) Submit(input *schema.SubmitInput) (*schema.LogEvent, error) {
	level, err := b.validator.Validate(input)
	if err != nil {
		atomic.AddUint64(&b.totalRejected, 1)
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	event := &schema.LogEvent{
		ID:         b.nextID,
		Message:    input.Message,
		Level:      level,
		Source:     input.Source,
		Metadata:   input.Metadata,
		IngestedAt: time.Now().UTC(),
	}
	b.nextID++

	if b.count == b.size {
		// Evict the oldest entry before insertion.
		b.ring[b.head] = nil
		b.head = (b.head + 1) % b.size
		b.count--
		atomic.AddUint64(&b.totalEvicted, 1)
	}

	tail := (b.head + b.count) % b.size
	b.ring[tail] = event
	b.count++

	b.levels[level]++
	atomic.AddUint64(&b.totalSubmitted, 1)

	return event, nil
}

// Recent returns up to limit events, most recent first, optionally
// filtered by level. The returned slice is a snapshot; callers may
// iterate it freely while new events are submitted.
func (b *Buffer) Recent(limit int, levelFilter schema.Level) []*schema.LogEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	out := make([]*schema.LogEvent, 0, limit)
	for i := b.count - 1; i >= 0 && len(out) < limit; i-- {
		event := b.ring[(b.head+i)%b.size]
		if levelFilter != "" && event.Level != levelFilter {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Len returns the current number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.size }

// Stats holds ingestion statistics.
type Stats struct {
	Submitted uint64                  `json:"submitted"`
	Evicted   uint64                  `json:"evicted"`
	Rejected  uint64                  `json:"rejected"`
	Depth     int                     `json:"depth"`
	Capacity  int                     `json:"capacity"`
	ByLevel   map[schema.Level]uint64 `json:"by_level"`
}

// Stats returns ingestion statistics, including per-level counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	byLevel := make(map[schema.Level]uint64, len(b.levels))
	for level, n := range b.levels {
		byLevel[level] = n
	}
	depth := b.count
	b.mu.Unlock()

	return Stats{
		Submitted: atomic.LoadUint64(&b.totalSubmitted),
		Evicted:   atomic.LoadUint64(&b.totalEvicted),
		Rejected:  atomic.LoadUint64(&b.totalRejected),
		Depth:     depth,
		Capacity:  b.size,
		ByLevel:   byLevel,
	}
}
