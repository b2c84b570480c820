// Package debounce provides utilities for batching and debouncing messages.
package debounce

import (
	"sync"
	"time"
)

// DebounceBuffer holds pending items and their flush timer.
type DebounceBuffer[T any] struct {
	Items []*T
	Timer *time.Timer
}

// Debouncer batches items by key and flushes them after a debounce delay.
type Debouncer[T any] struct {
	mu      sync.Mutex
	buffers map[string]*DebounceBuffer[T]
	stopped bool

	debounceMs time.Duration
	buildKey   func(item *T) string
	onFlush    func(items []*T) error
}

// DebouncerOption configures a Debouncer.
type DebouncerOption[T any] func(*Debouncer[T])

// WithDebounceDuration sets the debounce delay as a duration.
func WithDebounceDuration[T any](dur time.Duration) DebouncerOption[T] {
	return func(d *Debouncer[T]) {
		if dur < 0 {
			dur = 0
		}
		d.debounceMs = dur
	}
}

// WithBuildKey sets the function to generate grouping keys for items.
func WithBuildKey[T any](fn func(item *T) string) DebouncerOption[T] {
	return func(d *Debouncer[T]) {
		d.buildKey = fn
	}
}

// WithOnFlush sets the callback invoked when items are flushed.
func WithOnFlush[T any](fn func(items []*T) error) DebouncerOption[T] {
	return func(d *Debouncer[T]) {
		d.onFlush = fn
	}
}

// NewDebouncer creates a new Debouncer with the given options.
func NewDebouncer[T any](opts ...DebouncerOption[T]) *Debouncer[T] {
	d := &Debouncer[T]{
		buffers: make(map[string]*DebounceBuffer[T]),
	}

	for _, opt := range opts {
		opt(d)
	}

	// Provide default buildKey if not set
	if d.buildKey == nil {
		d.buildKey = func(item *T) string {
			return "default"
		}
	}

	// Provide default onFlush if not set
	if d.onFlush == nil {
		d.onFlush = func(items []*T) error {
			return nil
		}
	}

	return d
}

// Enqueue adds an item to the debouncer. If debouncing is disabled, the
// item is flushed immediately.
func (d *Debouncer[T]) Enqueue(item *T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	key := d.buildKey(item)
	canDebounce := d.debounceMs > 0

	if !canDebounce || key == "" {
		// Flush any existing buffer for this key first
		if key != "" {
			if buf, exists := d.buffers[key]; exists {
				d.flushBufferLocked(key, buf)
			}
		}
		d.mu.Unlock()

		// Flush the single item immediately
		d.flushItems([]*T{item})
		return
	}

	existing, exists := d.buffers[key]
	if exists {
		existing.Items = append(existing.Items, item)
		// Reset the timer
		if existing.Timer != nil {
			existing.Timer.Stop()
		}
		existing.Timer = time.AfterFunc(d.debounceMs, func() {
			d.flushKeyInternal(key)
		})
		d.mu.Unlock()
		return
	}

	// Create new buffer
	buf := &DebounceBuffer[T]{
		Items: []*T{item},
	}
	buf.Timer = time.AfterFunc(d.debounceMs, func() {
		d.flushKeyInternal(key)
	})
	d.buffers[key] = buf
	d.mu.Unlock()
}

// flushKeyInternal handles the actual flushing logic.
func (d *Debouncer[T]) flushKeyInternal(key string) {
	d.mu.Lock()
	buf, exists := d.buffers[key]
	if !exists || d.stopped {
		d.mu.Unlock()
		return
	}

	d.flushBufferLocked(key, buf)
	d.mu.Unlock()
}

// flushBufferLocked removes the buffer and calls flushItems.
// Must be called with d.mu held.
func (d *Debouncer[T]) flushBufferLocked(key string, buf *DebounceBuffer[T]) {
	delete(d.buffers, key)
	if buf.Timer != nil {
		buf.Timer.Stop()
		buf.Timer = nil
	}

	if len(buf.Items) == 0 {
		return
	}

	items := buf.Items
	buf.Items = nil

	// Release lock before calling flush
	d.mu.Unlock()
	d.flushItems(items)
	d.mu.Lock()
}

// flushItems invokes onFlush.
func (d *Debouncer[T]) flushItems(items []*T) {
	if len(items) == 0 {
		return
	}
	_ = d.onFlush(items)
}

// Stop stops all pending timers and prevents further processing.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true

	for key, buf := range d.buffers {
		if buf.Timer != nil {
			buf.Timer.Stop()
			buf.Timer = nil
		}
		delete(d.buffers, key)
	}
}
