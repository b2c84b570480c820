// Package channels implements the Channel Adapter contract (spec.md §4.6):
// ingest incoming messages, ship outgoing replies, report health. Grounded
// verbatim in shape on the teacher's internal/channels/channel.go.
package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// Status reports a running adapter's connection state.
type Status struct {
	Connected bool
	Error     string
	LastPing  time.Time
}

// HealthStatus is a deeper diagnostic snapshot, polled on demand.
type HealthStatus struct {
	Healthy   bool
	Degraded  bool
	Latency   time.Duration
	Message   string
	LastCheck time.Time
}

// OutgoingMessage is what the Gateway hands to an Adapter for delivery.
type OutgoingMessage struct {
	To      string
	Content string
}

// Adapter is the contract every concrete channel implementation satisfies.
type Adapter interface {
	Type() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutgoingMessage) error
	// Messages returns the channel of inbound messages this adapter
	// produces once started.
	Messages() <-chan switchmodels.IncomingMessage
	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
}

// Registry wires adapters to the Gateway's ingress/egress.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, keyed by its Type().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get looks up an adapter by channel type.
func (r *Registry) Get(channelType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channelType]
	return a, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every adapter concurrently and waits for all of them,
// failing fast on the first error. Grounded on golang.org/x/sync/errgroup
// usage in the corpus for fanning out independent startup work.
func (r *Registry) StartAll(ctx context.Context) error {
	adapters := r.All()
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			if err := a.Start(gctx); err != nil {
				return fmt.Errorf("channels: start %q: %w", a.Type(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every adapter, collecting (not short-circuiting on) errors.
func (r *Registry) StopAll(ctx context.Context) error {
	adapters := r.All()
	var firstErr error
	for _, a := range adapters {
		if err := a.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channels: stop %q: %w", a.Type(), err)
		}
	}
	return firstErr
}

// AggregateMessages fans in every registered adapter's Messages() channel
// into one, closing when ctx is done.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan switchmodels.IncomingMessage {
	adapters := r.All()
	out := make(chan switchmodels.IncomingMessage)
	var wg sync.WaitGroup
	for _, a := range adapters {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
