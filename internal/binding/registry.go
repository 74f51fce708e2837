// Package binding records which document regions are bound to which
// logical template names.
package binding

import (
	"sync"
	"time"

	"github.com/conneroisu/tmplbind/internal/document"
)

// Registry maps logical template names to the regions bound to them, in
// scan discovery order. It is safe for concurrent use.
type Registry struct {
	entries  map[string][]document.Region
	order    []string
	mutex    sync.RWMutex
	watchers []chan Event
}

// Event represents a change in the binding registry
type Event struct {
	Type      EventType
	Name      string
	Region    document.Region
	Timestamp time.Time
}

// EventType represents the type of binding event
type EventType int

const (
	EventTypeBound EventType = iota
	EventTypeCleared
)

// String returns the string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventTypeBound:
		return "bound"
	case EventTypeCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string][]document.Region),
		watchers: make([]chan Event, 0),
	}
}

// Record appends region to the sequence for name, creating the sequence on
// first sighting. A region recorded twice appears twice.
func (r *Registry) Record(name string, region document.Region) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = append(r.entries[name], region)

	r.notify(Event{Type: EventTypeBound, Name: name, Region: region, Timestamp: time.Now()})
}

// RegionsFor returns a copy of the regions bound to name. Unknown names
// yield an empty slice.
func (r *Registry) RegionsFor(name string) []document.Region {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	regions := r.entries[name]
	out := make([]document.Region, len(regions))
	copy(out, regions)
	return out
}

// Len returns the number of regions bound to name.
func (r *Registry) Len(name string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.entries[name])
}

// Reset drops the sequence for name. The name keeps its position in Names
// so a re-scan does not reorder listings.
func (r *Registry) Reset(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.entries[name]) == 0 {
		return
	}
	r.entries[name] = r.entries[name][:0:0]

	r.notify(Event{Type: EventTypeCleared, Name: name, Timestamp: time.Now()})
}

// Clear drops every binding.
func (r *Registry) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	names := r.order
	r.entries = make(map[string][]document.Region)
	r.order = nil

	now := time.Now()
	for _, name := range names {
		r.notify(Event{Type: EventTypeCleared, Name: name, Timestamp: now})
	}
}

// Names returns every name that has been recorded, in first-sighting order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of known names.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.order)
}

// Watch returns a channel that receives binding events
func (r *Registry) Watch() <-chan Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *Registry) UnWatch(ch <-chan Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// notify must be called with the mutex held.
func (r *Registry) notify(event Event) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
