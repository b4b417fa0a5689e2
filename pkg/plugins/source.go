package plugins

import (
	"context"
	"errors"
	"sync"
)

// Source delivers plugin notifications from one channel.
//
// Open returns the plugins the source already has loaded together with a
// stream of later changes. Descriptors in the snapshot are replayed state, not
// news: the registry absorbs them without migrating anything. Sources may be
// opened once.
type Source interface {
	Name() string
	Open(ctx context.Context) ([]*Descriptor, <-chan Event, error)
}

var errSourceOpened = errors.New("plugin source already opened")

// ChannelSource is an in-process Source driven by Add and Remove calls.
// Plugins added before Open form the snapshot; later calls become events.
type ChannelSource struct {
	name string

	mu      sync.Mutex
	loaded  []*Descriptor
	events  chan Event
	done    chan struct{}
	sending sync.WaitGroup
	opened  bool
	closed  bool
}

// NewChannelSource creates a source whose event channel holds buffer events
func NewChannelSource(name string, buffer int) *ChannelSource {
	return &ChannelSource{
		name:   name,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *ChannelSource) Name() string {
	return s.name
}

func (s *ChannelSource) Open(ctx context.Context) ([]*Descriptor, <-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return nil, nil, errSourceOpened
	}
	s.opened = true

	return append([]*Descriptor(nil), s.loaded...), s.events, nil
}

// Add reports d as loaded. Once the source is open it blocks while the event
// buffer is full, until the event is consumed or the source is closed.
func (s *ChannelSource) Add(d *Descriptor) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.opened {
		s.loaded = append(s.loaded, d)
		s.mu.Unlock()
		return
	}
	s.sending.Add(1)
	s.mu.Unlock()

	s.send(Event{Kind: EventAdded, Descriptor: d})
}

// Remove reports d as unloaded
func (s *ChannelSource) Remove(d *Descriptor) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.opened {
		if i := indexOf(s.loaded, d.ID()); i >= 0 {
			s.loaded = append(s.loaded[:i], s.loaded[i+1:]...)
		}
		s.mu.Unlock()
		return
	}
	s.sending.Add(1)
	s.mu.Unlock()

	s.send(Event{Kind: EventRemoved, Descriptor: d})
}

func (s *ChannelSource) send(ev Event) {
	defer s.sending.Done()

	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Close ends the event stream. Blocked Add and Remove calls return without
// delivering their event.
func (s *ChannelSource) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.sending.Wait()
	close(s.events)
}
