package xpub

import (
	"sort"

	"github.com/trickstertwo/xlog"
)

// DefaultBus is the bus used when a publisher or lookup names none.
const DefaultBus = "default"

// PublisherKey identifies one registration.
type PublisherKey struct {
	Bus         string
	Name        string
	MessageType string
}

// Registry resolves publishers by (bus, name) and message type. It is built
// once and is read-only afterwards, so lookups need no locking.
type Registry struct {
	buses      map[string]map[string]PublisherHandle
	ordered    []PublisherHandle
	duplicates []PublisherKey
}

// NewRegistry groups publishers by bus, then by name. When two publishers
// share a (bus, name) pair the first one wins; the later ones are logged,
// reported by Duplicates, and never returned by a lookup.
func NewRegistry(logger *xlog.Logger, publishers ...PublisherHandle) *Registry {
	if logger == nil {
		logger = xlog.Default()
	}
	r := &Registry{buses: make(map[string]map[string]PublisherHandle)}
	for _, p := range publishers {
		if p == nil {
			continue
		}
		names, ok := r.buses[p.BusName()]
		if !ok {
			names = make(map[string]PublisherHandle)
			r.buses[p.BusName()] = names
		}
		if first, exists := names[p.Name()]; exists {
			key := PublisherKey{Bus: p.BusName(), Name: p.Name(), MessageType: p.MessageType()}
			r.duplicates = append(r.duplicates, key)
			logger.Warn().
				Str("bus", key.Bus).
				Str("publisher", key.Name).
				Str("message_type", key.MessageType).
				Str("kept_message_type", first.MessageType()).
				Msg("xpub: duplicate publisher registration ignored")
			continue
		}
		names[p.Name()] = p
		r.ordered = append(r.ordered, p)
	}
	return r
}

// Keys lists the registered publishers sorted by bus then name.
func (r *Registry) Keys() []PublisherKey {
	keys := make([]PublisherKey, 0, len(r.ordered))
	for _, p := range r.ordered {
		keys = append(keys, PublisherKey{Bus: p.BusName(), Name: p.Name(), MessageType: p.MessageType()})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Bus != keys[j].Bus {
			return keys[i].Bus < keys[j].Bus
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// Duplicates lists registrations dropped because their (bus, name) was taken.
func (r *Registry) Duplicates() []PublisherKey {
	out := make([]PublisherKey, len(r.duplicates))
	copy(out, r.duplicates)
	return out
}

// Handles returns the kept publishers in registration order.
func (r *Registry) Handles() []PublisherHandle {
	out := make([]PublisherHandle, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) lookup(bus, name string) (PublisherHandle, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.buses[bus][name]
	return h, ok
}

// GetPublisher resolves the publisher named after T's type tag on DefaultBus.
func GetPublisher[T Message](r *Registry) (*Publisher[T], error) {
	return GetBusPublisher[T](r, DefaultBus, MessageTypeOf[T]())
}

// GetNamedPublisher resolves a publisher by name on DefaultBus.
func GetNamedPublisher[T Message](r *Registry, name string) (*Publisher[T], error) {
	return GetBusPublisher[T](r, DefaultBus, name)
}

// GetBusPublisher resolves a publisher by bus and name. A miss, or a
// registration for another message type, returns *PublisherNotFoundError.
func GetBusPublisher[T Message](r *Registry, bus, name string) (*Publisher[T], error) {
	notFound := &PublisherNotFoundError{Bus: bus, Name: name, MessageType: MessageTypeOf[T]()}
	h, ok := r.lookup(bus, name)
	if !ok {
		return nil, notFound
	}
	p, ok := h.(*Publisher[T])
	if !ok {
		return nil, notFound
	}
	return p, nil
}

// MustGetPublisher is GetPublisher that panics on a miss. Use it at startup
// where a missing publisher is a deployment bug.
func MustGetPublisher[T Message](r *Registry) *Publisher[T] {
	return must(GetPublisher[T](r))
}

// MustGetNamedPublisher is GetNamedPublisher that panics on a miss.
func MustGetNamedPublisher[T Message](r *Registry, name string) *Publisher[T] {
	return must(GetNamedPublisher[T](r, name))
}

// MustGetBusPublisher is GetBusPublisher that panics on a miss.
func MustGetBusPublisher[T Message](r *Registry, bus, name string) *Publisher[T] {
	return must(GetBusPublisher[T](r, bus, name))
}

func must[T Message](p *Publisher[T], err error) *Publisher[T] {
	if err != nil {
		panic(err)
	}
	return p
}
