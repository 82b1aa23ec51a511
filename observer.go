package xpub

import (
	"strconv"
	"sync"

	"github.com/trickstertwo/xlog"
)

// Observer receives publisher lifecycle events. Implementations run on the
// caller's goroutine and should be cheap and non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	l := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("bus", e.Bus),
		xlog.Str("publisher", e.Publisher),
		xlog.Str("destination", e.Destination),
		xlog.Str("message_type", e.MessageType),
		xlog.Str("correlation_id", e.CorrelationID),
		xlog.Str("count", strconv.Itoa(e.Count)),
	)
	switch {
	case e.Err != nil || e.Code != "":
		l.Warn().Err(e.Err).Str("code", string(e.Code)).Msg("xpub event")
	default:
		if e.Duration > 0 {
			l = l.With(xlog.Dur("duration", e.Duration))
		}
		l.Debug().Msg("xpub event")
	}
}

// observerSet is a copy-on-read list shared by a registry and its publishers.
type observerSet struct {
	mu        sync.RWMutex
	observers []Observer
}

func (s *observerSet) add(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()
}

func (s *observerSet) notify(e Event) {
	if s == nil {
		return
	}
	s.mu.RLock()
	if len(s.observers) == 0 {
		s.mu.RUnlock()
		return
	}
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	s.mu.RUnlock()
	for _, o := range obs {
		o.OnEvent(e)
	}
}
