package metric

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trickstertwo/xpub"
)

// DefaultNamespace prefixes every metric when none is given.
const DefaultNamespace = "xpub"

// Observer implements xpub.Observer on top of Prometheus collectors.
type Observer struct {
	messagesPublished *prometheus.CounterVec   // bus, publisher
	batchesPublished  *prometheus.CounterVec   // bus, publisher
	publishFailures   *prometheus.CounterVec   // bus, publisher, code
	sendDuration      *prometheus.HistogramVec // bus, publisher
	batchBytes        *prometheus.HistogramVec // bus, publisher
	messagesRead      *prometheus.CounterVec   // message_type
	readFailures      *prometheus.CounterVec   // message_type
	duplicates        prometheus.Counter
}

var _ xpub.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
// A collector that is already registered is reused, so two observers on the
// same registry share counts.
func NewObserver(reg prometheus.Registerer, namespace string) (*Observer, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	pub := []string{"bus", "publisher"}

	o := &Observer{
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "messages_total",
			Help:      "Messages accepted by the transport",
		}, pub),
		batchesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "batches_total",
			Help:      "Batches accepted by the transport",
		}, pub),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "failures_total",
			Help:      "Failed publish calls by failure code",
		}, []string{"bus", "publisher", "code"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "send_duration_seconds",
			Help:      "Duration of the transport batch send in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, pub),
		batchBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "batch_bytes",
			Help:      "Estimated size of sent batches in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, pub),
		messagesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "messages_total",
			Help:      "Envelopes decoded successfully",
		}, []string{"message_type"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "failures_total",
			Help:      "Envelopes rejected as invalid",
		}, []string{"message_type"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "duplicates_ignored_total",
			Help:      "Publisher registrations ignored because (bus, name) was taken",
		}),
	}

	if reg == nil {
		return o, nil
	}
	var err error
	o.messagesPublished = register(reg, o.messagesPublished, &err)
	o.batchesPublished = register(reg, o.batchesPublished, &err)
	o.publishFailures = register(reg, o.publishFailures, &err)
	o.sendDuration = register(reg, o.sendDuration, &err)
	o.batchBytes = register(reg, o.batchBytes, &err)
	o.messagesRead = register(reg, o.messagesRead, &err)
	o.readFailures = register(reg, o.readFailures, &err)
	o.duplicates = register(reg, o.duplicates, &err)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// register registers c, returning the existing collector when an identical
// one is already registered. The first hard error is kept in errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

// OnEvent updates the collectors for e.
func (o *Observer) OnEvent(e xpub.Event) {
	switch e.Type {
	case xpub.PublishDone:
		if e.Code == "" {
			o.messagesPublished.WithLabelValues(e.Bus, e.Publisher).Add(float64(e.Count))
			o.batchesPublished.WithLabelValues(e.Bus, e.Publisher).Inc()
			o.batchBytes.WithLabelValues(e.Bus, e.Publisher).Observe(float64(e.Bytes))
			o.sendDuration.WithLabelValues(e.Bus, e.Publisher).Observe(e.Duration.Seconds())
			return
		}
		o.publishFailures.WithLabelValues(e.Bus, e.Publisher, string(e.Code)).Inc()
		if e.Code == xpub.CodeMessagePublishError && e.Duration > 0 {
			o.sendDuration.WithLabelValues(e.Bus, e.Publisher).Observe(e.Duration.Seconds())
		}
	case xpub.BatchRejected:
		o.publishFailures.WithLabelValues(e.Bus, e.Publisher, string(e.Code)).Inc()
	case xpub.ReadDone:
		o.messagesRead.WithLabelValues(e.MessageType).Inc()
	case xpub.ReadFailed:
		o.readFailures.WithLabelValues(e.MessageType).Inc()
	case xpub.DuplicateIgnore:
		o.duplicates.Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
