package xpub

import (
	"context"
	"errors"
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusConfig describes one transport endpoint: which registered transport to
// use and the options handed to its factory (addresses, credentials, limits).
type BusConfig struct {
	Name      string
	Transport string
	Options   map[string]any
}

// CloseFunc releases everything a Build call opened.
type CloseFunc func(ctx context.Context) error

type registration struct {
	messageType string
	cfg         PublisherConfig
	build       func(sender Sender, cfg PublisherConfig, deps publisherDeps) (PublisherHandle, error)
}

// RegistryBuilder constructs a Registry and the publishers in it (Builder pattern).
type RegistryBuilder struct {
	buses         []BusConfig
	transportInst map[string]Transport
	registrations []registration
	observers     []Observer
	senderMW      []SenderMiddleware
	logger        *xlog.Logger
	clock         xclock.Clock
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{transportInst: make(map[string]Transport)}
}

// WithLogger sets the logger handed to every publisher the builder creates.
func (rb *RegistryBuilder) WithLogger(l *xlog.Logger) *RegistryBuilder {
	rb.logger = l
	return rb
}

// WithClock sets the clock publishers use for timestamps and send timings.
func (rb *RegistryBuilder) WithClock(c xclock.Clock) *RegistryBuilder {
	rb.clock = c
	return rb
}

// WithObserver adds observers to every publisher; nil entries are skipped.
func (rb *RegistryBuilder) WithObserver(obs ...Observer) *RegistryBuilder {
	for _, o := range obs {
		if o != nil {
			rb.observers = append(rb.observers, o)
		}
	}
	return rb
}

// WithSenderMiddleware decorates every sender the builder opens.
func (rb *RegistryBuilder) WithSenderMiddleware(mws ...SenderMiddleware) *RegistryBuilder {
	rb.senderMW = append(rb.senderMW, mws...)
	return rb
}

// WithBus adds a bus opened through the transport factory registry.
func (rb *RegistryBuilder) WithBus(cfg BusConfig) *RegistryBuilder {
	rb.buses = append(rb.buses, cfg)
	return rb
}

// WithTransportInstance adds a bus backed by a ready Transport. The registry
// close func closes it like any factory-built transport.
func (rb *RegistryBuilder) WithTransportInstance(bus string, t Transport) *RegistryBuilder {
	if bus == "" {
		bus = DefaultBus
	}
	rb.transportInst[bus] = t
	return rb
}

// AddPublisher registers a publisher for message type T.
func AddPublisher[T Message](rb *RegistryBuilder, cfg PublisherConfig) *RegistryBuilder {
	rb.registrations = append(rb.registrations, registration{
		messageType: MessageTypeOf[T](),
		cfg:         cfg,
		build: func(sender Sender, cfg PublisherConfig, deps publisherDeps) (PublisherHandle, error) {
			return newPublisher[T](sender, cfg, deps)
		},
	})
	return rb
}

// Build validates the configuration, opens one transport per bus and one
// sender per publisher, and groups the publishers into a Registry. On error
// everything opened so far is closed again.
func (rb *RegistryBuilder) Build(ctx context.Context) (reg *Registry, closeFn CloseFunc, err error) {
	logger := rb.logger
	if logger == nil {
		logger = xlog.Default()
	}
	clk := rb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	observers := &observerSet{}
	for _, o := range rb.observers {
		observers.add(o)
	}

	busCfgs := make(map[string]BusConfig, len(rb.buses))
	for _, bc := range rb.buses {
		if bc.Name == "" {
			bc.Name = DefaultBus
		}
		if _, dup := busCfgs[bc.Name]; dup {
			return nil, nil, invalidConfig("bus %q configured twice", bc.Name)
		}
		if _, dup := rb.transportInst[bc.Name]; dup {
			return nil, nil, invalidConfig("bus %q configured twice", bc.Name)
		}
		if bc.Transport == "" {
			return nil, nil, invalidConfig("bus %q: transport must not be empty", bc.Name)
		}
		busCfgs[bc.Name] = bc
	}
	if len(busCfgs) == 0 && len(rb.transportInst) == 0 {
		return nil, nil, ErrNoBusConfigured
	}

	// Resolve and validate every publisher before any connection is made.
	cfgs := make([]PublisherConfig, len(rb.registrations))
	for i, r := range rb.registrations {
		cfg := r.cfg.withDefaults(r.messageType)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		_, known := busCfgs[cfg.Bus]
		if _, inst := rb.transportInst[cfg.Bus]; !known && !inst {
			return nil, nil, invalidConfig("publisher %q: bus %q is not configured", cfg.Name, cfg.Bus)
		}
		cfgs[i] = cfg
	}

	transports := make(map[string]Transport, len(busCfgs)+len(rb.transportInst))
	var handles []PublisherHandle
	cleanup := func(ctx context.Context, keep map[PublisherHandle]bool) error {
		var errs []error
		for _, h := range handles {
			if keep[h] {
				continue
			}
			if err := h.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if keep == nil {
			for name, t := range transports {
				if err := t.Close(ctx); err != nil {
					errs = append(errs, fmt.Errorf("close bus %q: %w", name, err))
				}
			}
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = cleanup(context.WithoutCancel(ctx), nil)
		}
	}()

	for name, t := range rb.transportInst {
		transports[name] = t
	}
	for _, bc := range rb.buses {
		name := bc.Name
		if name == "" {
			name = DefaultBus
		}
		t, err := NewTransport(ctx, bc.Transport, bc.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("open bus %q: %w", name, err)
		}
		transports[name] = t
	}

	deps := publisherDeps{logger: logger, clock: clk, observers: observers}
	for i, r := range rb.registrations {
		cfg := cfgs[i]
		sender, err := transports[cfg.Bus].NewSender(ctx, cfg.PublishTo)
		if err != nil {
			return nil, nil, fmt.Errorf("open sender %q on bus %q: %w", cfg.PublishTo, cfg.Bus, err)
		}
		sender = ChainSenders(sender, rb.senderMW...)
		h, err := r.build(sender, cfg, deps)
		if err != nil {
			_ = sender.Close(ctx)
			return nil, nil, err
		}
		handles = append(handles, h)
	}

	reg = NewRegistry(logger, handles...)

	// Senders of ignored duplicates are released right away.
	kept := make(map[PublisherHandle]bool, len(handles))
	for _, h := range reg.Handles() {
		kept[h] = true
	}
	if err := cleanup(ctx, kept); err != nil {
		logger.Warn().Err(err).Msg("xpub: closing duplicate publisher failed")
	}
	for _, d := range reg.Duplicates() {
		observers.notify(Event{Type: DuplicateIgnore, Bus: d.Bus, Publisher: d.Name, MessageType: d.MessageType})
	}
	observers.notify(Event{Type: RegistryBuilt, Count: len(reg.Handles())})

	closeFn = func(ctx context.Context) error {
		return cleanup(ctx, nil)
	}
	return reg, closeFn, nil
}

// New constructs a Registry via the builder and returns its close func.
func New(ctx context.Context, init func(rb *RegistryBuilder)) (*Registry, CloseFunc, error) {
	rb := NewRegistryBuilder()
	if init != nil {
		init(rb)
	}
	return rb.Build(ctx)
}
