// Package config loads bus and publisher registrations from YAML.
//
// Example file:
//
//	buses:
//	  - name: orders-bus
//	    transport: redis-streams
//	    options:
//	      addr: ${REDIS_ADDR}
//	      max_batch_bytes: 524288
//	publishers:
//	  - messageType: OrderPlaced
//	    name: orders
//	    bus: orders-bus
//	    publishTo: orders
//	    serializer:
//	      propertyNamingPolicy: camelCase
//	      omitNullFields: true
//
// String option values are expanded with os.ExpandEnv so secrets and
// connection strings stay out of the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trickstertwo/xpub"
)

// File is the root of a registration file.
type File struct {
	Buses      []Bus       `yaml:"buses"`
	Publishers []Publisher `yaml:"publishers"`
}

// Bus describes one transport endpoint.
type Bus struct {
	Name      string         `yaml:"name"`
	Transport string         `yaml:"transport"`
	Options   map[string]any `yaml:"options"`
}

// Publisher describes one publisher of a message type.
type Publisher struct {
	// MessageType is the type tag the registration belongs to.
	MessageType string                  `yaml:"messageType"`
	Name        string                  `yaml:"name"`
	Bus         string                  `yaml:"bus"`
	PublishTo   string                  `yaml:"publishTo"`
	Codec       string                  `yaml:"codec"`
	Serializer  *xpub.SerializerOptions `yaml:"serializer"`
	Headers     map[string]string       `yaml:"headers"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes data, expands environment references and validates the result.
// Unknown keys are rejected so typos surface at startup.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	for i := range f.Buses {
		f.Buses[i].Options = expandMap(f.Buses[i].Options)
	}
	for i := range f.Publishers {
		f.Publishers[i].PublishTo = os.ExpandEnv(f.Publishers[i].PublishTo)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks bus references and required fields. Duplicate
// (bus, name) publishers are allowed; the registry keeps the first.
func (f *File) Validate() error {
	var errs []error
	buses := make(map[string]bool, len(f.Buses))
	for i, b := range f.Buses {
		name := busName(b.Name)
		if buses[name] {
			errs = append(errs, fmt.Errorf("buses[%d]: bus %q defined twice", i, name))
		}
		buses[name] = true
		if b.Transport == "" {
			errs = append(errs, fmt.Errorf("buses[%d]: transport required", i))
		}
	}
	for i, p := range f.Publishers {
		if p.MessageType == "" {
			errs = append(errs, fmt.Errorf("publishers[%d]: messageType required", i))
		}
		if p.PublishTo == "" {
			errs = append(errs, fmt.Errorf("publishers[%d]: publishTo required", i))
		}
		if !buses[busName(p.Bus)] {
			errs = append(errs, fmt.Errorf("publishers[%d]: bus %q is not defined", i, busName(p.Bus)))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", xpub.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// BusConfigs converts the bus section for RegistryBuilder.WithBus.
func (f *File) BusConfigs() []xpub.BusConfig {
	out := make([]xpub.BusConfig, 0, len(f.Buses))
	for _, b := range f.Buses {
		out = append(out, xpub.BusConfig{Name: busName(b.Name), Transport: b.Transport, Options: b.Options})
	}
	return out
}

// PublishersFor returns the publisher configs registered for messageType,
// in file order.
func (f *File) PublishersFor(messageType string) []xpub.PublisherConfig {
	var out []xpub.PublisherConfig
	for _, p := range f.Publishers {
		if p.MessageType != messageType {
			continue
		}
		cfg := xpub.PublisherConfig{
			Name:       p.Name,
			Bus:        p.Bus,
			PublishTo:  p.PublishTo,
			Codec:      p.Codec,
			Serializer: p.Serializer,
		}
		if len(p.Headers) > 0 {
			cfg.Mutate = xpub.ChainMutators(xpub.StampSessionKey, xpub.WithHeaders(p.Headers))
		}
		out = append(out, cfg)
	}
	return out
}

// MessageTypes lists the distinct type tags in the file.
func (f *File) MessageTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range f.Publishers {
		if !seen[p.MessageType] {
			seen[p.MessageType] = true
			out = append(out, p.MessageType)
		}
	}
	return out
}

// Builder returns a RegistryBuilder with every bus of the file added.
// Publishers are added per message type with AddPublishers.
func (f *File) Builder() *xpub.RegistryBuilder {
	rb := xpub.NewRegistryBuilder()
	for _, bc := range f.BusConfigs() {
		rb.WithBus(bc)
	}
	return rb
}

// AddPublishers registers every publisher of the file whose message type is
// T's type tag. It reports how many were added.
func AddPublishers[T xpub.Message](rb *xpub.RegistryBuilder, f *File) int {
	cfgs := f.PublishersFor(xpub.MessageTypeOf[T]())
	for _, cfg := range cfgs {
		xpub.AddPublisher[T](rb, cfg)
	}
	return len(cfgs)
}

func busName(n string) string {
	if n == "" {
		return xpub.DefaultBus
	}
	return n
}

func expandMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = expand(v)
	}
	return m
}

func expand(v any) any {
	switch x := v.(type) {
	case string:
		if strings.Contains(x, "$") {
			return os.ExpandEnv(x)
		}
		return x
	case map[string]any:
		return expandMap(x)
	case []any:
		for i := range x {
			x[i] = expand(x[i])
		}
		return x
	default:
		return v
	}
}
