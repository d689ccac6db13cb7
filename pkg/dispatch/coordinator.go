package dispatch

import (
	"context"
	"fmt"
	"log/slog"
)

// Protocol selects which wire dialect a dispatch call decodes.
type Protocol string

const (
	ProtocolJSON Protocol = "json"
	ProtocolXML  Protocol = "xml"
)

// UnknownMethod is what PeekMethodName reports when no method name can be
// recovered from a request body.
const UnknownMethod = "unknown"

// Coordinator owns one method registry and one dispatcher per wire
// protocol. Hosts feed it raw request bytes and write the returned bytes
// out. Build it once during startup; it is safe for concurrent use because
// nothing mutates after construction.
type Coordinator struct {
	registry   *Registry
	jsonrpc    *jsonDispatcher
	xmlrpc     *xmlDispatcher
	logger     *slog.Logger
	serviceURL string
	noIntro    bool
}

// Option adjusts coordinator construction.
type Option func(*Coordinator)

// WithServiceURL sets the URL reported by system.describe.
func WithServiceURL(url string) Option {
	return func(c *Coordinator) { c.serviceURL = url }
}

// WithLogger routes dispatch logging somewhere other than slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithoutIntrospection suppresses registration of the system.* procedures.
func WithoutIntrospection() Option {
	return func(c *Coordinator) { c.noIntro = true }
}

// NewCoordinator registers the introspection procedures (unless suppressed)
// followed by every supplied method, first registration winning on name
// collisions, and returns a ready coordinator. Construction fails only when
// a Method definition itself is unusable.
func NewCoordinator(methods []Method, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{registry: NewRegistry()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.jsonrpc = &jsonDispatcher{registry: c.registry, logger: c.logger}
	c.xmlrpc = &xmlDispatcher{registry: c.registry, logger: c.logger}

	if !c.noIntro {
		for _, m := range c.introspectionMethods() {
			d, err := NewDescriptor(m)
			if err != nil {
				return nil, err
			}
			c.registry.Register(d)
		}
	}
	for _, m := range methods {
		d, err := NewDescriptor(m)
		if err != nil {
			return nil, err
		}
		c.registry.Register(d)
	}
	return c, nil
}

// Dispatch decodes raw with the dispatcher for proto, invokes the target
// procedure or procedures, and returns the encoded response bytes. The
// response is empty for a lone JSON notification. The error return is
// non-nil only for an unrecognized protocol or when no protocol-shaped
// response could be produced at all.
func (c *Coordinator) Dispatch(ctx context.Context, raw []byte, proto Protocol) ([]byte, error) {
	switch proto {
	case ProtocolJSON:
		return c.jsonrpc.Dispatch(ctx, raw), nil
	case ProtocolXML:
		return c.xmlrpc.Dispatch(ctx, raw)
	default:
		return nil, fmt.Errorf("dispatch: unknown protocol %q", proto)
	}
}

// PeekMethodName recovers the target method name from an undispatched body
// so a host can make authorization decisions first. It never executes
// anything. Bodies that cannot be read report UnknownMethod; a JSON batch
// reports its first entry's method.
func (c *Coordinator) PeekMethodName(raw []byte, proto Protocol) string {
	var name string
	var ok bool
	switch proto {
	case ProtocolJSON:
		name, ok = peekJSONMethod(raw)
	case ProtocolXML:
		name, ok = peekXMLMethod(raw)
	}
	if !ok {
		return UnknownMethod
	}
	return name
}

// Lookup returns the descriptor registered under name, letting hosts read a
// method's metadata, typically its permission tag, before dispatching.
func (c *Coordinator) Lookup(name string) (*Descriptor, bool) {
	return c.registry.Lookup(name)
}

// Methods returns the registered descriptors in registration order.
func (c *Coordinator) Methods() []*Descriptor {
	return c.registry.All()
}
