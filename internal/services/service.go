// Package services holds the extraction backends and the configuration store
// that owns them.
//
// A [Service] turns a cell's text into an ordered list of values. Each service
// carries a fixed set of string properties; the "column" property, when set,
// names the column its values are written to. Services are created by kind
// through a registry (see [RegisterKind]) and owned by a [Manager], which
// loads and saves their settings as a JSON array.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ColumnProperty names the destination column for a service's values.
const ColumnProperty = "column"

var (
	// ErrUnknownProperty is returned by SetProperty for a name the service
	// does not declare.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrNotConfigured is returned by Extract when required settings are missing.
	ErrNotConfigured = errors.New("service not configured")
)

// Service is one extraction backend.
type Service interface {
	// Kind is the registry key the service was created from.
	Kind() string

	// Extract returns the values found in text, in the order the backend
	// produced them.
	Extract(ctx context.Context, text string) ([]string, error)

	PropertyNames() []string
	Property(name string) string
	SetProperty(name, value string) error

	IsConfigured() bool

	// Documentation is a short description or URL shown in service listings.
	Documentation() string
}

// PreferredColumn returns the destination column name for a service: its
// column property when set, otherwise name.
func PreferredColumn(name string, svc Service) string {
	if col := svc.Property(ColumnProperty); col != "" {
		return col
	}
	return name
}

// Properties is a fixed set of named string settings, safe for concurrent use.
// Embed it to implement the property half of [Service].
type Properties struct {
	mu     sync.RWMutex
	names  []string
	values map[string]string
}

// Declare sets the property names with optional default values. It must be
// called once, before the service is shared.
func (p *Properties) Declare(names []string, defaults map[string]string) {
	p.names = append([]string(nil), names...)
	p.values = make(map[string]string, len(names))
	for _, n := range names {
		p.values[n] = defaults[n]
	}
}

// PropertyNames returns the declared names in declaration order.
func (p *Properties) PropertyNames() []string {
	return append([]string(nil), p.names...)
}

// Property returns the value of name, or "" when undeclared.
func (p *Properties) Property(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[name]
}

// SetProperty updates a declared property.
func (p *Properties) SetProperty(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[name]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownProperty, name)
	}
	p.values[name] = value
	return nil
}

// Settings returns a copy of every property value.
func (p *Properties) Settings() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
