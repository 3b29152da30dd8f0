package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/GoCodeAlone/agentcore/core"
)

// Catalog maps capability names to executable capabilities supplied by the
// host.
type Catalog struct {
	mu   sync.RWMutex
	caps map[string]core.Capability
}

// NewCatalog returns a catalog holding caps.
func NewCatalog(caps ...core.Capability) *Catalog {
	c := &Catalog{caps: make(map[string]core.Capability, len(caps))}
	for _, capability := range caps {
		c.caps[capability.Name] = capability
	}
	return c
}

// Register adds or replaces a capability.
func (c *Catalog) Register(capability core.Capability) error {
	if capability.Name == "" {
		return fmt.Errorf("%w: capability has no name", core.ErrInvalidConfig)
	}
	if capability.Execute == nil {
		return fmt.Errorf("%w: capability %q has no executor", core.ErrInvalidConfig, capability.Name)
	}
	c.mu.Lock()
	c.caps[capability.Name] = capability
	c.mu.Unlock()
	return nil
}

// Names returns the registered capability names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.caps))
}

// Resolve returns one capability per name. Names with no registered
// capability resolve to a placeholder that echoes its parameters.
func (c *Catalog) Resolve(names []string) []core.Capability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Capability, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if capability, ok := c.caps[name]; ok {
			out = append(out, capability)
			continue
		}
		out = append(out, Placeholder(name))
	}
	return out
}

// Placeholder returns a capability that reports it ran and echoes its
// parameters.
func Placeholder(name string) core.Capability {
	return core.Capability{
		Name:        name,
		Description: name,
		Execute: func(_ context.Context, params map[string]any, _ *core.Context) (any, error) {
			return map[string]any{
				"capability": name,
				"result":     "Executed " + name,
				"parameters": params,
			}, nil
		},
	}
}
