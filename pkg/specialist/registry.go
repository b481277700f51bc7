package specialist

import (
	"sort"
	"strings"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/registry"
	"github.com/arbiterhq/arbiter/pkg/tool"
)

// Registration ties a specialist name to its remote agent identity, the
// local callables backing its function tools, and the toolset it was
// deployed with.
type Registration struct {
	Name          string
	RemoteID      string
	ToolFunctions map[string]tool.Invoker
	Toolset       []agentruntime.AgentTool
}

// signature is the comparable shape of a registration: the sorted local
// function names plus the sorted remote tool identities. Two registrations
// with equal signatures are interchangeable for conflict purposes.
func (r Registration) signature() string {
	parts := make([]string, 0, len(r.ToolFunctions)+len(r.Toolset))
	for name := range r.ToolFunctions {
		parts = append(parts, "fn:"+name)
	}
	for _, t := range r.Toolset {
		id := t.Type
		if t.Function != nil {
			id += ":" + t.Function.Name
		}
		parts = append(parts, "tool:"+id)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Registry is the read-mostly mapping from specialist name to its
// registration. It is populated once by the deployment pass and read on
// every delegation.
type Registry struct {
	catalog *Catalog
	entries *registry.BaseRegistry[Registration]
}

// NewRegistry builds an empty registry. The catalog lets lookups
// distinguish unknown names from known-but-undeployed ones.
func NewRegistry(catalog *Catalog) *Registry {
	return &Registry{
		catalog: catalog,
		entries: registry.NewBaseRegistry[Registration](),
	}
}

// Register inserts or updates a registration. When the name already exists
// with a different tool signature and overwrite is false, it fails with a
// *ConflictError and leaves the existing entry in place.
func (r *Registry) Register(reg Registration, overwrite bool) error {
	if existing, ok := r.entries.Get(reg.Name); ok {
		if !overwrite && existing.signature() != reg.signature() {
			return &ConflictError{Name: reg.Name}
		}
	}
	r.entries.Set(reg.Name, reg)
	return nil
}

// Deregister removes a registration. Removing a name that was never
// registered is an error.
func (r *Registry) Deregister(name string) error {
	return r.entries.Remove(name)
}

// Lookup returns the registration for a name. A miss yields a
// *LookupError whose Reason tells unknown names apart from known ones that
// have not been deployed.
func (r *Registry) Lookup(name string) (Registration, error) {
	if reg, ok := r.entries.Get(name); ok {
		return reg, nil
	}
	reason := LookupUnknown
	if r.catalog != nil && r.catalog.Known(name) {
		reason = LookupNotDeployed
	}
	return Registration{}, &LookupError{Name: name, Reason: reason}
}

// Available reports whether a name is registered.
func (r *Registry) Available(name string) bool {
	_, ok := r.entries.Get(name)
	return ok
}

// List returns registered names in insertion order.
func (r *Registry) List() []string {
	return r.entries.Names()
}
