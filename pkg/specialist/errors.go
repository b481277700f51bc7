package specialist

import "fmt"

// LookupReason distinguishes why a registry lookup failed, so call sites
// can dispatch on the variant instead of matching message text.
type LookupReason string

const (
	// LookupUnknown means the name is not in the catalog at all.
	LookupUnknown LookupReason = "unknown_agent"
	// LookupNotDeployed means the name is known but no deployment pass has
	// registered it yet.
	LookupNotDeployed LookupReason = "not_deployed"
)

// LookupError reports a failed registry lookup.
type LookupError struct {
	Name   string
	Reason LookupReason
}

func (e *LookupError) Error() string {
	switch e.Reason {
	case LookupNotDeployed:
		return fmt.Sprintf("specialist %s is not deployed", e.Name)
	default:
		return fmt.Sprintf("unknown specialist %s", e.Name)
	}
}

// ConflictError reports a registration that collides with an existing
// entry whose tool signature differs.
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("specialist %s is already registered with a different tool signature", e.Name)
}
