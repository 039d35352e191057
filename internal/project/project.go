// Package project provides the project (tenant) store for the gateway.
// Projects are the ownership boundary an API key authorizes access to;
// the gateway resolves them read-only.
package project

// Status is the lifecycle status of a project.
type Status string

// Project statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Project represents a tenant of the gateway.
type Project struct {
	// ID is the unique project identifier embedded in API keys.
	ID string `json:"id"`

	// Name is a human-readable name for the project.
	Name string `json:"name,omitempty"`

	// Status is the project lifecycle status. Only active projects
	// may be resolved by the gateway.
	Status Status `json:"status"`
}

// IsActive returns true if the project is active.
func (p *Project) IsActive() bool {
	return p.Status == StatusActive
}
