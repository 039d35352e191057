package apikey

import (
	"net"
	"sync/atomic"
	"time"
)

// Status is the lifecycle status of a key record.
type Status string

// Key record statuses. Rotated is a grace-period state: the key still
// authorizes but callers should migrate to the replacement credential.
const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
)

// KeyRecord is the persisted representation of an issued credential.
// Records are created, rotated, and revoked by the issuance subsystem;
// the gateway only reads them and increments usage counters.
type KeyRecord struct {
	// ProjectID is the owning project. It must match the project id
	// embedded in the presented credential.
	ProjectID string `json:"project_id"`

	// Class is the deployment class the key was issued for.
	Class KeyClass `json:"class"`

	// Status is the lifecycle status.
	Status Status `json:"status"`

	// ExpiresAt is the absolute deadline; nil means non-expiring.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// IPAllowlist restricts origins for production-class keys in
	// hardened mode. Entries are CIDRs or single IPs. An empty list
	// leaves the key unrestricted.
	IPAllowlist []string `json:"ip_allowlist,omitempty"`

	// Permissions are the capability tokens granted to the key.
	Permissions []string `json:"permissions,omitempty"`

	// UsageCount is incremented once per accepted request. Access it
	// through Usage; the in-memory store mutates it atomically.
	UsageCount int64 `json:"usage_count"`

	// LastUsedAt is the time of the last accepted request.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// IsExpired returns true if the record has an expiry in the past.
func (r *KeyRecord) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return now.After(*r.ExpiresAt)
}

// Authorizes returns true if the record's status still admits
// requests. Active and rotated keys authorize; revoked keys and any
// unknown status do not.
func (r *KeyRecord) Authorizes() bool {
	return r.Status == StatusActive || r.Status == StatusRotated
}

// AllowsOrigin returns true if the given origin IP is a member of the
// record's allowlist. An empty allowlist allows every origin; an
// unparseable origin is never allowed against a non-empty allowlist.
func (r *KeyRecord) AllowsOrigin(origin string) bool {
	if len(r.IPAllowlist) == 0 {
		return true
	}

	ip := net.ParseIP(origin)
	if ip == nil {
		return false
	}

	for _, entry := range r.IPAllowlist {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}

	return false
}

// Usage returns the current usage count.
func (r *KeyRecord) Usage() int64 {
	return atomic.LoadInt64(&r.UsageCount)
}

// HasPermission returns true if the named capability is a member of
// the record's permission set.
func (r *KeyRecord) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p == name {
			return true
		}
	}
	return false
}
