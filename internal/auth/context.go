// Package auth wires the API key validation pipeline into the HTTP
// layer: credential extraction, context propagation, and the
// structured rejection responses handlers rely on.
package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/keygate-io/keygate/internal/auth/apikey"
	"github.com/keygate-io/keygate/internal/project"
)

// ContextKey is the gin context key the authenticated context is
// stored under.
const ContextKey = "authContext"

// Context is the validated tenant context attached to a request after
// a successful gateway pass. Exactly one pass populates it per
// request; it is never persisted.
type Context struct {
	// Credential is the raw presented key.
	Credential string

	// Record is the persisted key record. Nil for overrides.
	Record *apikey.KeyRecord

	// Project is the resolved owning project. Nil for overrides.
	Project *project.Project

	// Permissions are the capability tokens granted to the key.
	Permissions []string

	// ProjectID is the authenticated project id. Empty for overrides.
	ProjectID string

	// Override marks the unrestricted development bypass tier.
	// Handlers must treat it as a distinct trust tier, never as an
	// authenticated tenant.
	Override bool
}

// NewContext builds a Context from a pipeline result.
func NewContext(result *apikey.Result) *Context {
	if result.IsOverride() {
		return &Context{
			Credential: result.Credential,
			Override:   true,
		}
	}
	return &Context{
		Credential:  result.Credential,
		Record:      result.Record,
		Project:     result.Project,
		Permissions: result.Permissions,
		ProjectID:   result.Record.ProjectID,
	}
}

// FromGin returns the authenticated context for the request, if the
// auth middleware ran and admitted it.
func FromGin(c *gin.Context) (*Context, bool) {
	v, exists := c.Get(ContextKey)
	if !exists {
		return nil, false
	}
	authCtx, ok := v.(*Context)
	return authCtx, ok
}

// HasPermission returns true if the named capability is in the
// context's permission set. Overrides hold every capability.
func (c *Context) HasPermission(name string) bool {
	if c.Override {
		return true
	}
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}
