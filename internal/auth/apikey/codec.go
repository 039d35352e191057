// Package apikey provides API key parsing, storage, and validation for
// the gateway.
package apikey

import "strings"

// KeyNamespace is the leading segment of every structured API key.
const KeyNamespace = "proj"

// keySegments is the exact number of underscore-delimited segments in
// a well-formed key: namespace, project id, class, random suffix.
const keySegments = 4

// KeyClass is the deployment class a key was issued for.
type KeyClass string

// Key classes.
const (
	ClassProduction  KeyClass = "production"
	ClassDevelopment KeyClass = "development"
)

// Valid returns true if the class is a known key class.
func (c KeyClass) Valid() bool {
	return c == ClassProduction || c == ClassDevelopment
}

// DefaultBypassKeys are the development bypass literals recognized
// before parsing. They short-circuit the whole pipeline and yield an
// unrestricted override result, never an authenticated project.
var DefaultBypassKeys = []string{"local-dev-key", "dev-key"}

// Descriptor is the untrusted decomposition of a raw key string. It is
// derived purely from parsing and must never be used for authorization
// on its own; the persisted record is authoritative.
type Descriptor struct {
	// ProjectID is the project id segment embedded in the key.
	ProjectID string

	// Class is the key class segment embedded in the key.
	Class KeyClass
}

// ParseKey parses a raw credential of the form
// "proj_<projectID>_<class>_<suffix>" into a Descriptor. Any deviation
// from that shape returns ErrMalformedKey. Parsing never touches the
// store, so malformed input is rejected before any persistence access.
func ParseKey(raw string) (*Descriptor, error) {
	parts := strings.Split(raw, "_")
	if len(parts) != keySegments {
		return nil, ErrMalformedKey
	}

	if parts[0] != KeyNamespace {
		return nil, ErrMalformedKey
	}

	projectID := parts[1]
	if projectID == "" {
		return nil, ErrMalformedKey
	}

	class := KeyClass(parts[2])
	if !class.Valid() {
		return nil, ErrMalformedKey
	}

	if parts[3] == "" {
		return nil, ErrMalformedKey
	}

	return &Descriptor{
		ProjectID: projectID,
		Class:     class,
	}, nil
}
