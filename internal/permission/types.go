// Package permission implements the capability grammar, matching rules, and
// the process-wide permission store that mediates sandboxed code's access to
// the outside world.
package permission

import "fmt"

// Type is the capability's tagged-variant discriminant. Dispatch on Type,
// never on which optional fields happen to be set.
type Type string

const (
	TypeHTTP Type = "http"
	TypeFile Type = "file"
	TypeEnv  Type = "env"
)

// HTTP methods recognized by the grammar. Anything outside this set is
// rejected at the grant boundary and normalized to GET during descriptor
// synthesis (see SynthesizeHTTPDescriptor).
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodPatch  = "PATCH"
)

var validMethods = map[string]bool{
	MethodGet: true, MethodPost: true, MethodPut: true, MethodDelete: true, MethodPatch: true,
}

// File operations recognized by the grammar.
const (
	OpRead  = "read"
	OpWrite = "write"
)

var validOps = map[string]bool{OpRead: true, OpWrite: true}

// Capability is the tagged-variant shape shared by granted capabilities and
// required-access descriptors (spec §3): the same struct plays both roles,
// distinguished only by which side of Store.Check it's on.
type Capability struct {
	Type Type `json:"type"`

	// Http fields.
	Host        string   `json:"host,omitempty"`
	PathPattern string   `json:"pathPattern,omitempty"`
	Methods     []string `json:"methods,omitempty"`

	// File fields.
	Path       string   `json:"path,omitempty"`
	Operations []string `json:"operations,omitempty"`

	// Env fields.
	Variables []string `json:"variables,omitempty"`

	Description string `json:"description"`
}

// ValidationError names the malformed field and gives a worked example, so a
// caller (typically a language model) can self-correct and retry.
type ValidationError struct {
	Field   string
	Message string
	Example Capability
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid capability: %s: %s (example: %+v)", e.Field, e.Message, e.Example)
}

func httpExample() Capability {
	return Capability{
		Type:        TypeHTTP,
		Host:        "api.example.com",
		PathPattern: "/v1/*",
		Methods:     []string{MethodGet},
		Description: "read access to the example API",
	}
}

func fileExample() Capability {
	return Capability{
		Type:        TypeFile,
		Path:        "/workspace/*",
		Operations:  []string{OpRead},
		Description: "read files under the workspace",
	}
}

func envExample() Capability {
	return Capability{
		Type:        TypeEnv,
		Variables:   []string{"SECRET_*"},
		Description: "read secrets prefixed SECRET_",
	}
}

// Validate checks cap against the grammar in spec §3/§4.2: the type tag
// determines which fields are meaningful, description is always required,
// and method/operation/variable lists contain no duplicates or unknown
// values.
func (c Capability) Validate() error {
	if c.Description == "" {
		return &ValidationError{Field: "description", Message: "must be a non-empty string", Example: exampleFor(c.Type)}
	}
	switch c.Type {
	case TypeHTTP:
		if c.Host == "" {
			return &ValidationError{Field: "host", Message: "must be a non-empty DNS name", Example: httpExample()}
		}
		if dup := firstDuplicate(c.Methods); dup != "" {
			return &ValidationError{Field: "methods", Message: fmt.Sprintf("duplicate method %q", dup), Example: httpExample()}
		}
		for _, m := range c.Methods {
			if !validMethods[m] {
				return &ValidationError{Field: "methods", Message: fmt.Sprintf("unknown method %q", m), Example: httpExample()}
			}
		}
	case TypeFile:
		if c.Path == "" {
			return &ValidationError{Field: "path", Message: "must be a non-empty glob", Example: fileExample()}
		}
		if dup := firstDuplicate(c.Operations); dup != "" {
			return &ValidationError{Field: "operations", Message: fmt.Sprintf("duplicate operation %q", dup), Example: fileExample()}
		}
		for _, op := range c.Operations {
			if !validOps[op] {
				return &ValidationError{Field: "operations", Message: fmt.Sprintf("unknown operation %q", op), Example: fileExample()}
			}
		}
	case TypeEnv:
		if dup := firstDuplicate(c.Variables); dup != "" {
			return &ValidationError{Field: "variables", Message: fmt.Sprintf("duplicate variable pattern %q", dup), Example: envExample()}
		}
	default:
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown capability type %q", c.Type), Example: httpExample()}
	}
	return nil
}

func exampleFor(t Type) Capability {
	switch t {
	case TypeFile:
		return fileExample()
	case TypeEnv:
		return envExample()
	default:
		return httpExample()
	}
}

func firstDuplicate(items []string) string {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item] {
			return item
		}
		seen[item] = true
	}
	return ""
}

// StructurallyEquals implements the equality relation used by Store.Revoke
// (spec §4.2): same type tag, same scalar fields, and multiset equality of
// the list fields (order doesn't matter).
func (c Capability) StructurallyEquals(other Capability) bool {
	if c.Type != other.Type || c.Host != other.Host || c.PathPattern != other.PathPattern ||
		c.Path != other.Path || c.Description != other.Description {
		return false
	}
	return sameMultiset(c.Methods, other.Methods) &&
		sameMultiset(c.Operations, other.Operations) &&
		sameMultiset(c.Variables, other.Variables)
}

func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, v := range a {
		counts[v]++
	}
	for _, v := range b {
		counts[v]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

// Serialize renders a capability as a human-readable one-liner, used for
// audit log lines and list_permissions/grant_permission tool responses.
func (c Capability) Serialize() string {
	switch c.Type {
	case TypeHTTP:
		s := fmt.Sprintf("http %s", c.Host)
		if c.PathPattern != "" {
			s += c.PathPattern
		}
		if len(c.Methods) > 0 {
			s += fmt.Sprintf(" [%s]", joinComma(c.Methods))
		}
		return s + " — " + c.Description
	case TypeFile:
		s := fmt.Sprintf("file %s", c.Path)
		if len(c.Operations) > 0 {
			s += fmt.Sprintf(" [%s]", joinComma(c.Operations))
		}
		return s + " — " + c.Description
	case TypeEnv:
		return fmt.Sprintf("env [%s] — %s", joinComma(c.Variables), c.Description)
	default:
		return fmt.Sprintf("unknown(%s) — %s", c.Type, c.Description)
	}
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}
