// Package scope implements the permission model attached to API keys.
// Three scopes exist: read, write, and admin. admin satisfies every
// requirement and write implies read.
package scope

// Scope is a named permission level carried by an API key.
type Scope string

const (
	Read  Scope = "read"
	Write Scope = "write"
	Admin Scope = "admin"
)

// All lists every valid scope, in ascending order of privilege.
var All = []Scope{Read, Write, Admin}

// Valid reports whether s names a known scope.
func Valid(s string) bool {
	switch Scope(s) {
	case Read, Write, Admin:
		return true
	}
	return false
}

// Has reports whether the granted scope set satisfies the required scope.
// admin authorizes everything; write authorizes read; otherwise the required
// scope must be an exact member of the granted set.
func Has(granted []string, required Scope) bool {
	for _, g := range granted {
		switch Scope(g) {
		case Admin:
			return true
		case required:
			return true
		case Write:
			if required == Read {
				return true
			}
		}
	}
	return false
}
