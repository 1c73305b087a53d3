package workflow

import (
	"fmt"
	"strings"
)

// Ref identifies a definition in the catalog. Accepted string forms:
// name, name@version, namespace/name, namespace/name@version.
type Ref struct {
	Namespace string
	Name      string
	Version   string
}

// ParseRef parses a reference string. The namespace defaults to
// DefaultNamespace; an empty version means the latest registered.
func ParseRef(s string) (Ref, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Ref{}, fmt.Errorf("empty reference")
	}
	ref := Ref{Namespace: DefaultNamespace}
	rest := trimmed
	if slash := strings.Index(rest, "/"); slash >= 0 {
		ref.Namespace = rest[:slash]
		rest = rest[slash+1:]
		if ref.Namespace == "" {
			return Ref{}, fmt.Errorf("invalid reference %q: empty namespace", s)
		}
		if strings.Contains(rest, "/") {
			return Ref{}, fmt.Errorf("invalid reference %q: at most one namespace segment", s)
		}
	}
	if at := strings.Index(rest, "@"); at >= 0 {
		ref.Version = rest[at+1:]
		rest = rest[:at]
		if ref.Version == "" {
			return Ref{}, fmt.Errorf("invalid reference %q: empty version", s)
		}
		if strings.Contains(ref.Version, "@") {
			return Ref{}, fmt.Errorf("invalid reference %q: at most one version segment", s)
		}
	}
	if rest == "" {
		return Ref{}, fmt.Errorf("invalid reference %q: empty name", s)
	}
	ref.Name = rest
	return ref, nil
}

// String renders the canonical form, omitting the default namespace and an
// empty version.
func (r Ref) String() string {
	var b strings.Builder
	if r.Namespace != "" && r.Namespace != DefaultNamespace {
		b.WriteString(r.Namespace)
		b.WriteString("/")
	}
	b.WriteString(r.Name)
	if r.Version != "" {
		b.WriteString("@")
		b.WriteString(r.Version)
	}
	return b.String()
}

// Key renders the fully qualified form used for map keys and cycle checks.
// The version is excluded so two versions of one workflow still count as the
// same node on the call stack.
func (r Ref) Key() string {
	ns := r.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + "/" + r.Name
}
