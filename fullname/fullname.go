// Package fullname parses and renders LECO full names: "<namespace>.<local>".
//
// Either part may be omitted on the wire; callers fill in the missing part
// with a default (usually the local Coordinator's namespace). Neither part
// may itself contain a '.' byte, so a full name splits on the first '.'
// unambiguously.
package fullname

import (
	"fmt"
	"strings"
)

// CoordinatorLocalName is the reserved local name that always addresses the
// Coordinator of a namespace.
const CoordinatorLocalName = "COORDINATOR"

// FullName is a parsed "<namespace>.<local>" address. Either field may be
// empty, meaning "not yet assigned" — callers resolve it against a default
// namespace before using it for routing.
type FullName struct {
	Namespace string
	Local     string
}

// Parse splits raw full-name bytes into namespace and local parts.
// "ns.name" -> {"ns", "name"}; "name" (no dot) -> {"", "name"};
// "ns." -> {"ns", ""}; "" -> {"", ""}.
func Parse(raw string) (FullName, error) {
	if raw == "" {
		return FullName{}, nil
	}
	idx := strings.IndexByte(raw, '.')
	if idx < 0 {
		return FullName{Local: raw}, nil
	}
	ns := raw[:idx]
	local := raw[idx+1:]
	if strings.IndexByte(local, '.') >= 0 {
		return FullName{}, fmt.Errorf("fullname: local part %q contains '.'", local)
	}
	return FullName{Namespace: ns, Local: local}, nil
}

// String renders the full name as "<namespace>.<local>". If Namespace is
// empty, only Local is returned (no leading dot).
func (f FullName) String() string {
	if f.Namespace == "" {
		return f.Local
	}
	return f.Namespace + "." + f.Local
}

// Bytes is a convenience wrapper around String for frame encoding.
func (f FullName) Bytes() []byte {
	return []byte(f.String())
}

// IsEmpty reports whether neither part is set.
func (f FullName) IsEmpty() bool {
	return f.Namespace == "" && f.Local == ""
}

// WithDefaultNamespace returns f with an empty Namespace replaced by def.
func (f FullName) WithDefaultNamespace(def string) FullName {
	if f.Namespace == "" {
		f.Namespace = def
	}
	return f
}

// IsCoordinator reports whether this name addresses a namespace's
// Coordinator (local part == "COORDINATOR").
func (f FullName) IsCoordinator() bool {
	return f.Local == CoordinatorLocalName
}

// Coordinator returns the full name of the Coordinator for the given
// namespace, e.g. Coordinator("N1") -> "N1.COORDINATOR".
func Coordinator(namespace string) FullName {
	return FullName{Namespace: namespace, Local: CoordinatorLocalName}
}

// DefaultNamespace derives a Coordinator's default namespace from a host
// name, per §3: "defaults... to the host's short name with dots replaced
// by underscores."
func DefaultNamespace(hostname string) string {
	return strings.ReplaceAll(hostname, ".", "_")
}
