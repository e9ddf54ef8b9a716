// Package entity declares the fixed-cardinality row sets that columns are
// defined over.
//
// An entity type is declared once per run and never changes its row count:
//
//	reg := entity.NewRegistry()
//	works, err := reg.Declare("works", "works", 10254)
package entity

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
)

var (
	// ErrConflict is returned when a name is redeclared with different facts.
	ErrConflict = errors.New("entity: conflicting declaration")
	// ErrUnknown is returned by Lookup for an undeclared name.
	ErrUnknown = errors.New("entity: unknown type")
	// ErrInvalid is returned for empty names or negative counts.
	ErrInvalid = errors.New("entity: invalid declaration")
)

// Derived is the namespace holding columns computed from other columns.
const Derived = "derived"

// Type is a logical row set with a fixed number of rows.
type Type struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Count     int    `json:"count"`
}

// Path returns the stable "<namespace>/<name>" path of the type.
func (t Type) Path() string {
	return path.Join(t.Namespace, t.Name)
}

// Contains reports whether row is a valid row id.
func (t Type) Contains(row int) bool {
	return row >= 0 && row < t.Count
}

func (t Type) String() string {
	return fmt.Sprintf("%s(%d)", t.Path(), t.Count)
}

// Registry holds entity declarations. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Declare registers a type. Declaring the same facts twice is a no-op.
func (r *Registry) Declare(namespace, name string, count int) (Type, error) {
	if name == "" || namespace == "" || count < 0 {
		return Type{}, fmt.Errorf("%w: %q/%q count %d", ErrInvalid, namespace, name, count)
	}
	t := Type{Namespace: namespace, Name: name, Count: count}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.types[name]; ok {
		if prev != t {
			return Type{}, fmt.Errorf("%w: %s already declared as %s", ErrConflict, t, prev)
		}
		return prev, nil
	}
	r.types[name] = t
	return t, nil
}

// MustDeclare is like Declare but panics on error.
func (r *Registry) MustDeclare(namespace, name string, count int) Type {
	t, err := r.Declare(namespace, name, count)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the type declared under name.
func (r *Registry) Lookup(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return Type{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return t, nil
}

// Types returns all declarations sorted by name.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
