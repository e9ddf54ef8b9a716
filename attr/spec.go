package attr

import (
	"fmt"
	"path"

	"github.com/hupe1980/colgraph/entity"
)

// Kind is the shape of a column.
type Kind uint8

const (
	// Fixed columns hold exactly one value per row.
	Fixed Kind = iota
	// Var columns hold zero or more values per row.
	Var
)

func (k Kind) String() string {
	if k == Var {
		return "var"
	}
	return "fixed"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "fixed":
		*k = Fixed
	case "var":
		*k = Var
	default:
		return fmt.Errorf("attr: unknown kind %q", text)
	}
	return nil
}

const (
	dataExt   = ".col"
	offExt    = ".off"
	metaExt   = ".meta.json"
	offsetLen = 8
)

// Spec declares a column over an entity type.
type Spec struct {
	Entity entity.Type
	Name   string
	Kind   Kind
	Width  Width

	// Namespace overrides the entity namespace as the storage directory.
	// Derived columns live in entity.Derived.
	Namespace string
}

// FixedSpec declares a fixed column.
func FixedSpec(e entity.Type, name string, w Width) Spec {
	return Spec{Entity: e, Name: name, Kind: Fixed, Width: w}
}

// VarSpec declares a variable column.
func VarSpec(e entity.Type, name string, w Width) Spec {
	return Spec{Entity: e, Name: name, Kind: Var, Width: w}
}

// Dir returns the namespace the column is stored under.
func (s Spec) Dir() string {
	if s.Namespace != "" {
		return s.Namespace
	}
	return s.Entity.Namespace
}

// Path returns the slash separated "<namespace>/<name>" of the column.
func (s Spec) Path() string {
	return path.Join(s.Dir(), s.Name)
}

// Rows returns the declared row count.
func (s Spec) Rows() int { return s.Entity.Count }

// WithWidth returns a copy of s with the given width.
func (s Spec) WithWidth(w Width) Spec {
	s.Width = w
	return s
}

// InNamespace returns a copy of s stored under ns.
func (s Spec) InNamespace(ns string) Spec {
	s.Namespace = ns
	return s
}

func (s Spec) String() string {
	return fmt.Sprintf("%s[%s %s]", s.Path(), s.Kind, s.Width)
}

// Layout is the byte size of each file of a column.
type Layout struct {
	Data    int64
	Offsets int64
}

// LayoutOf computes the file sizes of a column with the given width and
// element count. elements is ignored for fixed columns.
func LayoutOf(kind Kind, w Width, rows int, elements int64) Layout {
	if kind == Fixed {
		return Layout{Data: int64(rows) * int64(w)}
	}
	return Layout{
		Data:    elements * int64(w),
		Offsets: int64(rows+1) * offsetLen,
	}
}

// Layout computes the file sizes of s for a resolved width.
func (s Spec) Layout(elements int64) Layout {
	return LayoutOf(s.Kind, s.Width, s.Rows(), elements)
}

// Meta is the sidecar stored next to every column.
type Meta struct {
	Kind     Kind   `json:"kind"`
	Width    Width  `json:"width"`
	Rows     int    `json:"rows"`
	Elements int64  `json:"elements"`
	Codec    string `json:"codec"`
}

// Layout returns the file sizes described by m.
func (m Meta) Layout() Layout {
	return LayoutOf(m.Kind, m.Width, m.Rows, m.Elements)
}

func (m Meta) check(s Spec) error {
	if m.Kind != s.Kind {
		return fmt.Errorf("%w: %s stored as %s", ErrKindMismatch, s, m.Kind)
	}
	if !m.Width.Valid() {
		return fmt.Errorf("%w: %s records width %d", ErrCorrupt, s, m.Width)
	}
	if s.Width != Auto && s.Width != m.Width {
		return fmt.Errorf("%w: %s stored as %s", ErrWidthMismatch, s, m.Width)
	}
	if m.Rows != s.Rows() {
		return fmt.Errorf("%w: %s stored with %d rows", ErrCorrupt, s, m.Rows)
	}
	return nil
}
