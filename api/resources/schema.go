// Package resources implements owner-scoped CRUD over PostgREST tables
// declared as schemas.
package resources

import (
	"strings"
)

// FilterOp is how a query-string filter is sent upstream.
type FilterOp int

const (
	// OpEq sends column=eq.<v>.
	OpEq FilterOp = iota
	// OpILike sends column=ilike.*<v>*.
	OpILike
	// OpContains sends column=cs.{<v>} for array columns.
	OpContains
)

// Filter maps a query-string parameter to a column.
type Filter struct {
	Param  string
	Column string
	Op     FilterOp
}

// Kind is the JSON type a field accepts.
type Kind int

const (
	String Kind = iota
	Number
	Bool
	List
	// Any accepts objects and other free-form JSON.
	Any
)

func (k Kind) accepts(v any) bool {
	switch k {
	case String:
		_, ok := v.(string)
		return ok
	case Number:
		_, ok := v.(float64)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case List:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func (k Kind) String() string {
	switch k {
	case String:
		return "a string"
	case Number:
		return "a number"
	case Bool:
		return "a boolean"
	case List:
		return "a list"
	default:
		return "a value"
	}
}

// Field is a writable column. "required" in Rule is checked for presence;
// the rest of the tag is passed to validate.Var once the type matches.
type Field struct {
	Name string
	Type Kind
	Rule string
}

func (f Field) required() bool {
	for _, part := range strings.Split(f.Rule, ",") {
		if part == "required" {
			return true
		}
	}
	return false
}

func (f Field) valueRule() string {
	var parts []string
	for _, part := range strings.Split(f.Rule, ",") {
		if part != "required" && part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ",")
}

// Parent declares ownership held by a parent row, e.g. medications owned
// through health_profiles.user_id.
type Parent struct {
	// Table is the parent table, embedded with !inner on reads.
	Table string
	// Key is the child column referencing the parent id.
	Key string
	// OwnerColumn is the parent's owner column.
	OwnerColumn string
}

func (p *Parent) embed() string {
	return p.Table + "!inner(" + p.OwnerColumn + ")"
}

// Hook adjusts an update patch before it is sent.
type Hook func(callerID string, patch map[string]any)

// Schema declares a resource.
type Schema struct {
	// Name is the singular display name used in messages.
	Name  string
	Path  string
	Table string

	// OwnerColumn is set to the caller on create and scopes reads and
	// updates. Empty when ownership goes through Parent.
	OwnerColumn string
	// ReadOwners widens reads to rows where the caller is in any of these
	// columns. Defaults to OwnerColumn.
	ReadOwners []string
	Parent     *Parent
	// Singleton resources hold one row per owner and are updated by owner
	// instead of by id.
	Singleton bool
	// Upsert merges on the primary key when creating.
	Upsert bool

	Fields       []Field
	UpdateFields []Field
	Filters      []Filter

	// LookupParam lets a read target another owner's rows, e.g. viewing a
	// caregiver's public profile.
	LookupParam string

	Select    string
	OrderBy   string
	OrderDesc bool

	// UpdateGuard, when set, authorizes updates by reading the row first
	// and requiring the caller in one of these columns.
	UpdateGuard  []string
	BeforeUpdate Hook
}

func (s *Schema) readOwners() []string {
	if len(s.ReadOwners) > 0 {
		return s.ReadOwners
	}
	if s.OwnerColumn != "" {
		return []string{s.OwnerColumn}
	}
	return nil
}

func (s *Schema) selectColumns() string {
	sel := s.Select
	if sel == "" {
		sel = "*"
	}
	if s.Parent != nil {
		sel += "," + s.Parent.embed()
	}
	return sel
}

func fieldIndex(fields []Field) map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}

// Registry looks schemas up by path.
type Registry struct {
	byPath map[string]*Schema
	order  []*Schema
}

// NewRegistry indexes schemas. Paths must be unique.
func NewRegistry(schemas ...*Schema) *Registry {
	r := &Registry{byPath: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if _, dup := r.byPath[s.Path]; dup {
			panic("resources: duplicate path " + s.Path)
		}
		r.byPath[s.Path] = s
		r.order = append(r.order, s)
	}
	return r
}

func (r *Registry) Lookup(path string) (*Schema, bool) {
	s, ok := r.byPath[path]
	return s, ok
}

// All returns the schemas in declaration order.
func (r *Registry) All() []*Schema {
	return r.order
}
