package doc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Document is a named, versioned unit of data. The ID is immutable once
// assigned; every edit produces a new Document value with the same ID but new
// content, and therefore a new content hash - a "version".
type Document struct {
	ID             string
	ClassName      string
	CreatedAt      time.Time
	PropertyGroups map[string]Object
	Dependencies   []Dependency
	BinaryFileRefs []string
}

// Dependency names another document this one depends on.
// Value is the other document's id. Order is significant: DependencyRef
// values inside property groups address this list by position.
type Dependency struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// New creates a Document with the given identity and creation time.
// Identifier generation and clock access stay with the caller so the model
// remains a pure value type.
func New(id, className string, createdAt time.Time) *Document {
	return &Document{
		ID:             id,
		ClassName:      className,
		CreatedAt:      createdAt.UTC(),
		PropertyGroups: make(map[string]Object),
	}
}

// SetProperty sets one field in a property group, creating the group if
// needed.
func (d *Document) SetProperty(group, field string, v Value) {
	if d.PropertyGroups == nil {
		d.PropertyGroups = make(map[string]Object)
	}
	g, ok := d.PropertyGroups[group]
	if !ok {
		g = make(Object)
		d.PropertyGroups[group] = g
	}
	g[field] = v
}

// Property resolves a dot-separated path ("group.field.sub...") into the
// property groups. A single-segment path resolves to the whole group as an
// Object. Returns (nil, false) if any step is absent.
func (d *Document) Property(path string) (Value, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	g, ok := d.PropertyGroups[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return g, true
	}
	return lookupPath(g, parts[1:])
}

func lookupPath(obj Object, parts []string) (Value, bool) {
	v, ok := obj[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	sub, ok := v.(Object)
	if !ok {
		return nil, false
	}
	return lookupPath(sub, parts[1:])
}

// ResolveDependency maps a DependencyRef back to the dependency entry it
// addresses.
func (d *Document) ResolveDependency(ref DependencyRef) (Dependency, error) {
	if ref.Index < 0 || ref.Index >= len(d.Dependencies) {
		return Dependency{}, fmt.Errorf("dependency index %d out of range (have %d)", ref.Index, len(d.Dependencies))
	}
	return d.Dependencies[ref.Index], nil
}

// Clone returns a deep copy. Staged documents are cloned before mutation so
// committed content never aliases caller-held values.
func (d *Document) Clone() *Document {
	out := &Document{
		ID:        d.ID,
		ClassName: d.ClassName,
		CreatedAt: d.CreatedAt,
	}
	if d.PropertyGroups != nil {
		out.PropertyGroups = make(map[string]Object, len(d.PropertyGroups))
		for name, g := range d.PropertyGroups {
			out.PropertyGroups[name] = cloneObject(g)
		}
	}
	out.Dependencies = append([]Dependency(nil), d.Dependencies...)
	out.BinaryFileRefs = append([]string(nil), d.BinaryFileRefs...)
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Object:
		return cloneObject(val)
	default:
		// Scalars and DependencyRef are value types.
		return val
	}
}

func cloneObject(obj Object) Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

// record is the stored wire form of a Document.
type record struct {
	ID             string            `json:"id"`
	ClassName      string            `json:"class_name"`
	CreatedAt      time.Time         `json:"created_at"`
	PropertyGroups map[string]Object `json:"property_groups"`
	Dependencies   []Dependency      `json:"dependencies,omitempty"`
	BinaryFileRefs []string          `json:"binary_file_refs,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		ID:             d.ID,
		ClassName:      d.ClassName,
		CreatedAt:      d.CreatedAt.UTC(),
		PropertyGroups: d.PropertyGroups,
		Dependencies:   d.Dependencies,
		BinaryFileRefs: d.BinaryFileRefs,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	d.ID = r.ID
	d.ClassName = r.ClassName
	d.CreatedAt = r.CreatedAt.UTC()
	d.PropertyGroups = r.PropertyGroups
	if d.PropertyGroups == nil {
		d.PropertyGroups = make(map[string]Object)
	}
	d.Dependencies = r.Dependencies
	d.BinaryFileRefs = r.BinaryFileRefs
	return nil
}
