// Package schema validates documents against per-class CUE definitions.
//
// A schema directory holds CUE files declaring a top-level `classes` struct.
// Each entry constrains the property groups of documents carrying that class
// name and may list required dependency names:
//
//	classes: machine: {
//		groups: {
//			app: {
//				os:    "linux" | "darwin" | "windows"
//				cores: int & >0
//			}
//		}
//		dependencies: ["parent_rack"]
//	}
//
// Validation unifies a document's property groups with the class constraints
// and collects every violation with its field path, so a caller can surface
// all problems in one pass.
package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/vellum-db/vellum/internal/doc"
)

// ValidationError is one schema violation, tied to the offending document
// and field.
type ValidationError struct {
	DocumentID string
	ClassName  string
	Field      string
	Rule       string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("document %q (class %q): %s", e.DocumentID, e.ClassName, e.Rule)
	}
	return fmt.Sprintf("document %q (class %q): field %s: %s", e.DocumentID, e.ClassName, e.Field, e.Rule)
}

// Registry holds the compiled class schemas.
type Registry struct {
	ctx     *cue.Context
	classes map[string]cue.Value
}

// Load compiles every CUE file in dir into a Registry. A directory with no
// `classes` declaration yields an empty registry, which validates nothing.
func Load(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading schemas: %w", inst.Err)
	}

	root := ctx.BuildInstance(inst)
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("building schemas: %w", err)
	}

	r := &Registry{ctx: ctx, classes: make(map[string]cue.Value)}
	classesVal := root.LookupPath(cue.ParsePath("classes"))
	if !classesVal.Exists() {
		return r, nil
	}
	iter, err := classesVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("reading classes: %w", err)
	}
	for iter.Next() {
		r.classes[iter.Selector().Unquoted()] = iter.Value()
	}
	return r, nil
}

// Has reports whether a schema is registered for the class.
func (r *Registry) Has(className string) bool {
	_, ok := r.classes[className]
	return ok
}

// Classes returns the number of registered class schemas.
func (r *Registry) Classes() int {
	return len(r.classes)
}

// Validate checks one document against its class schema and returns every
// violation found. A document whose class has no registered schema fails
// with a single unknown-class violation.
func (r *Registry) Validate(d *doc.Document) []*ValidationError {
	class, ok := r.classes[d.ClassName]
	if !ok {
		return []*ValidationError{{
			DocumentID: d.ID,
			ClassName:  d.ClassName,
			Rule:       "no schema registered for class",
		}}
	}

	var out []*ValidationError

	groupsSchema := class.LookupPath(cue.ParsePath("groups"))
	if groupsSchema.Exists() {
		groups := make(map[string]any, len(d.PropertyGroups))
		for name, group := range d.PropertyGroups {
			groups[name] = doc.ToGo(group)
		}
		unified := groupsSchema.Unify(r.ctx.Encode(groups))
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			for _, e := range cueerrors.Errors(err) {
				out = append(out, &ValidationError{
					DocumentID: d.ID,
					ClassName:  d.ClassName,
					Field:      cueErrorField(e),
					Rule:       e.Error(),
				})
			}
		}
	}

	out = append(out, r.missingDependencies(d, class)...)
	return out
}

// missingDependencies checks that every dependency name the class declares
// is carried by the document.
func (r *Registry) missingDependencies(d *doc.Document, class cue.Value) []*ValidationError {
	depsVal := class.LookupPath(cue.ParsePath("dependencies"))
	if !depsVal.Exists() {
		return nil
	}
	iter, err := depsVal.List()
	if err != nil {
		return []*ValidationError{{
			DocumentID: d.ID,
			ClassName:  d.ClassName,
			Field:      "dependencies",
			Rule:       fmt.Sprintf("schema dependencies must be a list: %v", err),
		}}
	}

	declared := make(map[string]bool, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		declared[dep.Name] = true
	}

	var out []*ValidationError
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			out = append(out, &ValidationError{
				DocumentID: d.ID,
				ClassName:  d.ClassName,
				Field:      "dependencies",
				Rule:       fmt.Sprintf("schema dependency name must be a string: %v", err),
			})
			continue
		}
		if !declared[name] {
			out = append(out, &ValidationError{
				DocumentID: d.ID,
				ClassName:  d.ClassName,
				Field:      "dependencies",
				Rule:       fmt.Sprintf("missing required dependency %q", name),
			})
		}
	}
	return out
}

func cueErrorField(err cueerrors.Error) string {
	path := err.Path()
	if len(path) == 0 {
		return ""
	}
	out := path[0]
	for _, seg := range path[1:] {
		out += "." + seg
	}
	return out
}
