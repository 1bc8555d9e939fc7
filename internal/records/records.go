// Package records caches record definitions: the ordered field layout
// behind each record name. Records are pure syntactic sugar over
// positional tuples, so the substitution engine needs these layouts to
// expand record syntax. Definitions are loaded lazily per module and
// survive across runs until explicitly forgotten.
package records

import (
	"errors"
	"sort"
	"sync"

	"retrace/internal/ast"
	"retrace/internal/logging"
	"retrace/internal/source"
)

// ErrNotFound is returned by Forget for an unknown record name.
var ErrNotFound = errors.New("record not found")

// Field is one record field with its declared default (nil when the
// declaration gives none).
type Field struct {
	Name    string
	Default ast.Expr
}

// Definition is the field layout of one record.
type Definition struct {
	Name   string
	Fields []Field
}

// Index locates definitions in the record's declared positional tuple:
// element 1 is the record name atom, fields start at element 2.
func (d *Definition) Index(field string) (int, bool) {
	for i, f := range d.Fields {
		if f.Name == field {
			return i + 2, true
		}
	}
	return 0, false
}

// Decls is the slice of a module's record declarations the store loads
// from.
type Decls interface {
	RecordDecls(module string) ([]*source.RecordDecl, error)
}

// Store is the session-wide record definition cache. Reads dominate;
// loads and forgets take the write lock for the duration of the
// mutation.
type Store struct {
	src Decls

	mu      sync.RWMutex
	defs    map[string]*Definition
	origins map[string][]string // module -> record names loaded from it
}

// NewStore creates an empty store reading declarations from src.
func NewStore(src Decls) *Store {
	return &Store{
		src:     src,
		defs:    make(map[string]*Definition),
		origins: make(map[string][]string),
	}
}

// Load parses the module's record declarations and merges them into
// the store, returning the names added or replaced. Definitions are
// inserted in dependency order: a record whose defaults reference
// another record of the same module is inserted after it, since
// expansion of a default requires the referenced layout. Reloading
// never implicitly clears other entries.
func (s *Store) Load(module string) ([]string, error) {
	decls, err := s.src.RecordDecls(module)
	if err != nil {
		return nil, err
	}
	ordered := dependencyOrder(decls)

	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	for _, d := range ordered {
		def := &Definition{Name: d.Name}
		for _, f := range d.Fields {
			def.Fields = append(def.Fields, Field{Name: f.Name, Default: f.Default})
		}
		s.defs[d.Name] = def
		added = append(added, d.Name)
	}
	s.origins[module] = added
	logging.Records("loaded %d record definition(s) from %s", len(added), module)
	return added, nil
}

// Lookup returns the definition for a record name.
func (s *Store) Lookup(name string) (*Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defs[name]
	return d, ok
}

// List returns all stored record names, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.defs))
	for n := range s.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Forget removes one record definition by name.
func (s *Store) Forget(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[name]; !ok {
		return ErrNotFound
	}
	delete(s.defs, name)
	logging.Records("forgot record %s", name)
	return nil
}

// ForgetAll clears the store.
func (s *Store) ForgetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = make(map[string]*Definition)
	s.origins = make(map[string][]string)
	logging.Records("forgot all records")
}

// ForgetModule removes every definition previously loaded from a
// module. Used by the watcher when the module's source changes.
func (s *Store) ForgetModule(module string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := s.origins[module]
	for _, n := range names {
		delete(s.defs, n)
	}
	delete(s.origins, module)
	return len(names)
}

// dependencyOrder sorts declarations so that any record referenced by
// another record's field defaults comes first. Unrelated records keep
// declaration order; reference cycles fall back to declaration order
// for the remainder.
func dependencyOrder(decls []*source.RecordDecl) []*source.RecordDecl {
	index := make(map[string]*source.RecordDecl, len(decls))
	for _, d := range decls {
		index[d.Name] = d
	}

	var out []*source.RecordDecl
	state := make(map[string]int) // 0 unseen, 1 visiting, 2 done
	var visit func(d *source.RecordDecl)
	visit = func(d *source.RecordDecl) {
		if state[d.Name] != 0 {
			return
		}
		state[d.Name] = 1
		for _, ref := range referenced(d) {
			if dep, ok := index[ref]; ok && state[dep.Name] == 0 {
				visit(dep)
			}
		}
		state[d.Name] = 2
		out = append(out, d)
	}
	for _, d := range decls {
		visit(d)
	}
	return out
}

// referenced collects the record names appearing in a declaration's
// field defaults.
func referenced(d *source.RecordDecl) []string {
	seen := make(map[string]bool)
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		switch v := e.(type) {
		case nil:
		case *ast.Record:
			seen[v.Name] = true
			if v.Base != nil {
				walk(v.Base)
			}
			for _, f := range v.Fields {
				walk(f.Value)
			}
		case *ast.RecordAccess:
			seen[v.Name] = true
			walk(v.Rec)
		case *ast.RecordIndex:
			seen[v.Name] = true
		case *ast.Cons:
			walk(v.Head)
			walk(v.Tail)
		case *ast.Tuple:
			for _, el := range v.Elems {
				walk(el)
			}
		case *ast.BinOp:
			walk(v.Left)
			walk(v.Right)
		case *ast.UnOp:
			walk(v.Operand)
		case *ast.Call:
			for _, a := range v.Args {
				walk(a)
			}
		}
	}
	for _, f := range d.Fields {
		walk(f.Default)
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
