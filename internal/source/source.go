// Package source locates and parses module sources and serves their
// abstract forms to the rest of the engine. Parsing is behind the
// Parser interface; a reference parser for the supported grammar is
// bundled.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"retrace/internal/ast"
	"retrace/internal/logging"
)

// ErrNotFound reports that no source file for a module could be
// located in the configured directories.
type ErrNotFound struct {
	Module string
	Dirs   []string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no source for module %s in %v", e.Module, e.Dirs)
}

// Index caches parsed modules and answers form lookups. Reads dominate
// once a run is going; parsing happens at most once per module until
// the entry is invalidated.
type Index struct {
	dirs   []string
	parser Parser

	mu    sync.RWMutex
	cache map[string]*Module
}

// NewIndex creates an index over the given source directories.
func NewIndex(dirs []string, parser Parser) *Index {
	return &Index{
		dirs:   dirs,
		parser: parser,
		cache:  make(map[string]*Module),
	}
}

// Locate finds the source file for a module by name.
func (x *Index) Locate(module string) (string, error) {
	for _, d := range x.dirs {
		p := filepath.Join(d, module+".erl")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", &ErrNotFound{Module: module, Dirs: x.dirs}
}

// Module returns the parsed module, from cache when possible.
func (x *Index) Module(module string) (*Module, error) {
	x.mu.RLock()
	m, ok := x.cache[module]
	x.mu.RUnlock()
	if ok {
		return m, nil
	}

	path, err := x.Locate(module)
	if err != nil {
		return nil, err
	}
	t := logging.StartTimer(logging.CategorySource, "parse "+module)
	m, err = x.parser.ParseModule(path)
	t.Stop()
	if err != nil {
		return nil, err
	}
	if m.Name == "" {
		m.Name = module
	}

	x.mu.Lock()
	x.cache[module] = m
	x.mu.Unlock()
	logging.SourceDebug("indexed module %s: %d functions, %d records", module, len(m.Functions), len(m.Records))
	return m, nil
}

// Invalidate drops the cached parse of a module.
func (x *Index) Invalidate(module string) {
	x.mu.Lock()
	delete(x.cache, module)
	x.mu.Unlock()
}

// FuncForm returns the abstract form of module:function/arity.
func (x *Index) FuncForm(module, function string, arity int) (*ast.FuncDecl, error) {
	m, err := x.Module(module)
	if err != nil {
		return nil, err
	}
	for _, fd := range m.Functions {
		if fd.Name == function && fd.Arity == arity {
			return fd, nil
		}
	}
	return nil, fmt.Errorf("function %s:%s/%d not found", module, function, arity)
}

// FuncAt resolves a source line to the function containing it: the
// function with the greatest starting line at or before the line.
func (x *Index) FuncAt(module string, line int) (*ast.FuncDecl, error) {
	m, err := x.Module(module)
	if err != nil {
		return nil, err
	}
	var hit *ast.FuncDecl
	for _, fd := range m.Functions {
		if fd.Line <= line && (hit == nil || fd.Line > hit.Line) {
			hit = fd
		}
	}
	if hit == nil {
		return nil, fmt.Errorf("no function in %s covers line %d", module, line)
	}
	return hit, nil
}

// RecordDecls returns the record declarations of a module.
func (x *Index) RecordDecls(module string) ([]*RecordDecl, error) {
	m, err := x.Module(module)
	if err != nil {
		return nil, err
	}
	return m.Records, nil
}
