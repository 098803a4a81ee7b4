// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package funcs implements the function broker (spec.md §4.2): named,
// pure, schema-validated function libraries plus the import-resolution
// rules a document's call sites are checked against.
package funcs

import (
	"fmt"

	"github.com/agnivade/levenshtein"

	"github.com/saplcore/pdp/value"
)

// Function is one pure, schema-checked function. Evaluate must be a
// deterministic function of Args (spec.md §4.2: "same inputs -> same
// output").
type Function struct {
	Name     string
	Arity    int  // -1 means variadic
	TypeHint []value.Kind // optional; len may be < Arity, extra args unchecked
	Evaluate func(args []value.Value) value.Value
}

// Library is a named set of Functions, e.g. "simple" providing
// simple.length, simple.echo.
type Library struct {
	Name      string
	Functions map[string]*Function
}

// Registry is the immutable, process-wide catalogue of Libraries. Build one
// with NewRegistry and Register calls, then treat it as read-only — shared
// safely across concurrent evaluations, mirroring the teacher's immutable
// compiled-document convention (spec.md §5).
type Registry struct {
	libraries map[string]*Library
}

func NewRegistry() *Registry {
	return &Registry{libraries: map[string]*Library{}}
}

// Register adds fn to the named library, creating the library if absent.
// Registering the same (library, name) pair twice overwrites — callers
// assemble the registry once at startup, before any evaluation begins.
func (r *Registry) Register(library string, fn *Function) {
	lib, ok := r.libraries[library]
	if !ok {
		lib = &Library{Name: library, Functions: map[string]*Function{}}
		r.libraries[library] = lib
	}
	lib.Functions[fn.Name] = fn
}

func (r *Registry) lookup(library, name string) (*Function, bool) {
	lib, ok := r.libraries[library]
	if !ok {
		return nil, false
	}
	fn, ok := lib.Functions[name]
	return fn, ok
}

// Scope resolves call-site names to (library, function) pairs per the
// import precedence of spec.md §4.2: (1) alias, (2) fully-qualified
// `lib.fn`, (3) wildcard, (4) single-function import. A Scope is built once
// per document at compile time by the policy compiler.
type Scope struct {
	registry  *Registry
	aliases   map[string]string            // alias -> library
	wildcards map[string]string            // short name -> library (from import lib.*)
	singles   map[string]string            // short name -> library (from import lib.fn)
	Conflict  bool                         // true if duplicate imports were detected
	ConflictMsg string
}

// NewScope builds a Scope from a document's import list. Duplicate aliases,
// overlapping wildcard imports, or re-imported single functions set
// Conflict=true (spec.md §4.2: "the compiler records the conflict but does
// not fail at parse" — evaluation-time calls against a conflicted scope
// always evaluate to Error, see Call).
func NewScope(registry *Registry, imports []ImportLike) *Scope {
	s := &Scope{
		registry: registry, aliases: map[string]string{},
		wildcards: map[string]string{}, singles: map[string]string{},
	}
	for _, im := range imports {
		switch im.Kind() {
		case ImportAlias:
			if _, dup := s.aliases[im.Alias()]; dup {
				s.markConflict(fmt.Sprintf("duplicate alias %q", im.Alias()))
				continue
			}
			s.aliases[im.Alias()] = im.Library()
		case ImportWildcard:
			lib, ok := registry.libraries[im.Library()]
			if !ok {
				continue
			}
			for short := range lib.Functions {
				if owner, dup := s.wildcards[short]; dup && owner != im.Library() {
					s.markConflict(fmt.Sprintf("wildcard import collision on %q between %q and %q", short, owner, im.Library()))
					continue
				}
				s.wildcards[short] = im.Library()
			}
		case ImportSingle:
			if _, dup := s.singles[im.Fn()]; dup {
				s.markConflict(fmt.Sprintf("duplicate single-function import %q", im.Fn()))
				continue
			}
			s.singles[im.Fn()] = im.Library()
		case ImportQualified:
			// No binding introduced; lib.fn used directly at call sites.
		}
	}
	return s
}

func (s *Scope) markConflict(msg string) {
	s.Conflict = true
	if s.ConflictMsg == "" {
		s.ConflictMsg = msg
	}
}

// ImportKindValue mirrors ast.ImportKind without importing the ast package
// (funcs must not depend on ast, to keep the broker usable standalone);
// the policy package adapts ast.Import to ImportLike.
type ImportKindValue int

const (
	ImportAlias ImportKindValue = iota
	ImportQualified
	ImportWildcard
	ImportSingle
)

// ImportLike is the minimal view of ast.Import that funcs needs, letting
// this package stay independent of the ast package (the policy package
// adapts ast.Import to ImportLike).
type ImportLike interface {
	Kind() ImportKindValue
	Library() string
	Fn() string
	Alias() string
}

// Resolve finds the (library, function) a bare or dotted call-site name
// refers to, per precedence order. name may be "alias.fn", "lib.fn", or a
// bare short name bound by a wildcard/single import.
func (s *Scope) Resolve(name string) (*Function, bool) {
	if s.Conflict {
		return nil, false
	}
	if lib, fn, ok := splitQualified(name); ok {
		if realLib, ok := s.aliases[lib]; ok {
			return s.registry.lookup(realLib, fn)
		}
		return s.registry.lookup(lib, fn)
	}
	if lib, ok := s.wildcards[name]; ok {
		return s.registry.lookup(lib, name)
	}
	if lib, ok := s.singles[name]; ok {
		return s.registry.lookup(lib, name)
	}
	return nil, false
}

func splitQualified(name string) (lib, fn string, ok bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}

// Call resolves and invokes a function call. A conflicted Scope, an unbound
// name, an arity mismatch, or a type-hint mismatch all yield a
// value.Error — nothing panics and nothing escapes as a Go error (spec.md
// §7: "evaluation errors never escape the core").
func (s *Scope) Call(name string, args []value.Value) value.Value {
	if s.Conflict {
		return value.Errorf("import conflict: %s", s.ConflictMsg)
	}
	for _, a := range args {
		if a.IsError() {
			return a
		}
	}
	fn, ok := s.Resolve(name)
	if !ok {
		return value.Errorf("unbound function %q%s", name, s.suggest(name))
	}
	if fn.Arity >= 0 && len(args) != fn.Arity {
		return value.Errorf("arity mismatch: %s expects %d argument(s), got %d", name, fn.Arity, len(args))
	}
	for i, hint := range fn.TypeHint {
		if i >= len(args) {
			break
		}
		if args[i].Kind() != hint {
			return value.Errorf("type mismatch: argument %d of %s must be %s, got %s", i+1, name, hint, args[i].Kind())
		}
	}
	return fn.Evaluate(args)
}

// suggest returns a " (did you mean ...?)" hint using Levenshtein distance
// over every registered function's fully-qualified name, mirroring the
// teacher's internal/compile use of internal/levenshtein for unresolved
// rule-name suggestions.
func (s *Scope) suggest(name string) string {
	best := ""
	bestDist := 1 << 30
	for libName, lib := range s.registry.libraries {
		for fnName := range lib.Functions {
			full := libName + "." + fnName
			d := levenshtein.ComputeDistance(name, full)
			if d < bestDist {
				bestDist, best = d, full
			}
		}
	}
	if best == "" || bestDist > 6 {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}