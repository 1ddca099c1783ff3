// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
	"github.com/raceaudit/raceaudit/internal/analysis/source"
)

// pythonLockPrimitive maps a constructor name (tail component, so both
// "Lock" and "threading.Lock" match) to a lock primitive.
func pythonLockPrimitive(callee string) (LockPrimitive, bool) {
	switch tailComponent(callee) {
	case "Lock":
		return Mutex, true
	case "RLock":
		return ReentrantMutex, true
	case "Semaphore":
		return Semaphore, true
	case "BoundedSemaphore":
		return BoundedSemaphore, true
	case "Condition":
		return Condition, true
	case "Event":
		return Event, true
	case "Barrier":
		return Barrier, true
	default:
		return PrimitiveUnknown, false
	}
}

// pyBuiltins are names never worth recording as accesses.
var pyBuiltins = map[string]bool{
	"self": true, "cls": true, "_": true,
	"print": true, "len": true, "range": true, "enumerate": true,
	"isinstance": true, "issubclass": true, "super": true, "type": true,
	"int": true, "float": true, "str": true, "bool": true, "bytes": true,
	"list": true, "dict": true, "set": true, "tuple": true, "frozenset": true,
	"min": true, "max": true, "sum": true, "abs": true, "sorted": true,
	"zip": true, "map": true, "filter": true, "open": true, "repr": true,
	"hash": true, "id": true, "getattr": true, "setattr": true, "hasattr": true,
	"Exception": true, "ValueError": true, "TypeError": true, "KeyError": true,
	"RuntimeError": true, "StopIteration": true, "None": true,
}

// pyWalker carries the walk state for one file. A fresh locks stack is
// used per function body; critical sections are lexical and never cross
// function boundaries.
type pyWalker struct {
	f  *source.File
	fi *FileIndex

	owner     string // enclosing class name, "" at module scope
	funcDepth int
	inInit    bool
	locks     lockStack

	// knownLocks holds names assigned from a recognized lock constructor
	// anywhere in the file, so `with l:` is treated as a guard even when
	// the name itself does not look lock-like.
	knownLocks map[string]bool
}

func (AccessIndexer) indexPython(f *source.File, fi *FileIndex) {
	w := &pyWalker{f: f, fi: fi, knownLocks: collectPythonLockNames(f)}
	w.walk(f.Root())
}

// collectPythonLockNames pre-scans for assignments whose right side is a
// recognized lock constructor and returns the assigned names.
func collectPythonLockNames(f *source.File) map[string]bool {
	names := make(map[string]bool)
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "assignment" {
			right := n.ChildByFieldName("right")
			if right != nil && right.Type() == "call" {
				if fn := right.ChildByFieldName("function"); fn != nil {
					if _, ok := pythonLockPrimitive(fn.Content(f.Source)); ok {
						if left := n.ChildByFieldName("left"); left != nil {
							if subj, ok := resolvePySubject(left, f.Source); ok {
								names[subj] = true
								names[tailComponent(subj)] = true
							}
						}
					}
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(f.Root())
	return names
}

func (w *pyWalker) lockish(name string) bool {
	return lockishName(name) || w.knownLocks[name] || w.knownLocks[tailComponent(name)]
}

func (w *pyWalker) walk(n *sitter.Node) {
	switch n.Type() {
	case "comment", "string", "integer", "float", "true", "false", "none",
		"import_statement", "import_from_statement", "global_statement",
		"nonlocal_statement", "pass_statement", "ellipsis":
		return

	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			w.walk(def)
		}

	case "class_definition":
		w.walkClass(n)

	case "function_definition":
		w.walkFunction(n)

	case "with_statement":
		w.walkWith(n)

	case "assignment":
		w.walkAssignment(n, access.Write)

	case "augmented_assignment":
		w.walkAssignment(n, access.ReadWrite)

	case "delete_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.recordTarget(n.NamedChild(i), access.Write)
		}

	case "for_statement":
		if left := n.ChildByFieldName("left"); left != nil {
			w.recordTarget(left, access.Write)
		}
		if right := n.ChildByFieldName("right"); right != nil {
			w.walk(right)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			w.walk(body)
		}

	case "call":
		w.walkCall(n)

	case "keyword_argument":
		// Skip the parameter name; only the value is an access.
		if v := n.ChildByFieldName("value"); v != nil {
			w.walk(v)
		}

	case "identifier":
		w.recordSubject(n, access.Read)

	case "attribute", "subscript":
		w.recordSubject(n, access.Read)
		if n.Type() == "subscript" {
			if sub := n.ChildByFieldName("subscript"); sub != nil {
				w.walk(sub)
			}
		}

	default:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.walk(n.NamedChild(i))
		}
	}
}

// walkClass records class-body assignments as class-field bindings and
// descends into methods with the owner set.
func (w *pyWalker) walkClass(n *sitter.Node) {
	name := ""
	if nn := n.ChildByFieldName("name"); nn != nil {
		name = nn.Content(w.f.Source)
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}

	prevOwner := w.owner
	w.owner = name
	for i := 0; i < int(body.NamedChildCount()); i++ {
		w.walk(body.NamedChild(i))
	}
	w.owner = prevOwner
}

// walkFunction walks a function body with a fresh lock stack.
func (w *pyWalker) walkFunction(n *sitter.Node) {
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	name := ""
	if nn := n.ChildByFieldName("name"); nn != nil {
		name = nn.Content(w.f.Source)
	}

	prevDepth, prevInit, prevLocks := w.funcDepth, w.inInit, w.locks
	w.funcDepth++
	w.inInit = name == "__init__" && w.owner != ""
	w.locks = lockStack{}
	w.walk(body)
	w.funcDepth, w.inInit, w.locks = prevDepth, prevInit, prevLocks
}

// walkWith enters a critical section per lock-like with item. Non-lock
// items (file handles and the like) are walked as ordinary expressions.
func (w *pyWalker) walkWith(n *sitter.Node) {
	pushed := 0
	var body *sitter.Node

	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "with_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				item := child.NamedChild(j)
				if item.Type() != "with_item" {
					continue
				}
				value := item.ChildByFieldName("value")
				if value == nil {
					continue
				}
				expr := value
				if expr.Type() == "as_pattern" && expr.NamedChildCount() > 0 {
					expr = expr.NamedChild(0)
				}
				subj, ok := resolvePySubject(expr, w.f.Source)
				if ok && w.lockish(subj) {
					// The guard expression reads the lock in the
					// enclosing context before acquiring it.
					w.record(subj, access.Read, expr)
					w.locks.push(subj)
					pushed++
					continue
				}
				w.walk(value)
			}
		case "block":
			body = child
		}
	}

	if body != nil {
		w.walk(body)
	}
	for ; pushed > 0; pushed-- {
		w.locks.pop()
	}
}

func (w *pyWalker) walkAssignment(n *sitter.Node, kind access.Kind) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")

	if w.funcDepth == 0 {
		// Module or class body: declarations, not accesses.
		if left != nil && kind == access.Write {
			w.bindTargets(left, right)
		}
		if right != nil {
			// Still descend: a module-level lambda or comprehension can
			// contain function bodies, though accesses outside functions
			// are not recorded.
			w.walk(right)
		}
		return
	}

	if left != nil {
		w.recordTarget(left, kind)
		// Instance attributes assigned in __init__ declare class fields.
		if w.inInit && kind == access.Write {
			w.bindInitAttribute(left, right)
		}
	}
	if right != nil {
		w.walk(right)
	}
}

func (w *pyWalker) walkCall(n *sitter.Node) {
	if fn := n.ChildByFieldName("function"); fn != nil {
		if subj, ok := resolvePySubject(fn, w.f.Source); ok {
			if isThreadCreation(subj) {
				w.fi.HasSyncEvidence = true
			}
			w.record(subj, access.Read, fn)
		} else {
			// Call on an opaque expression; arguments still walked.
			w.walk(fn)
		}
	}
	if args := n.ChildByFieldName("arguments"); args != nil {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			w.walk(args.NamedChild(i))
		}
	}
}

// isThreadCreation recognizes thread construction call names.
func isThreadCreation(subject string) bool {
	switch tailComponent(subject) {
	case "Thread", "Timer", "Process", "ThreadPoolExecutor",
		"ProcessPoolExecutor", "start_new_thread":
		return true
	}
	return strings.HasPrefix(subject, "threading.") ||
		strings.HasPrefix(subject, "multiprocessing.") ||
		strings.HasPrefix(subject, "concurrent.futures.")
}

// recordTarget records an assignment target. Container element writes
// (d[k] = v) count as writes on the container.
func (w *pyWalker) recordTarget(t *sitter.Node, kind access.Kind) {
	switch t.Type() {
	case "identifier", "attribute":
		w.recordSubject(t, kind)
	case "subscript":
		w.recordSubject(t, kind)
		if sub := t.ChildByFieldName("subscript"); sub != nil {
			w.walk(sub)
		}
	case "pattern_list", "tuple_pattern", "list_pattern":
		for i := 0; i < int(t.NamedChildCount()); i++ {
			w.recordTarget(t.NamedChild(i), kind)
		}
	case "parenthesized_expression":
		if t.NamedChildCount() > 0 {
			w.recordTarget(t.NamedChild(0), kind)
		}
	default:
		w.fi.Dropped++
	}
}

// recordSubject resolves a node to a subject and records an access,
// counting unresolvable subjects instead of failing.
func (w *pyWalker) recordSubject(n *sitter.Node, kind access.Kind) {
	subj, ok := resolvePySubject(n, w.f.Source)
	if !ok {
		w.fi.Dropped++
		return
	}
	w.record(subj, kind, n)
}

func (w *pyWalker) record(subject string, kind access.Kind, n *sitter.Node) {
	if w.funcDepth == 0 || pyBuiltins[subject] {
		return
	}
	w.fi.Accesses = append(w.fi.Accesses, access.Access{
		Subject:       subject,
		Kind:          kind,
		Location:      locationOf(w.fi.Path, n),
		InLockContext: w.locks.depth() > 0,
		LockName:      w.locks.current(),
		InInitializer: w.inInit,
	})
}

// bindTargets records module-global or class-field bindings for a
// module/class body assignment.
func (w *pyWalker) bindTargets(left, right *sitter.Node) {
	switch left.Type() {
	case "identifier":
		w.bind(left.Content(w.f.Source), left, right)
	case "pattern_list", "tuple_pattern":
		for i := 0; i < int(left.NamedChildCount()); i++ {
			t := left.NamedChild(i)
			if t.Type() == "identifier" {
				w.bind(t.Content(w.f.Source), t, nil)
			}
		}
	}
}

// bindInitAttribute records `self.x = ...` in __init__ as a class field.
func (w *pyWalker) bindInitAttribute(left, right *sitter.Node) {
	targets := []*sitter.Node{left}
	if left.Type() == "pattern_list" || left.Type() == "tuple_pattern" {
		targets = targets[:0]
		for i := 0; i < int(left.NamedChildCount()); i++ {
			targets = append(targets, left.NamedChild(i))
		}
	}
	for _, t := range targets {
		if t.Type() != "attribute" {
			continue
		}
		obj := t.ChildByFieldName("object")
		attr := t.ChildByFieldName("attribute")
		if obj == nil || attr == nil || obj.Type() != "identifier" {
			continue
		}
		if obj.Content(w.f.Source) != "self" {
			continue
		}
		w.bind(attr.Content(w.f.Source), t, right)
	}
}

func (w *pyWalker) bind(name string, at, right *sitter.Node) {
	shape, typeName := pyShapeOf(right, w.f.Source)
	b := Binding{
		Name:     name,
		DeclKind: DeclModuleGlobal,
		Shape:    shape,
		TypeName: typeName,
		Location: locationOf(w.fi.Path, at),
	}
	if w.owner != "" {
		b.DeclKind = DeclClassField
		b.OwningType = w.owner
		b.QualifiedName = w.owner + "." + name
	} else {
		b.QualifiedName = moduleQualifier(w.fi.Path) + "." + name
	}
	w.fi.Bindings = append(w.fi.Bindings, b)
}

// moduleQualifier derives a module name from the file path, mirroring how
// Python modules are addressed ("pkg/cache.py" -> "cache").
func moduleQualifier(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

// pyShapeOf infers the value shape from the right-hand side of a binding.
func pyShapeOf(rhs *sitter.Node, src []byte) (Shape, string) {
	if rhs == nil {
		return ShapeUnknown, ""
	}
	switch rhs.Type() {
	case "dictionary", "dictionary_comprehension":
		return ShapeMap, ""
	case "list", "list_comprehension", "tuple":
		return ShapeSequence, ""
	case "set", "set_comprehension":
		return ShapeSet, ""
	case "integer", "float", "string", "true", "false", "none",
		"unary_operator":
		return ShapeScalar, ""
	case "call":
		fn := rhs.ChildByFieldName("function")
		if fn == nil {
			return ShapeUnknown, ""
		}
		callee := fn.Content(src)
		switch tailComponent(callee) {
		case "dict", "defaultdict", "OrderedDict", "Counter":
			return ShapeMap, callee
		case "list", "deque":
			return ShapeSequence, callee
		case "set", "frozenset":
			return ShapeSet, callee
		case "int", "float", "str", "bool":
			return ShapeScalar, callee
		default:
			return ShapeUnknown, callee
		}
	default:
		return ShapeUnknown, ""
	}
}

// resolvePySubject reduces an expression to a dotted subject path.
// Returns false for expressions with no stable identity, such as the
// result of a call.
func resolvePySubject(n *sitter.Node, src []byte) (string, bool) {
	switch n.Type() {
	case "identifier":
		return n.Content(src), true
	case "attribute":
		obj := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return "", false
		}
		base, ok := resolvePySubject(obj, src)
		if !ok {
			return "", false
		}
		return base + "." + attr.Content(src), true
	case "subscript":
		if v := n.ChildByFieldName("value"); v != nil {
			return resolvePySubject(v, src)
		}
		return "", false
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return resolvePySubject(n.NamedChild(0), src)
		}
		return "", false
	case "as_pattern":
		if n.NamedChildCount() > 0 {
			return resolvePySubject(n.NamedChild(0), src)
		}
		return "", false
	default:
		return "", false
	}
}

// lockScopeWalker tracks enough context to assign scopes to handles.
type pyLockWalker struct {
	f  *source.File
	fi *FileIndex

	owner     string
	funcDepth int
	seen      map[string]bool
}

func (LockIndexer) indexPythonLocks(f *source.File, fi *FileIndex) {
	w := &pyLockWalker{f: f, fi: fi, seen: make(map[string]bool)}
	w.walk(f.Root())
}

func (w *pyLockWalker) walk(n *sitter.Node) {
	switch n.Type() {
	case "class_definition":
		prev := w.owner
		if nn := n.ChildByFieldName("name"); nn != nil {
			w.owner = nn.Content(w.f.Source)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			w.walk(body)
		}
		w.owner = prev
		return

	case "function_definition":
		w.funcDepth++
		if body := n.ChildByFieldName("body"); body != nil {
			w.walk(body)
		}
		w.funcDepth--
		return

	case "assignment":
		w.maybeLockConstruction(n)

	case "with_statement":
		w.maybeNamedGuards(n)
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i))
	}
}

// maybeLockConstruction records a handle for `x = threading.Lock()` style
// assignments. Unknown constructor names are ignored, never flagged.
func (w *pyLockWalker) maybeLockConstruction(n *sitter.Node) {
	right := n.ChildByFieldName("right")
	left := n.ChildByFieldName("left")
	if right == nil || left == nil || right.Type() != "call" {
		return
	}
	fn := right.ChildByFieldName("function")
	if fn == nil {
		return
	}
	prim, ok := pythonLockPrimitive(fn.Content(w.f.Source))
	if !ok {
		return
	}
	subj, ok := resolvePySubject(left, w.f.Source)
	if !ok || w.seen[subj] {
		return
	}
	w.seen[subj] = true
	w.fi.Locks = append(w.fi.Locks, LockHandle{
		Name:      subj,
		Primitive: prim,
		Scope:     w.scopeFor(subj),
		Location:  locationOf(w.fi.Path, n),
	})
}

// maybeNamedGuards records pattern-matched guards whose declared type was
// never observed.
func (w *pyLockWalker) maybeNamedGuards(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause.Type() != "with_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			item := clause.NamedChild(j)
			if item.Type() != "with_item" {
				continue
			}
			value := item.ChildByFieldName("value")
			if value == nil {
				continue
			}
			subj, ok := resolvePySubject(value, w.f.Source)
			if !ok || !lockishName(subj) || w.seen[subj] {
				continue
			}
			w.seen[subj] = true
			w.fi.Locks = append(w.fi.Locks, LockHandle{
				Name:      subj,
				Primitive: PrimitiveUnknown,
				Scope:     w.scopeFor(subj),
				Location:  locationOf(w.fi.Path, item),
			})
		}
	}
}

func (w *pyLockWalker) scopeFor(subject string) LockScope {
	if strings.HasPrefix(subject, "self.") {
		return ScopeInstance
	}
	if w.funcDepth > 0 {
		return ScopeLocal
	}
	if w.owner != "" {
		return ScopeClass
	}
	return ScopeModule
}
