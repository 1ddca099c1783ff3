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

// goLockPrimitive maps a declared Go type to a lock primitive. RWMutex is
// reported as a plain mutex; the analysis does not model reader/writer
// distinctions.
func goLockPrimitive(typeName string) (LockPrimitive, bool) {
	switch strings.TrimPrefix(typeName, "*") {
	case "sync.Mutex":
		return Mutex, true
	case "sync.RWMutex":
		return Mutex, true
	case "sync.Cond":
		return Condition, true
	case "sync.WaitGroup":
		return Barrier, true
	case "semaphore.Weighted":
		return Semaphore, true
	default:
		return PrimitiveUnknown, false
	}
}

var goBuiltins = map[string]bool{
	"_": true, "nil": true, "true": true, "false": true, "iota": true,
	"append": true, "len": true, "cap": true, "make": true, "new": true,
	"copy": true, "delete": true, "close": true, "panic": true,
	"recover": true, "print": true, "println": true, "min": true,
	"max": true, "clear": true,
}

// goCompoundOps are assignment operator tokens that read before writing.
var goCompoundOps = map[string]bool{
	"+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
	"&^=": true,
}

type goWalker struct {
	f  *source.File
	fi *FileIndex

	pkg       string
	funcDepth int
	inInit    bool
	locks     lockStack
}

func (AccessIndexer) indexGo(f *source.File, fi *FileIndex) {
	w := &goWalker{f: f, fi: fi}
	root := f.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		w.walkTop(root.NamedChild(i))
	}
}

func (w *goWalker) walkTop(n *sitter.Node) {
	switch n.Type() {
	case "package_clause":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "package_identifier" {
				w.pkg = c.Content(w.f.Source)
			}
		}

	case "var_declaration":
		w.bindVarSpecs(n)

	case "type_declaration":
		w.bindStructFields(n)

	case "function_declaration", "method_declaration":
		w.walkFunction(n)
	}
}

// varSpecsOf collects the var_spec nodes of a declaration. A grouped
// `var ( ... )` block nests them under an intermediate var_spec_list node;
// a single-spec declaration holds the var_spec directly.
func varSpecsOf(decl *sitter.Node) []*sitter.Node {
	var specs []*sitter.Node
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		switch c := decl.NamedChild(i); c.Type() {
		case "var_spec":
			specs = append(specs, c)
		case "var_spec_list":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				if s := c.NamedChild(j); s.Type() == "var_spec" {
					specs = append(specs, s)
				}
			}
		}
	}
	return specs
}

// bindVarSpecs turns package-level var specs into module-global bindings.
// Constants are not bound at all; const_declaration never reaches here.
func (w *goWalker) bindVarSpecs(n *sitter.Node) {
	for _, spec := range varSpecsOf(n) {
		typeName := ""
		typeNode := spec.ChildByFieldName("type")
		valueNode := spec.ChildByFieldName("value")
		if typeNode != nil {
			typeName = typeNode.Content(w.f.Source)
		}
		shape := goShapeOf(typeName, valueNode, w.f.Source)
		for j := 0; j < int(spec.NamedChildCount()); j++ {
			nameNode := spec.NamedChild(j)
			if nameNode.Type() != "identifier" {
				continue
			}
			// The value expression can itself be an identifier; only the
			// name children before type/value are declarations.
			if valueNode != nil && nameNode.StartByte() >= valueNode.StartByte() {
				continue
			}
			if typeNode != nil && nameNode.StartByte() >= typeNode.StartByte() {
				continue
			}
			name := nameNode.Content(w.f.Source)
			w.fi.Bindings = append(w.fi.Bindings, Binding{
				Name:          name,
				QualifiedName: w.qualify(name),
				DeclKind:      DeclModuleGlobal,
				Shape:         shape,
				TypeName:      typeName,
				Location:      locationOf(w.fi.Path, nameNode),
			})
		}
	}
}

// bindStructFields turns struct field declarations into class-field
// bindings owned by the struct type.
func (w *goWalker) bindStructFields(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		spec := n.NamedChild(i)
		if spec.Type() != "type_spec" {
			continue
		}
		typeNameNode := spec.ChildByFieldName("name")
		body := spec.ChildByFieldName("type")
		if typeNameNode == nil || body == nil || body.Type() != "struct_type" {
			continue
		}
		owner := typeNameNode.Content(w.f.Source)
		w.bindFieldList(body, owner)
	}
}

func (w *goWalker) bindFieldList(structType *sitter.Node, owner string) {
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "field_declaration" {
			typeName := ""
			if tn := n.ChildByFieldName("type"); tn != nil {
				typeName = tn.Content(w.f.Source)
			}
			shape := goShapeOf(typeName, nil, w.f.Source)
			for i := 0; i < int(n.NamedChildCount()); i++ {
				fld := n.NamedChild(i)
				if fld.Type() != "field_identifier" {
					continue
				}
				name := fld.Content(w.f.Source)
				w.fi.Bindings = append(w.fi.Bindings, Binding{
					Name:          name,
					QualifiedName: owner + "." + name,
					DeclKind:      DeclClassField,
					OwningType:    owner,
					Shape:         shape,
					TypeName:      typeName,
					Location:      locationOf(w.fi.Path, fld),
				})
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(structType)
}

func (w *goWalker) qualify(name string) string {
	if w.f.ModulePath != "" {
		return w.f.ModulePath + "." + name
	}
	if w.pkg != "" {
		return w.pkg + "." + name
	}
	return name
}

func (w *goWalker) walkFunction(n *sitter.Node) {
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
	w.inInit = name == "init"
	w.locks = lockStack{}
	w.walk(body)
	w.funcDepth, w.inInit, w.locks = prevDepth, prevInit, prevLocks
}

func (w *goWalker) walk(n *sitter.Node) {
	switch n.Type() {
	case "comment", "interpreted_string_literal", "raw_string_literal",
		"int_literal", "float_literal", "rune_literal", "nil", "true",
		"false", "type_identifier", "const_declaration",
		"type_declaration", "import_declaration":
		return

	case "func_literal":
		// Closures get their own lexical lock context.
		prevLocks := w.locks
		w.locks = lockStack{}
		if body := n.ChildByFieldName("body"); body != nil {
			w.walk(body)
		}
		w.locks = prevLocks

	case "go_statement":
		w.fi.HasSyncEvidence = true
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.walk(n.NamedChild(i))
		}

	case "defer_statement":
		w.walkDefer(n)

	case "assignment_statement":
		w.walkAssignment(n)

	case "short_var_declaration":
		// Locals: the left side is a write to fresh names.
		if left := n.ChildByFieldName("left"); left != nil {
			w.recordTargets(left, access.Write)
		}
		if right := n.ChildByFieldName("right"); right != nil {
			w.walk(right)
		}

	case "inc_statement", "dec_statement":
		if n.NamedChildCount() > 0 {
			w.recordSubject(n.NamedChild(0), access.ReadWrite)
		}

	case "call_expression":
		w.walkCall(n)

	case "identifier", "selector_expression", "index_expression":
		w.recordSubject(n, access.Read)
		if n.Type() == "index_expression" {
			if idx := n.ChildByFieldName("index"); idx != nil {
				w.walk(idx)
			}
		}

	case "keyed_element", "literal_element":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.walk(n.NamedChild(i))
		}

	default:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.walk(n.NamedChild(i))
		}
	}
}

// walkDefer handles `defer mu.Unlock()`. A deferred unlock keeps the lock
// held to the end of the enclosing function, which the walker models by
// simply not popping; the per-function stack is discarded when the
// function walk ends.
func (w *goWalker) walkDefer(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "call_expression" {
			if recv, method := w.splitLockCall(child); method == "Unlock" || method == "RUnlock" {
				_ = recv // held until function end
				return
			}
		}
		w.walk(child)
	}
}

// splitLockCall returns the receiver subject and method name for calls of
// the form subject.Method(); method is "" for anything else.
func (w *goWalker) splitLockCall(call *sitter.Node) (string, string) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "selector_expression" {
		return "", ""
	}
	field := fn.ChildByFieldName("field")
	operand := fn.ChildByFieldName("operand")
	if field == nil || operand == nil {
		return "", ""
	}
	recv, ok := resolveGoSubject(operand, w.f.Source)
	if !ok {
		return "", ""
	}
	return recv, field.Content(w.f.Source)
}

func (w *goWalker) walkCall(n *sitter.Node) {
	if recv, method := w.splitLockCall(n); method != "" {
		switch method {
		case "Lock", "RLock":
			w.record(recv, access.Read, n)
			w.locks.push(recv)
			return
		case "Unlock", "RUnlock":
			w.locks.popNamed(recv)
			w.record(recv, access.Read, n)
			return
		}
	}

	if fn := n.ChildByFieldName("function"); fn != nil {
		if subj, ok := resolveGoSubject(fn, w.f.Source); ok {
			w.record(subj, access.Read, fn)
		} else {
			w.walk(fn)
		}
	}
	if args := n.ChildByFieldName("arguments"); args != nil {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			w.walk(args.NamedChild(i))
		}
	}
}

func (w *goWalker) walkAssignment(n *sitter.Node) {
	kind := access.Write
	for i := 0; i < int(n.ChildCount()); i++ {
		if goCompoundOps[n.Child(i).Type()] {
			kind = access.ReadWrite
			break
		}
	}
	if left := n.ChildByFieldName("left"); left != nil {
		w.recordTargets(left, kind)
	}
	if right := n.ChildByFieldName("right"); right != nil {
		w.walk(right)
	}
}

func (w *goWalker) recordTargets(exprList *sitter.Node, kind access.Kind) {
	if exprList.Type() != "expression_list" {
		w.recordTarget(exprList, kind)
		return
	}
	for i := 0; i < int(exprList.NamedChildCount()); i++ {
		w.recordTarget(exprList.NamedChild(i), kind)
	}
}

func (w *goWalker) recordTarget(t *sitter.Node, kind access.Kind) {
	switch t.Type() {
	case "identifier", "selector_expression":
		w.recordSubject(t, kind)
	case "index_expression":
		// Element writes mutate the container.
		w.recordSubject(t, kind)
		if idx := t.ChildByFieldName("index"); idx != nil {
			w.walk(idx)
		}
	case "unary_expression", "parenthesized_expression":
		if t.NamedChildCount() > 0 {
			w.recordTarget(t.NamedChild(0), kind)
		}
	default:
		w.fi.Dropped++
	}
}

func (w *goWalker) recordSubject(n *sitter.Node, kind access.Kind) {
	subj, ok := resolveGoSubject(n, w.f.Source)
	if !ok {
		w.fi.Dropped++
		return
	}
	w.record(subj, kind, n)
}

func (w *goWalker) record(subject string, kind access.Kind, n *sitter.Node) {
	if w.funcDepth == 0 || goBuiltins[subject] {
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

// resolveGoSubject reduces an expression to a dotted subject path, or
// fails for expressions with no stable identity.
func resolveGoSubject(n *sitter.Node, src []byte) (string, bool) {
	switch n.Type() {
	case "identifier", "field_identifier", "package_identifier":
		return n.Content(src), true
	case "selector_expression":
		operand := n.ChildByFieldName("operand")
		field := n.ChildByFieldName("field")
		if operand == nil || field == nil {
			return "", false
		}
		base, ok := resolveGoSubject(operand, src)
		if !ok {
			return "", false
		}
		return base + "." + field.Content(src), true
	case "index_expression":
		if op := n.ChildByFieldName("operand"); op != nil {
			return resolveGoSubject(op, src)
		}
		return "", false
	case "unary_expression", "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return resolveGoSubject(n.NamedChild(0), src)
		}
		return "", false
	default:
		return "", false
	}
}

// goShapeOf infers a value shape from a declared type or initializer.
func goShapeOf(typeName string, value *sitter.Node, src []byte) Shape {
	t := typeName
	if t == "" && value != nil {
		if value.Type() == "composite_literal" {
			if tn := value.ChildByFieldName("type"); tn != nil {
				t = tn.Content(src)
			}
		}
	}
	switch {
	case strings.HasPrefix(t, "map["):
		return ShapeMap
	case strings.HasPrefix(t, "[]") || strings.HasPrefix(t, "["):
		return ShapeSequence
	case t == "int" || t == "int32" || t == "int64" || t == "uint" ||
		t == "uint32" || t == "uint64" || t == "float32" || t == "float64" ||
		t == "bool" || t == "string" || t == "byte" || t == "rune":
		return ShapeScalar
	default:
		return ShapeUnknown
	}
}

// goLockWalker records lock handles for Go files.
type goLockWalker struct {
	f    *source.File
	fi   *FileIndex
	seen map[string]bool
}

func (LockIndexer) indexGoLocks(f *source.File, fi *FileIndex) {
	w := &goLockWalker{f: f, fi: fi, seen: make(map[string]bool)}
	root := f.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		w.walkTop(root.NamedChild(i))
	}
}

func (w *goLockWalker) walkTop(n *sitter.Node) {
	switch n.Type() {
	case "var_declaration":
		for _, spec := range varSpecsOf(n) {
			tn := spec.ChildByFieldName("type")
			if tn == nil {
				continue
			}
			prim, ok := goLockPrimitive(tn.Content(w.f.Source))
			if !ok {
				continue
			}
			for j := 0; j < int(spec.NamedChildCount()); j++ {
				nameNode := spec.NamedChild(j)
				if nameNode.Type() != "identifier" ||
					nameNode.StartByte() >= tn.StartByte() {
					continue
				}
				w.add(nameNode.Content(w.f.Source), prim, ScopeModule, nameNode)
			}
		}

	case "type_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			spec := n.NamedChild(i)
			if spec.Type() != "type_spec" {
				continue
			}
			body := spec.ChildByFieldName("type")
			if body == nil || body.Type() != "struct_type" {
				continue
			}
			w.walkFields(body)
		}

	case "function_declaration", "method_declaration":
		// Guard-by-name recognition for receivers locked inside bodies
		// with no visible declaration.
		if body := n.ChildByFieldName("body"); body != nil {
			w.walkBody(body)
		}
	}
}

func (w *goLockWalker) walkFields(structType *sitter.Node) {
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "field_declaration" {
			tn := n.ChildByFieldName("type")
			if tn != nil {
				if prim, ok := goLockPrimitive(tn.Content(w.f.Source)); ok {
					for i := 0; i < int(n.NamedChildCount()); i++ {
						fld := n.NamedChild(i)
						if fld.Type() == "field_identifier" {
							w.add(fld.Content(w.f.Source), prim, ScopeInstance, fld)
						}
					}
				}
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(structType)
}

func (w *goLockWalker) walkBody(n *sitter.Node) {
	if n.Type() == "call_expression" {
		if fn := n.ChildByFieldName("function"); fn != nil && fn.Type() == "selector_expression" {
			field := fn.ChildByFieldName("field")
			operand := fn.ChildByFieldName("operand")
			if field != nil && operand != nil {
				m := field.Content(w.f.Source)
				if m == "Lock" || m == "RLock" {
					if recv, ok := resolveGoSubject(operand, w.f.Source); ok && lockishName(recv) {
						w.add(recv, PrimitiveUnknown, ScopeLocal, operand)
					}
				}
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walkBody(n.NamedChild(i))
	}
}

func (w *goLockWalker) add(name string, prim LockPrimitive, scope LockScope, at *sitter.Node) {
	if w.seen[name] {
		return
	}
	w.seen[name] = true
	w.fi.Locks = append(w.fi.Locks, LockHandle{
		Name:      name,
		Primitive: prim,
		Scope:     scope,
		Location:  locationOf(w.fi.Path, at),
	})
}
