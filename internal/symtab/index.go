package symtab

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/workspace"
)

// ImportRecord is one imported name at one import site. Rebinding the same
// name through several imports keeps one symbol but one record per site, so
// every site contributes its own import edge.
type ImportRecord struct {
	// Binding is the bound symbol, empty for wildcard imports.
	Binding SymbolID `json:"binding,omitempty"`
	// Owner is the symbol enclosing the import site; edges originate here.
	Owner SymbolID  `json:"owner"`
	Scope ScopeID   `json:"scope"`
	Ref   ImportRef `json:"ref"`
}

// FileIndex is the complete symbol index of one file.
type FileIndex struct {
	File      workspace.File `json:"file"`
	Module    string         `json:"module"`
	ModuleSym SymbolID       `json:"module_sym"`
	Scopes    []*Scope       `json:"scopes"`
	Symbols   []*Symbol      `json:"symbols"`
	// Occurrences maps identifier names to their uses, ordered by byte
	// offset. This is the lexical candidate table for reference finding.
	Occurrences map[string][]Occurrence `json:"occurrences"`
	Imports     []ImportRecord          `json:"imports"`

	// Unindexed marks files whose content could not be parsed; they
	// contribute no symbols and no occurrences.
	Unindexed bool   `json:"unindexed,omitempty"`
	ParseErr  string `json:"parse_err,omitempty"`
}

// NewUnindexed records a file that failed to parse.
func NewUnindexed(file workspace.File, err error) *FileIndex {
	fi := &FileIndex{
		File:        file,
		Module:      workspace.ModuleName(file.ID),
		Occurrences: map[string][]Occurrence{},
		Unindexed:   true,
	}
	if err != nil {
		fi.ParseErr = err.Error()
	}
	return fi
}

// Scope returns the scope with the given id.
func (fi *FileIndex) Scope(id ScopeID) *Scope {
	return fi.Scopes[int(id)]
}

// Symbol finds a symbol of this file by id.
func (fi *FileIndex) Symbol(id SymbolID) (*Symbol, bool) {
	for _, sym := range fi.Symbols {
		if sym.ID == id {
			return sym, true
		}
	}
	return nil, false
}

// OwnerOf returns the symbol owning references found in the given scope.
func (fi *FileIndex) OwnerOf(id ScopeID) SymbolID {
	return fi.Scopes[int(id)].Owner
}

// OccurrencesOf returns the ordered occurrences of a name in this file.
func (fi *FileIndex) OccurrencesOf(name string) []Occurrence {
	return fi.Occurrences[name]
}

// IndexFile walks the parsed tree once, top down, and produces the file's
// scope tree, symbols, occurrence table, and import records.
func IndexFile(file workspace.File, tree *pyast.Tree) *FileIndex {
	b := &builder{
		idx: &FileIndex{
			File:        file,
			Module:      workspace.ModuleName(file.ID),
			Occurrences: map[string][]Occurrence{},
		},
		src: tree.Source,
	}
	b.run(tree.Root())
	return b.idx
}

type builder struct {
	idx *FileIndex
	src []byte
	seq int

	// owner attributes occurrences inside definition-attached expressions
	// (superclass lists, decorators, annotations, defaults) to the symbol
	// being defined. Empty outside those walks.
	owner SymbolID
}

func (b *builder) run(root *sitter.Node) {
	moduleName := b.idx.Module
	if moduleName == "" {
		moduleName = string(b.idx.File.ID)
	}
	modSym := &Symbol{
		ID:    b.mint(ModuleScopeID),
		Name:  moduleName,
		Kind:  KindModule,
		File:  b.idx.File.ID,
		Scope: ModuleScopeID,
		Range: pyast.NodeRange(root),
		Flags: SymbolFlags{Declared: true, Bound: true},
	}
	b.idx.ModuleSym = modSym.ID
	b.idx.Symbols = append(b.idx.Symbols, modSym)

	scope := b.pushScope(ScopeModule, NoScope, moduleName, pyast.NodeRange(root), modSym.ID)
	b.prescanDeclarations(root, scope)
	modSym.Doc = b.docstring(root)
	b.walkStatements(root, scope)
	b.finish()
}

func (b *builder) mint(scope ScopeID) SymbolID {
	id := MintSymbolID(b.idx.File.ID, b.idx.File.Hash, scope, b.seq)
	b.seq++
	return id
}

func (b *builder) pushScope(kind ScopeKind, parent ScopeID, name string, rng pyast.Range, owner SymbolID) *Scope {
	s := newScope(ScopeID(len(b.idx.Scopes)), kind, parent, name, rng, owner)
	b.idx.Scopes = append(b.idx.Scopes, s)
	return s
}

func (b *builder) finish() {
	for _, occs := range b.idx.Occurrences {
		sort.Slice(occs, func(i, j int) bool {
			return occs[i].Range.StartByte < occs[j].Range.StartByte
		})
	}
}

// === Bindings ===

// bind introduces or rebinds name in scope, honoring global and nonlocal
// declarations. The first binding is the definition; later bindings set the
// Reassigned flag and count as write occurrences.
func (b *builder) bind(scope *Scope, name string, kind SymbolKind, nameRange, defRange pyast.Range, declared, bound bool) *Symbol {
	target := scope
	var viaGlobal, viaNonlocal bool
	if scope.ID != ModuleScopeID && scope.Globals[name] {
		target = b.idx.Scopes[ModuleScopeID]
		viaGlobal = true
	} else if scope.Nonlocals[name] {
		if enc := b.enclosingFunctionScope(scope, name); enc != nil {
			target = enc
			viaNonlocal = true
		}
	}

	if sym, ok := target.Symbols[name]; ok {
		sym.Flags.Reassigned = true
		sym.Flags.Declared = sym.Flags.Declared || declared
		sym.Flags.Bound = sym.Flags.Bound || bound
		b.idx.Occurrences[name] = append(b.idx.Occurrences[name], Occurrence{
			Name:    name,
			File:    b.idx.File.ID,
			Scope:   scope.ID,
			Owner:   b.owner,
			Range:   nameRange,
			Access:  AccessWrite,
			Context: ContextAssign,
		})
		return sym
	}

	sym := &Symbol{
		ID:        b.mint(target.ID),
		Name:      name,
		Kind:      kind,
		File:      b.idx.File.ID,
		Scope:     target.ID,
		Range:     defRange,
		NameRange: nameRange,
		Flags: SymbolFlags{
			Declared:     declared,
			Bound:        bound,
			GlobalDecl:   viaGlobal,
			NonlocalDecl: viaNonlocal,
		},
	}
	target.Symbols[name] = sym
	b.idx.Symbols = append(b.idx.Symbols, sym)
	return sym
}

// enclosingFunctionScope finds the nonlocal target: the nearest enclosing
// function-like scope that binds name, or the nearest one at all when none
// binds it yet. Class scopes are skipped.
func (b *builder) enclosingFunctionScope(scope *Scope, name string) *Scope {
	var fallback *Scope
	for id := scope.Parent; id != NoScope; {
		s := b.idx.Scopes[int(id)]
		if s.Kind == ScopeFunction || s.Kind == ScopeComprehension {
			if _, ok := s.Symbols[name]; ok {
				return s
			}
			if fallback == nil {
				fallback = s
			}
		}
		id = s.Parent
	}
	return fallback
}

func (b *builder) occur(scope *Scope, n *sitter.Node, access AccessKind, ctx SyntacticContext) {
	name := n.Content(b.src)
	b.idx.Occurrences[name] = append(b.idx.Occurrences[name], Occurrence{
		Name:    name,
		File:    b.idx.File.ID,
		Scope:   scope.ID,
		Owner:   b.owner,
		Range:   pyast.NodeRange(n),
		Access:  access,
		Context: ctx,
	})
}

// walkOwned walks a definition-attached expression: name lookup starts in
// scope, attribution goes to owner.
func (b *builder) walkOwned(n *sitter.Node, scope *Scope, ctx SyntacticContext, owner SymbolID) {
	prev := b.owner
	b.owner = owner
	b.walkExpr(n, scope, ctx)
	b.owner = prev
}

// prescanDeclarations collects global and nonlocal statements anywhere in the
// scope body, without descending into nested scopes. The declarations apply
// to the whole scope regardless of where they appear in it.
func (b *builder) prescanDeclarations(n *sitter.Node, scope *Scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "global_statement":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if id := child.NamedChild(j); id.Type() == "identifier" {
					scope.Globals[id.Content(b.src)] = true
				}
			}
		case "nonlocal_statement":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if id := child.NamedChild(j); id.Type() == "identifier" {
					scope.Nonlocals[id.Content(b.src)] = true
				}
			}
		case "function_definition", "class_definition", "lambda",
			"list_comprehension", "set_comprehension",
			"dictionary_comprehension", "generator_expression":
			// new scope boundary
		default:
			b.prescanDeclarations(child, scope)
		}
	}
}

// === Statements ===

func (b *builder) walkStatements(body *sitter.Node, scope *Scope) {
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		b.walkStatement(body.NamedChild(i), scope)
	}
}

func (b *builder) walkStatement(n *sitter.Node, scope *Scope) {
	switch n.Type() {
	case "comment", "pass_statement", "break_statement", "continue_statement",
		"global_statement", "nonlocal_statement":
		// global/nonlocal were prescanned

	case "expression_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			b.walkExpr(n.NamedChild(i), scope, ContextOther)
		}

	case "function_definition":
		b.handleFunction(n, scope, n)

	case "class_definition":
		b.handleClass(n, scope, n)

	case "decorated_definition":
		b.handleDecorated(n, scope)

	case "import_statement":
		b.handleImport(n, scope)

	case "import_from_statement":
		b.handleImportFrom(n, scope)

	case "future_import_statement":
		// compiler directives, not module dependencies

	case "type_alias_statement":
		b.handleTypeAlias(n, scope)

	case "for_statement":
		b.bindTargets(n.ChildByFieldName("left"), scope, KindVariable, false, true)
		b.walkExpr(n.ChildByFieldName("right"), scope, ContextOther)
		b.walkStatements(n.ChildByFieldName("body"), scope)
		b.walkElse(n, scope)

	case "while_statement":
		b.walkExpr(n.ChildByFieldName("condition"), scope, ContextOther)
		b.walkStatements(n.ChildByFieldName("body"), scope)
		b.walkElse(n, scope)

	case "if_statement":
		b.walkExpr(n.ChildByFieldName("condition"), scope, ContextOther)
		b.walkStatements(n.ChildByFieldName("consequence"), scope)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "elif_clause":
				b.walkExpr(child.ChildByFieldName("condition"), scope, ContextOther)
				b.walkStatements(child.ChildByFieldName("consequence"), scope)
			case "else_clause":
				b.walkStatements(child.ChildByFieldName("body"), scope)
			}
		}

	case "with_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if clause := n.NamedChild(i); clause.Type() == "with_clause" {
				for j := 0; j < int(clause.NamedChildCount()); j++ {
					b.walkWithItem(clause.NamedChild(j), scope)
				}
			}
		}
		b.walkStatements(n.ChildByFieldName("body"), scope)

	case "try_statement":
		b.walkStatements(n.ChildByFieldName("body"), scope)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "except_clause", "except_group_clause":
				b.walkExcept(child, scope)
			case "else_clause":
				b.walkStatements(child.ChildByFieldName("body"), scope)
			case "finally_clause":
				b.walkFinally(child, scope)
			}
		}

	case "match_statement":
		b.walkExpr(n.ChildByFieldName("subject"), scope, ContextOther)
		if body := n.ChildByFieldName("body"); body != nil {
			for i := 0; i < int(body.NamedChildCount()); i++ {
				if cc := body.NamedChild(i); cc.Type() == "case_clause" {
					if guard := cc.ChildByFieldName("guard"); guard != nil {
						b.walkClauseExpr(guard, scope)
					}
					b.walkStatements(cc.ChildByFieldName("consequence"), scope)
				}
			}
		}

	case "delete_statement":
		b.walkDelete(n, scope)

	case "return_statement", "raise_statement", "assert_statement",
		"exec_statement", "print_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			b.walkExpr(n.NamedChild(i), scope, ContextOther)
		}

	case "block", "module":
		b.walkStatements(n, scope)

	case "ERROR":
		// parse already succeeded; stray error nodes contribute nothing

	default:
		b.walkExpr(n, scope, ContextOther)
	}
}

func (b *builder) walkElse(n *sitter.Node, scope *Scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "else_clause" {
			b.walkStatements(child.ChildByFieldName("body"), scope)
		}
	}
}

func (b *builder) walkFinally(n *sitter.Node, scope *Scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "block" {
			b.walkStatements(child, scope)
		}
	}
}

// walkExcept handles `except Exc as name:` where the second expression, when
// present, is the binding target.
func (b *builder) walkExcept(n *sitter.Node, scope *Scope) {
	var exprs []*sitter.Node
	var block *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "block":
			block = child
		case "comment":
		default:
			exprs = append(exprs, child)
		}
	}
	if len(exprs) > 0 {
		b.walkExpr(exprs[0], scope, ContextOther)
	}
	if len(exprs) > 1 && exprs[1].Type() == "identifier" {
		b.bind(scope, exprs[1].Content(b.src), KindVariable,
			pyast.NodeRange(exprs[1]), pyast.NodeRange(n), false, true)
	}
	b.walkStatements(block, scope)
}

func (b *builder) walkWithItem(n *sitter.Node, scope *Scope) {
	if n.Type() != "with_item" {
		return
	}
	value := n.ChildByFieldName("value")
	if value == nil {
		return
	}
	if value.Type() == "as_pattern" {
		b.walkExpr(value.NamedChild(0), scope, ContextOther)
		if alias := value.ChildByFieldName("alias"); alias != nil {
			b.bindTargets(firstIdentifier(alias), scope, KindVariable, false, true)
		}
		return
	}
	b.walkExpr(value, scope, ContextOther)
}

func (b *builder) walkDelete(n *sitter.Node, scope *Scope) {
	var visit func(e *sitter.Node)
	visit = func(e *sitter.Node) {
		if e == nil {
			return
		}
		switch e.Type() {
		case "identifier":
			b.occur(scope, e, AccessOther, ContextOther)
		case "expression_list", "tuple", "list":
			for i := 0; i < int(e.NamedChildCount()); i++ {
				visit(e.NamedChild(i))
			}
		default:
			b.walkExpr(e, scope, ContextOther)
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		visit(n.NamedChild(i))
	}
}

func (b *builder) walkClauseExpr(n *sitter.Node, scope *Scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		b.walkExpr(n.NamedChild(i), scope, ContextOther)
	}
}

// === Definitions ===

func (b *builder) handleDecorated(n *sitter.Node, scope *Scope) {
	def := n.ChildByFieldName("definition")
	var sym *Symbol
	if def != nil {
		switch def.Type() {
		case "function_definition":
			sym = b.handleFunction(def, scope, n)
		case "class_definition":
			sym = b.handleClass(def, scope, n)
		}
	}

	// decorators evaluate in the enclosing scope; the references belong to
	// the decorated symbol
	var owner SymbolID
	if sym != nil {
		owner = sym.ID
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if dec := n.NamedChild(i); dec.Type() == "decorator" {
			for j := 0; j < int(dec.NamedChildCount()); j++ {
				b.walkOwned(dec.NamedChild(j), scope, ContextCall, owner)
			}
		}
	}
}

func (b *builder) handleFunction(n *sitter.Node, scope *Scope, defNode *sitter.Node) *Symbol {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	sym := b.bind(scope, nameNode.Content(b.src), KindFunction,
		pyast.NodeRange(nameNode), pyast.NodeRange(defNode), true, true)

	// return annotations and parameter defaults evaluate in the enclosing
	// scope, like the def statement itself
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		b.walkOwned(ret, scope, ContextAnnotation, sym.ID)
	}

	fnScope := b.pushScope(ScopeFunction, scope.ID, sym.Name, pyast.NodeRange(n), sym.ID)
	body := n.ChildByFieldName("body")
	if body != nil {
		b.prescanDeclarations(body, fnScope)
	}
	b.bindParameters(n.ChildByFieldName("parameters"), fnScope, scope, sym.ID)
	sym.Doc = b.docstring(n)
	b.walkStatements(body, fnScope)
	return sym
}

func (b *builder) handleClass(n *sitter.Node, scope *Scope, defNode *sitter.Node) *Symbol {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	sym := b.bind(scope, nameNode.Content(b.src), KindClass,
		pyast.NodeRange(nameNode), pyast.NodeRange(defNode), true, true)

	if bases := n.ChildByFieldName("superclasses"); bases != nil {
		b.walkOwned(bases, scope, ContextInherit, sym.ID)
	}

	clsScope := b.pushScope(ScopeClass, scope.ID, sym.Name, pyast.NodeRange(n), sym.ID)
	body := n.ChildByFieldName("body")
	if body != nil {
		b.prescanDeclarations(body, clsScope)
	}
	sym.Doc = b.docstring(n)
	b.walkStatements(body, clsScope)
	return sym
}

// bindParameters binds each parameter in the function scope. Annotations and
// default values evaluate in the enclosing scope and are attributed to the
// function symbol.
func (b *builder) bindParameters(params *sitter.Node, fnScope, enclosing *Scope, owner SymbolID) {
	if params == nil {
		return
	}
	bindParam := func(id *sitter.Node) {
		if id != nil && id.Type() == "identifier" {
			b.bind(fnScope, id.Content(b.src), KindParameter,
				pyast.NodeRange(id), pyast.NodeRange(id), true, true)
		}
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			bindParam(p)
		case "typed_parameter":
			if t := p.ChildByFieldName("type"); t != nil {
				b.walkOwned(t, enclosing, ContextAnnotation, owner)
			}
			bindParam(firstIdentifier(p))
		case "default_parameter":
			bindParam(p.ChildByFieldName("name"))
			b.walkOwned(p.ChildByFieldName("value"), enclosing, ContextOther, owner)
		case "typed_default_parameter":
			bindParam(p.ChildByFieldName("name"))
			if t := p.ChildByFieldName("type"); t != nil {
				b.walkOwned(t, enclosing, ContextAnnotation, owner)
			}
			b.walkOwned(p.ChildByFieldName("value"), enclosing, ContextOther, owner)
		case "list_splat_pattern", "dictionary_splat_pattern":
			bindParam(firstIdentifier(p))
		case "tuple_pattern":
			b.bindTargets(p, fnScope, KindParameter, true, true)
		case "positional_separator", "keyword_separator":
		}
	}
}

func (b *builder) handleTypeAlias(n *sitter.Node, scope *Scope) {
	left := n.NamedChild(0)
	right := n.NamedChild(1)
	var owner SymbolID
	if left != nil {
		if id := firstIdentifier(left); id != nil {
			sym := b.bind(scope, id.Content(b.src), KindTypeAlias,
				pyast.NodeRange(id), pyast.NodeRange(n), true, true)
			owner = sym.ID
		}
	}
	if right != nil {
		b.walkOwned(right, scope, ContextAnnotation, owner)
	}
}

// === Imports ===

func (b *builder) handleImport(n *sitter.Node, scope *Scope) {
	stmtRange := pyast.NodeRange(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			module := child.Content(b.src)
			// `import a.b` binds the root package name `a`
			root := module
			if dot := strings.IndexByte(module, '.'); dot >= 0 {
				root = module[:dot]
			}
			b.recordImport(scope, root, pyast.NodeRange(child), ImportRef{
				Module: module,
				Range:  stmtRange,
			})
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			alias := child.ChildByFieldName("alias")
			if nameNode == nil || alias == nil {
				continue
			}
			b.recordImport(scope, alias.Content(b.src), pyast.NodeRange(alias), ImportRef{
				Module:  nameNode.Content(b.src),
				Aliased: true,
				Range:   stmtRange,
			})
		}
	}
}

func (b *builder) handleImportFrom(n *sitter.Node, scope *Scope) {
	stmtRange := pyast.NodeRange(n)
	origin := n.ChildByFieldName("module_name")
	module, dots := b.importOrigin(origin)

	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if origin != nil && child.StartByte() == origin.StartByte() && child.EndByte() == origin.EndByte() {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			member := child.Content(b.src)
			b.recordImport(scope, member, pyast.NodeRange(child), ImportRef{
				Module: module,
				Dots:   dots,
				Member: member,
				Range:  stmtRange,
			})
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			alias := child.ChildByFieldName("alias")
			if nameNode == nil || alias == nil {
				continue
			}
			b.recordImport(scope, alias.Content(b.src), pyast.NodeRange(alias), ImportRef{
				Module:  module,
				Dots:    dots,
				Member:  nameNode.Content(b.src),
				Aliased: true,
				Range:   stmtRange,
			})
		case "wildcard_import":
			b.idx.Imports = append(b.idx.Imports, ImportRecord{
				Owner: scope.Owner,
				Scope: scope.ID,
				Ref:   ImportRef{Module: module, Dots: dots, Member: "*", Range: stmtRange},
			})
		}
	}
}

func (b *builder) importOrigin(moduleName *sitter.Node) (string, int) {
	if moduleName == nil {
		return "", 0
	}
	if moduleName.Type() == "relative_import" {
		dots := 0
		module := ""
		for i := 0; i < int(moduleName.NamedChildCount()); i++ {
			child := moduleName.NamedChild(i)
			switch child.Type() {
			case "import_prefix":
				dots = strings.Count(child.Content(b.src), ".")
			case "dotted_name":
				module = child.Content(b.src)
			}
		}
		return module, dots
	}
	return moduleName.Content(b.src), 0
}

func (b *builder) recordImport(scope *Scope, name string, nameRange pyast.Range, ref ImportRef) {
	sym := b.bind(scope, name, KindVariable, nameRange, ref.Range, true, true)
	if sym.Import == nil {
		refCopy := ref
		sym.Import = &refCopy
	}
	b.idx.Imports = append(b.idx.Imports, ImportRecord{
		Binding: sym.ID,
		Owner:   scope.Owner,
		Scope:   scope.ID,
		Ref:     ref,
	})
}

// === Expressions ===

// walkExpr records occurrences for identifiers in lexical position. The
// context parameter is the innermost classifiable construct seen so far;
// constructs with classification rules override it for the subtrees the rule
// names and pass it through everywhere else.
func (b *builder) walkExpr(n *sitter.Node, scope *Scope, ctx SyntacticContext) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		access := AccessRead
		if ctx == ContextAnnotation {
			// annotation positions name a type, they do not read a value
			access = AccessOther
		}
		b.occur(scope, n, access, ctx)

	case "attribute":
		// the member name is not a lexical occurrence
		b.walkExpr(n.ChildByFieldName("object"), scope, ContextAttr)

	case "call":
		b.walkExpr(n.ChildByFieldName("function"), scope, ContextCall)
		b.walkExpr(n.ChildByFieldName("arguments"), scope, ctx)

	case "keyword_argument":
		b.walkExpr(n.ChildByFieldName("value"), scope, ctx)

	case "assignment":
		annotation := n.ChildByFieldName("type")
		right := n.ChildByFieldName("right")
		kind := KindVariable
		if annotation != nil && isTypeAliasAnnotation(annotation.Content(b.src)) {
			kind = KindTypeAlias
		}
		b.bindTargets(n.ChildByFieldName("left"), scope, kind, annotation != nil, right != nil)
		if annotation != nil {
			b.walkExpr(annotation, scope, ContextAnnotation)
		}
		b.walkExpr(right, scope, ContextAssign)

	case "augmented_assignment":
		b.bindTargets(n.ChildByFieldName("left"), scope, KindVariable, false, true)
		b.walkExpr(n.ChildByFieldName("right"), scope, ContextAssign)

	case "named_expression":
		b.bindWalrus(n.ChildByFieldName("name"), scope)
		b.walkExpr(n.ChildByFieldName("value"), scope, ContextAssign)

	case "lambda":
		b.handleLambda(n, scope, ctx)

	case "list_comprehension", "set_comprehension", "generator_expression",
		"dictionary_comprehension":
		b.handleComprehension(n, scope, ctx)

	case "string", "concatenated_string":
		b.walkInterpolations(n, scope)

	case "type":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			b.walkExpr(n.NamedChild(i), scope, ContextAnnotation)
		}

	case "comment", "ERROR", "integer", "float", "true", "false", "none",
		"ellipsis", "line_continuation":

	default:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			b.walkExpr(n.NamedChild(i), scope, ctx)
		}
	}
}

// bindTargets binds assignment-like targets. Non-name targets (attributes,
// subscripts) mutate an existing object, so their base is an occurrence
// rather than a binding.
func (b *builder) bindTargets(n *sitter.Node, scope *Scope, kind SymbolKind, declared, bound bool) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		b.bind(scope, n.Content(b.src), kind, pyast.NodeRange(n), pyast.NodeRange(n), declared, bound)
	case "tuple_pattern", "list_pattern", "pattern_list", "expression_list", "tuple", "list":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			b.bindTargets(n.NamedChild(i), scope, kind, declared, bound)
		}
	case "list_splat_pattern", "list_splat":
		b.bindTargets(firstIdentifierOrPattern(n), scope, kind, declared, bound)
	case "attribute":
		b.walkExpr(n.ChildByFieldName("object"), scope, ContextAttr)
	case "subscript":
		b.walkExpr(n.ChildByFieldName("value"), scope, ContextAssign)
		b.walkExpr(n.ChildByFieldName("subscript"), scope, ContextAssign)
	default:
		b.walkExpr(n, scope, ContextAssign)
	}
}

// bindWalrus binds a named-expression target in the nearest enclosing
// non-comprehension scope.
func (b *builder) bindWalrus(nameNode *sitter.Node, scope *Scope) {
	if nameNode == nil || nameNode.Type() != "identifier" {
		return
	}
	target := scope
	for target.Kind == ScopeComprehension {
		target = b.idx.Scopes[int(target.Parent)]
	}
	b.bind(target, nameNode.Content(b.src), KindVariable,
		pyast.NodeRange(nameNode), pyast.NodeRange(nameNode), false, true)
}

func (b *builder) handleLambda(n *sitter.Node, scope *Scope, ctx SyntacticContext) {
	lamScope := b.pushScope(ScopeFunction, scope.ID, "<lambda>", pyast.NodeRange(n), scope.Owner)
	b.bindParameters(n.ChildByFieldName("parameters"), lamScope, scope, scope.Owner)
	b.walkExpr(n.ChildByFieldName("body"), lamScope, ctx)
}

// handleComprehension builds the comprehension's own scope. The leftmost
// iterable evaluates in the enclosing scope; everything else evaluates inside
// the comprehension scope.
func (b *builder) handleComprehension(n *sitter.Node, scope *Scope, ctx SyntacticContext) {
	comp := b.pushScope(ScopeComprehension, scope.ID, "<comp>", pyast.NodeRange(n), scope.Owner)

	firstClause := true
	var bodies []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "for_in_clause":
			right := child.ChildByFieldName("right")
			if firstClause {
				b.walkExpr(right, scope, ctx)
				firstClause = false
			} else {
				b.walkExpr(right, comp, ctx)
			}
			b.bindTargets(child.ChildByFieldName("left"), comp, KindVariable, false, true)
		case "if_clause":
			b.walkClauseExprIn(child, comp, ctx)
		case "comment":
		default:
			bodies = append(bodies, child)
		}
	}
	for _, body := range bodies {
		b.walkExpr(body, comp, ctx)
	}
}

func (b *builder) walkClauseExprIn(n *sitter.Node, scope *Scope, ctx SyntacticContext) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		b.walkExpr(n.NamedChild(i), scope, ctx)
	}
}

func (b *builder) walkInterpolations(n *sitter.Node, scope *Scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "interpolation":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				sub := child.NamedChild(j)
				if sub.Type() == "format_specifier" || sub.Type() == "type_conversion" {
					continue
				}
				b.walkExpr(sub, scope, ContextOther)
			}
		case "string":
			b.walkInterpolations(child, scope)
		}
	}
}

// === Docstrings ===

// docstring returns the leading string literal of a module, class, or
// function body.
func (b *builder) docstring(n *sitter.Node) string {
	body := n
	if n.Type() != "module" {
		body = n.ChildByFieldName("body")
		if body == nil {
			return ""
		}
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		if child.Type() != "expression_statement" || child.NamedChildCount() != 1 {
			return ""
		}
		str := child.NamedChild(0)
		if str.Type() != "string" {
			return ""
		}
		return cleanDocstring(str.Content(b.src))
	}
	return ""
}

func cleanDocstring(raw string) string {
	s := strings.TrimLeft(raw, "rRbBuUfF")
	for _, q := range []string{`"""`, "'''", `"`, "'"} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

func isTypeAliasAnnotation(s string) bool {
	s = strings.TrimSpace(s)
	return s == "TypeAlias" || strings.HasSuffix(s, ".TypeAlias")
}

func firstIdentifier(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.Type() == "identifier" {
		return n
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if id := firstIdentifier(n.NamedChild(i)); id != nil {
			return id
		}
	}
	return nil
}

func firstIdentifierOrPattern(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		return n.NamedChild(i)
	}
	return nil
}
