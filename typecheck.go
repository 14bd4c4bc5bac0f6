package migrate

import "strings"

// ColumnType is one entry of the table computed by CheckTypes: the
// SqlType exposed by a named column of a table or view.
type ColumnType struct {
	Table  string
	Column string
	Type   SqlType
}

// scopeEntry is one column visible to an expression being type-checked,
// qualified by the table name or FROM-alias it came from.
type scopeEntry struct {
	Qualifier string
	Column    string
	Type      SqlType
}

// scope is the set of columns visible while type-checking one SELECT,
// together with how many distinct relations contributed to it — an
// unqualified column reference is only allowed when this is exactly 1.
type scope struct {
	entries       []scopeEntry
	relationCount int
}

func (s scope) lookup(qualifier *string, member string) (SqlType, error) {
	if qualifier != nil {
		var matches []scopeEntry
		for _, e := range s.entries {
			if e.Qualifier == *qualifier && e.Column == member {
				matches = append(matches, e)
			}
		}
		switch len(matches) {
		case 0:
			return 0, &UndefinedIdentifierError{Identifier: *qualifier + "." + member}
		case 1:
			return matches[0].Type, nil
		default:
			return 0, &DuplicatedDefinitionError{Identifier: *qualifier + "." + member}
		}
	}
	if s.relationCount != 1 {
		return 0, &CannotInferTypeWithoutTableError{Identifier: member}
	}
	var matches []scopeEntry
	for _, e := range s.entries {
		if e.Column == member {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return 0, &UndefinedIdentifierError{Identifier: member}
	case 1:
		return matches[0].Type, nil
	default:
		return 0, &DuplicatedDefinitionError{Identifier: member}
	}
}

// CheckTypes computes a ColumnType table for every table and view in
// file: tables seed the table directly from their declared column
// types; views are visited in dependency order and their exposed
// column types inferred from their SELECT.
func CheckTypes(file *SqlFile) (map[string][]ColumnType, error) {
	allColumns := map[string][]ColumnType{}
	for _, t := range file.Tables {
		allColumns[t.Name] = tableColumnTypes(t)
	}
	order, err := topoSortViews(file.Views)
	if err != nil {
		return nil, err
	}
	viewByName := map[string]CreateView{}
	for _, v := range file.Views {
		viewByName[v.Name] = v
	}
	for _, name := range order {
		v := viewByName[name]
		cols, err := inferWithSelectColumns(v.Select, allColumns)
		if err != nil {
			return nil, err
		}
		for i := range cols {
			cols[i].Table = name
		}
		allColumns[name] = cols
	}
	return allColumns, nil
}

func tableColumnTypes(t CreateTable) []ColumnType {
	cols := make([]ColumnType, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = ColumnType{Table: t.Name, Column: c.Name, Type: c.Type}
	}
	return cols
}

// topoSortViews orders views so that every view referenced by v's FROM
// clause (directly or through a nested subquery) precedes v. Tables are
// always-available leaves and impose no ordering constraint.
func topoSortViews(views []CreateView) ([]string, error) {
	viewNames := map[string]bool{}
	deps := map[string][]string{}
	for _, v := range views {
		viewNames[v.Name] = true
	}
	for _, v := range views {
		refs := collectWithSelectRefs(v.Select)
		var d []string
		for _, r := range refs {
			if r != v.Name && viewNames[r] {
				d = append(d, r)
			}
		}
		deps[v.Name] = d
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &ViewCycleError{Views: []string{name}}
		}
		state[name] = visiting
		for _, d := range deps[name] {
			if err := visit(d); err != nil {
				if ce, ok := err.(*ViewCycleError); ok {
					return &ViewCycleError{Views: append(ce.Views, name)}
				}
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, v := range views {
		if err := visit(v.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// collectWithSelectRefs returns every table/view name referenced by ws,
// excluding names bound by ws's own CTE list.
func collectWithSelectRefs(ws WithSelect) []string {
	cteNames := map[string]bool{}
	var refs []string
	for _, c := range ws.Ctes {
		cteNames[c.Name] = true
		refs = append(refs, collectSelectRefs(c.Select)...)
	}
	refs = append(refs, collectSelectRefs(ws.Select)...)
	out := refs[:0]
	for _, r := range refs {
		if !cteNames[r] {
			out = append(out, r)
		}
	}
	return out
}

func collectSelectRefs(sel Select) []string {
	var refs []string
	refs = append(refs, walkExprRefs(sel.From)...)
	refs = append(refs, walkExprRefs(sel.Where)...)
	refs = append(refs, walkExprRefs(sel.Having)...)
	for _, p := range sel.Projection {
		refs = append(refs, walkExprRefs(p)...)
	}
	return refs
}

// walkExprRefs descends into e looking for TableRef and Subquery nodes,
// covering joins, CASE branches, function arguments and nested (WITH)
// subqueries anywhere in an expression tree.
func walkExprRefs(e Expr) []string {
	if e == nil {
		return nil
	}
	switch v := e.(type) {
	case TableRef:
		return []string{v.Name}
	case Alias:
		return walkExprRefs(v.X)
	case JoinOn:
		refs := walkExprRefs(v.Relation)
		return append(refs, walkExprRefs(v.On)...)
	case Binary:
		refs := walkExprRefs(v.L)
		return append(refs, walkExprRefs(v.R)...)
	case Unary:
		return walkExprRefs(v.X)
	case CaseWhen:
		refs := walkExprRefs(v.When)
		refs = append(refs, walkExprRefs(v.Then)...)
		if v.Else != nil {
			refs = append(refs, walkExprRefs(v.Else)...)
		}
		return refs
	case FuncCall:
		var refs []string
		for _, a := range v.Args {
			refs = append(refs, walkExprRefs(a)...)
		}
		return refs
	case Subquery:
		return collectWithSelectRefs(*v.Select)
	}
	return nil
}

func inferWithSelectColumns(ws WithSelect, allColumns map[string][]ColumnType) ([]ColumnType, error) {
	local := map[string][]ColumnType{}
	for _, c := range ws.Ctes {
		cols, err := inferSelectScoped(c.Select, allColumns, local)
		if err != nil {
			return nil, err
		}
		local[c.Name] = cols
	}
	return inferSelectScoped(ws.Select, allColumns, local)
}

func inferSelectScoped(sel Select, allColumns, local map[string][]ColumnType) ([]ColumnType, error) {
	sc, err := buildScope(sel.From, allColumns, local)
	if err != nil {
		return nil, err
	}
	if sel.Where != nil {
		wt, err := inferExpr(sc, allColumns, sel.Where)
		if err != nil {
			return nil, err
		}
		if wt != Bool {
			return nil, &ExpectingTypeError{Want: Bool, Got: wt}
		}
	}
	if sel.Having != nil {
		ht, err := inferExpr(sc, allColumns, sel.Having)
		if err != nil {
			return nil, err
		}
		if ht != Bool {
			return nil, &ExpectingTypeError{Want: Bool, Got: ht}
		}
	}
	return inferProjection(sc, allColumns, sel)
}

func lookupRelation(name string, allColumns, local map[string][]ColumnType) ([]ColumnType, bool) {
	if cols, ok := local[name]; ok {
		return cols, true
	}
	cols, ok := allColumns[name]
	return cols, ok
}

// buildScope resolves a FROM expression into the set of columns visible
// to the rest of the SELECT, recursing through joins and subqueries.
func buildScope(e Expr, allColumns, local map[string][]ColumnType) (scope, error) {
	if e == nil {
		return scope{}, nil
	}
	switch v := e.(type) {
	case TableRef:
		cols, ok := lookupRelation(v.Name, allColumns, local)
		if !ok {
			return scope{}, &UndefinedIdentifierError{Identifier: v.Name}
		}
		return scope{entries: qualify(v.Name, cols), relationCount: 1}, nil
	case Alias:
		var cols []ColumnType
		switch inner := v.X.(type) {
		case TableRef:
			c, ok := lookupRelation(inner.Name, allColumns, local)
			if !ok {
				return scope{}, &UndefinedIdentifierError{Identifier: inner.Name}
			}
			cols = c
		case Subquery:
			c, err := inferWithSelectColumns(*inner.Select, allColumns)
			if err != nil {
				return scope{}, err
			}
			cols = c
		default:
			return scope{}, &UnsupportedTypeInferenceError{Expr: "unsupported FROM alias target"}
		}
		return scope{entries: qualify(v.Name, cols), relationCount: 1}, nil
	case Subquery:
		cols, err := inferWithSelectColumns(*v.Select, allColumns)
		if err != nil {
			return scope{}, err
		}
		return scope{entries: qualify("", cols), relationCount: 1}, nil
	case Binary:
		if v.Op != OpInnerJoin && v.Op != OpLeftOuterJoin {
			return scope{}, &UnsupportedTypeInferenceError{Expr: "expected join in FROM clause"}
		}
		left, err := buildScope(v.L, allColumns, local)
		if err != nil {
			return scope{}, err
		}
		joinOn, ok := v.R.(JoinOn)
		if !ok {
			return scope{}, &UnsupportedTypeInferenceError{Expr: "join missing ON clause"}
		}
		right, err := buildScope(joinOn.Relation, allColumns, local)
		if err != nil {
			return scope{}, err
		}
		combined := scope{
			entries:       append(append([]scopeEntry{}, left.entries...), right.entries...),
			relationCount: left.relationCount + right.relationCount,
		}
		if joinOn.On != nil {
			ot, err := inferExpr(combined, allColumns, joinOn.On)
			if err != nil {
				return scope{}, err
			}
			if ot != Bool {
				return scope{}, &ExpectingTypeError{Want: Bool, Got: ot}
			}
		}
		return combined, nil
	}
	return scope{}, &UnsupportedTypeInferenceError{Expr: "unsupported FROM expression"}
}

func qualify(qualifier string, cols []ColumnType) []scopeEntry {
	entries := make([]scopeEntry, len(cols))
	for i, c := range cols {
		entries[i] = scopeEntry{Qualifier: qualifier, Column: c.Column, Type: c.Type}
	}
	return entries
}

func inferProjection(sc scope, allColumns map[string][]ColumnType, sel Select) ([]ColumnType, error) {
	if sel.Star {
		cols := make([]ColumnType, len(sc.entries))
		for i, e := range sc.entries {
			cols[i] = ColumnType{Column: e.Column, Type: e.Type}
		}
		return cols, nil
	}
	cols := make([]ColumnType, 0, len(sel.Projection))
	for _, p := range sel.Projection {
		name, typ, err := inferProjectionItem(sc, allColumns, p)
		if err != nil {
			return nil, err
		}
		cols = append(cols, ColumnType{Column: name, Type: typ})
	}
	return cols, nil
}

func inferProjectionItem(sc scope, allColumns map[string][]ColumnType, e Expr) (string, SqlType, error) {
	switch v := e.(type) {
	case Alias:
		t, err := inferExpr(sc, allColumns, v.X)
		return v.Name, t, err
	case ColumnRef:
		t, err := inferExpr(sc, allColumns, v)
		return v.Member, t, err
	default:
		t, err := inferExpr(sc, allColumns, v)
		return "", t, err
	}
}

// inferExpr assigns a SqlType to e, or fails with a type-check error.
// allColumns is threaded through for scalar and EXISTS/IN subqueries,
// which resolve against the same table/view set as the enclosing SELECT.
func inferExpr(sc scope, allColumns map[string][]ColumnType, e Expr) (SqlType, error) {
	switch v := e.(type) {
	case IntegerLit:
		return Integer, nil
	case TextLit:
		return Text, nil
	case RealLit:
		return Real, nil
	case ColumnRef:
		return sc.lookup(v.Qualifier, v.Member)
	case EnvVar:
		return Text, nil
	case FuncCall:
		return inferFuncCall(sc, allColumns, v)
	case CaseWhen:
		wt, err := inferExpr(sc, allColumns, v.When)
		if err != nil {
			return 0, err
		}
		if wt != Bool {
			return 0, &ExpectingTypeError{Want: Bool, Got: wt}
		}
		tt, err := inferExpr(sc, allColumns, v.Then)
		if err != nil {
			return 0, err
		}
		if v.Else != nil {
			et, err := inferExpr(sc, allColumns, v.Else)
			if err != nil {
				return 0, err
			}
			if et != tt {
				return 0, &NotMatchingTypesError{Left: tt, Right: et}
			}
		}
		return tt, nil
	case Unary:
		switch v.Op {
		case OpNot:
			xt, err := inferExpr(sc, allColumns, v.X)
			if err != nil {
				return 0, err
			}
			if xt != Bool {
				return 0, &ExpectingTypeError{Want: Bool, Got: xt}
			}
			return Bool, nil
		case OpExists:
			return Bool, nil
		}
	case Binary:
		return inferBinary(sc, allColumns, v)
	case Alias:
		return inferExpr(sc, allColumns, v.X)
	case Subquery:
		cols, err := inferWithSelectColumns(*v.Select, allColumns)
		if err != nil {
			return 0, err
		}
		if len(cols) != 1 {
			return 0, &UnsupportedTypeInferenceError{Expr: "scalar subquery must project exactly one column"}
		}
		return cols[0].Type, nil
	}
	return 0, &UnsupportedTypeInferenceError{Expr: "unrecognized expression"}
}

func inferBinary(sc scope, allColumns map[string][]ColumnType, v Binary) (SqlType, error) {
	switch v.Op {
	case OpAnd, OpOr:
		lt, err := inferExpr(sc, allColumns, v.L)
		if err != nil {
			return 0, err
		}
		if lt != Bool {
			return 0, &ExpectingTypeError{Want: Bool, Got: lt}
		}
		rt, err := inferExpr(sc, allColumns, v.R)
		if err != nil {
			return 0, err
		}
		if rt != Bool {
			return 0, &ExpectingTypeError{Want: Bool, Got: rt}
		}
		return Bool, nil
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike, OpIn:
		lt, err := inferExpr(sc, allColumns, v.L)
		if err != nil {
			return 0, err
		}
		rt, err := inferExpr(sc, allColumns, v.R)
		if err != nil {
			return 0, err
		}
		if lt != rt {
			return 0, &NotMatchingTypesError{Left: lt, Right: rt}
		}
		return Bool, nil
	case OpConcat:
		lt, err := inferExpr(sc, allColumns, v.L)
		if err != nil {
			return 0, err
		}
		rt, err := inferExpr(sc, allColumns, v.R)
		if err != nil {
			return 0, err
		}
		if lt != Text || rt != Text {
			return 0, &NotMatchingTypesError{Left: lt, Right: rt}
		}
		return Text, nil
	}
	return 0, &UnsupportedTypeInferenceError{Expr: "unsupported binary operator in scalar expression"}
}

var funcReturnTypes = map[string]SqlType{
	"date":       Text,
	"strftime":   Text,
	"sum":        Integer,
	"count":      Integer,
	"row_number": Integer,
}

func inferFuncCall(sc scope, allColumns map[string][]ColumnType, v FuncCall) (SqlType, error) {
	name := strings.ToLower(v.Name)
	if name == "coalesce" {
		if len(v.Args) < 2 {
			return 0, &UnsupportedTypeInferenceError{Expr: "coalesce requires at least two arguments"}
		}
		return inferExpr(sc, allColumns, v.Args[len(v.Args)-1])
	}
	if t, ok := funcReturnTypes[name]; ok {
		return t, nil
	}
	return 0, &UnsupportedTypeInferenceError{Expr: v.Name}
}
