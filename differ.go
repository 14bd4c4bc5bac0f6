package migrate

import (
	"fmt"
	"sort"
	"strings"
)

// DiffKind enumerates the three shapes a SolverProposal's reason can
// take: an entity purely added, purely removed, or replaced in place.
type DiffKind int

const (
	DiffAdded DiffKind = iota
	DiffRemoved
	DiffChanged
)

// Diff is the reason attached to a SolverProposal. Its String() form is
// byte-exact with §6's rendering rule because the Migration Store
// round-trips reasons through this text via parseDiffReason.
type Diff struct {
	Kind  DiffKind
	ID    string
	OldID string
	NewID string
}

func (d Diff) String() string {
	switch d.Kind {
	case DiffAdded:
		return fmt.Sprintf("Added %q", d.ID)
	case DiffRemoved:
		return fmt.Sprintf("Removed %q", d.ID)
	case DiffChanged:
		return fmt.Sprintf("Changed (%q, %q)", d.OldID, d.NewID)
	}
	return ""
}

// SolverProposal is one unit of repair work: a reason paired with the
// SQL statements that carry it out, executed in order.
type SolverProposal struct {
	Reason     Diff
	Statements []string
}

// ProposalResult is a SolverProposal after an attempted execution; Error
// is empty unless the attempt failed.
type ProposalResult struct {
	SolverProposal
	Error string
}

// EnvLookup abstracts reading the process environment, so planning can
// be tested without depending on real process state. os.LookupEnv
// satisfies this type directly.
type EnvLookup func(name string) (string, bool)

// Plan compares current against desired and returns the first non-empty
// repair category, in the fixed order tables, views, columns, table
// constraints, inserts. An empty, nil-error result means current already
// equals desired.
func Plan(current, desired *SqlFile, env EnvLookup) ([]SolverProposal, error) {
	for _, category := range []func(*SqlFile, *SqlFile, EnvLookup) ([]SolverProposal, error){
		func(c, d *SqlFile, _ EnvLookup) ([]SolverProposal, error) { return diffTables(c, d) },
		func(c, d *SqlFile, _ EnvLookup) ([]SolverProposal, error) { return diffViews(c, d) },
		func(c, d *SqlFile, _ EnvLookup) ([]SolverProposal, error) { return diffColumns(c, d) },
		func(c, d *SqlFile, _ EnvLookup) ([]SolverProposal, error) { return diffTableConstraints(c, d) },
		diffInserts,
	} {
		proposals, err := category(current, desired, env)
		if err != nil {
			return nil, err
		}
		if len(proposals) > 0 {
			return proposals, nil
		}
	}
	return nil, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Tables ---

func diffTables(current, desired *SqlFile) ([]SolverProposal, error) {
	cur := map[string]CreateTable{}
	for _, t := range current.Tables {
		cur[t.Name] = t
	}
	des := map[string]CreateTable{}
	for _, t := range desired.Tables {
		des[t.Name] = t
	}
	var out []SolverProposal
	for _, name := range sortedKeys(cur) {
		if _, ok := des[name]; !ok {
			out = append(out, SolverProposal{
				Reason:     Diff{Kind: DiffRemoved, ID: name},
				Statements: []string{fmt.Sprintf("DROP TABLE %s", quoteIdent(name))},
			})
		}
	}
	for _, name := range sortedKeys(des) {
		if _, ok := cur[name]; !ok {
			out = append(out, SolverProposal{
				Reason:     Diff{Kind: DiffAdded, ID: name},
				Statements: []string{GenerateCreateTable(des[name])},
			})
		}
	}
	return out, nil
}

// --- Views ---

func diffViews(current, desired *SqlFile) ([]SolverProposal, error) {
	cur := map[string]CreateView{}
	for _, v := range current.Views {
		cur[RenderWithSelect(v.Select)] = v
	}
	des := map[string]CreateView{}
	for _, v := range desired.Views {
		des[RenderWithSelect(v.Select)] = v
	}
	var out []SolverProposal
	for _, key := range sortedKeys(cur) {
		if _, ok := des[key]; !ok {
			out = append(out, SolverProposal{
				Reason:     Diff{Kind: DiffRemoved, ID: key},
				Statements: []string{fmt.Sprintf("DROP VIEW %s", quoteIdent(cur[key].Name))},
			})
		}
	}
	for _, key := range sortedKeys(des) {
		if _, ok := cur[key]; !ok {
			out = append(out, SolverProposal{
				Reason:     Diff{Kind: DiffAdded, ID: key},
				Statements: []string{GenerateCreateView(des[key])},
			})
		}
	}
	return out, nil
}

// viewsReferencing returns the (sorted) names of views in file whose
// FROM clause, directly or through a subquery, mentions tableName.
func viewsReferencing(file *SqlFile, tableName string) []string {
	var names []string
	for _, v := range file.Views {
		for _, ref := range collectWithSelectRefs(v.Select) {
			if ref == tableName {
				names = append(names, v.Name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// --- Columns ---

func diffColumns(current, desired *SqlFile) ([]SolverProposal, error) {
	curTables := map[string]CreateTable{}
	for _, t := range current.Tables {
		curTables[t.Name] = t
	}
	desTables := map[string]CreateTable{}
	for _, t := range desired.Tables {
		desTables[t.Name] = t
	}
	var common []string
	for name := range curTables {
		if _, ok := desTables[name]; ok {
			common = append(common, name)
		}
	}
	sort.Strings(common)

	var out []SolverProposal
	for _, name := range common {
		ct, dt := curTables[name], desTables[name]
		curCols := map[string]ColumnDef{}
		for _, c := range ct.Columns {
			curCols[columnKey(c)] = c
		}
		desCols := map[string]ColumnDef{}
		for _, c := range dt.Columns {
			desCols[columnKey(c)] = c
		}

		var removedKeys, addedKeys, commonKeys []string
		for k := range curCols {
			if _, ok := desCols[k]; !ok {
				removedKeys = append(removedKeys, k)
			} else {
				commonKeys = append(commonKeys, k)
			}
		}
		for k := range desCols {
			if _, ok := curCols[k]; !ok {
				addedKeys = append(addedKeys, k)
			}
		}
		sort.Strings(removedKeys)
		sort.Strings(addedKeys)
		sort.Strings(commonKeys)

		if len(removedKeys) > 0 || len(addedKeys) > 0 {
			for _, k := range removedKeys {
				out = append(out, SolverProposal{
					Reason:     Diff{Kind: DiffRemoved, ID: k},
					Statements: []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(name), quoteIdent(curCols[k].Name))},
				})
			}
			for _, k := range addedKeys {
				col := desCols[k]
				if !hasDefault(col) {
					return nil, &NoDefaultValueForColumnError{Table: name, Column: col.Name}
				}
				out = append(out, SolverProposal{
					Reason:     Diff{Kind: DiffAdded, ID: k},
					Statements: []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(name), renderColumnDef(col))},
				})
			}
			continue
		}

		var changed []string
		for _, k := range commonKeys {
			if !constraintsEqual(curCols[k].Constraints, desCols[k].Constraints) {
				changed = append(changed, k)
			}
		}
		if len(changed) == 0 {
			continue
		}
		dependents := viewsReferencing(current, name)
		out = append(out, SolverProposal{
			Reason: Diff{Kind: DiffChanged, OldID: strings.Join(changed, ", "), NewID: strings.Join(changed, ", ")},
			Statements: recreateSequence(ct, dt, dependents),
		})
	}
	return out, nil
}

func columnKey(c ColumnDef) string {
	return fmt.Sprintf("%s %s", c.Name, c.Type.String())
}

func hasDefault(col ColumnDef) bool {
	for _, c := range col.Constraints {
		if _, ok := c.(Default); ok {
			return true
		}
	}
	return false
}

func renderConstraintSet(cs []ColumnConstraint) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = renderColumnConstraint(c)
	}
	sort.Strings(out)
	return out
}

func constraintsEqual(a, b []ColumnConstraint) bool {
	ar, br := renderConstraintSet(a), renderConstraintSet(b)
	if len(ar) != len(br) {
		return false
	}
	for i := range ar {
		if ar[i] != br[i] {
			return false
		}
	}
	return true
}

// --- Table-level constraints (recreate) ---

func diffTableConstraints(current, desired *SqlFile) ([]SolverProposal, error) {
	curTables := map[string]CreateTable{}
	for _, t := range current.Tables {
		curTables[t.Name] = t
	}
	desTables := map[string]CreateTable{}
	for _, t := range desired.Tables {
		desTables[t.Name] = t
	}
	var common []string
	for name := range curTables {
		if _, ok := desTables[name]; ok {
			common = append(common, name)
		}
	}
	sort.Strings(common)

	var out []SolverProposal
	for _, name := range common {
		ct, dt := curTables[name], desTables[name]
		curKeys := map[string]bool{}
		for _, c := range ct.Constraints {
			curKeys[renderTableConstraint(c)] = true
		}
		desKeys := map[string]bool{}
		for _, c := range dt.Constraints {
			desKeys[renderTableConstraint(c)] = true
		}
		var removed, added []string
		for k := range curKeys {
			if !desKeys[k] {
				removed = append(removed, k)
			}
		}
		for k := range desKeys {
			if !curKeys[k] {
				added = append(added, k)
			}
		}
		sort.Strings(removed)
		sort.Strings(added)
		if len(removed) == 0 && len(added) == 0 {
			continue
		}
		dependents := viewsReferencing(current, name)
		stmts := recreateSequence(ct, dt, dependents)
		var reason Diff
		switch {
		case len(removed) == 1 && len(added) == 0:
			reason = Diff{Kind: DiffRemoved, ID: removed[0]}
		case len(added) == 1 && len(removed) == 0:
			reason = Diff{Kind: DiffAdded, ID: added[0]}
		default:
			reason = Diff{Kind: DiffChanged, OldID: strings.Join(removed, ", "), NewID: strings.Join(added, ", ")}
		}
		out = append(out, SolverProposal{Reason: reason, Statements: stmts})
	}
	return out, nil
}

// recreateSequence implements the 5-step table-recreate used for any
// constraint change ALTER TABLE cannot express directly: drop dependent
// views, build an aux table with the new shape, copy the common
// columns across, drop the old table, rename the aux table into place.
func recreateSequence(oldTable, newTable CreateTable, dependentViews []string) []string {
	var stmts []string
	for _, v := range dependentViews {
		stmts = append(stmts, fmt.Sprintf("DROP VIEW IF EXISTS %s", quoteIdent(v)))
	}
	auxName := oldTable.Name + "_aux"
	auxTable := CreateTable{Name: auxName, Columns: newTable.Columns, Constraints: newTable.Constraints}
	stmts = append(stmts, GenerateCreateTable(auxTable))
	commonCols := intersectColumnNames(oldTable, newTable)
	colList := quoteIdentList(commonCols)
	stmts = append(stmts, fmt.Sprintf("INSERT OR IGNORE INTO %s(%s) SELECT %s FROM %s", quoteIdent(auxName), colList, colList, quoteIdent(oldTable.Name)))
	stmts = append(stmts, fmt.Sprintf("DROP TABLE %s", quoteIdent(oldTable.Name)))
	stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(auxName), quoteIdent(oldTable.Name)))
	return stmts
}

func intersectColumnNames(oldTable, newTable CreateTable) []string {
	oldSet := map[string]bool{}
	for _, c := range oldTable.Columns {
		oldSet[c.Name] = true
	}
	var out []string
	for _, c := range newTable.Columns {
		if oldSet[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

// --- Inserts (synchronized rows) ---

func diffInserts(current, desired *SqlFile, env EnvLookup) ([]SolverProposal, error) {
	curByTable := map[string]InsertInto{}
	for _, ins := range current.Inserts {
		curByTable[ins.Table] = ins
	}
	desByTable := map[string]InsertInto{}
	for _, ins := range desired.Inserts {
		desByTable[ins.Table] = ins
	}
	var tableNames []string
	seen := map[string]bool{}
	for name := range curByTable {
		if !seen[name] {
			seen[name] = true
			tableNames = append(tableNames, name)
		}
	}
	for name := range desByTable {
		if !seen[name] {
			seen[name] = true
			tableNames = append(tableNames, name)
		}
	}
	sort.Strings(tableNames)

	var out []SolverProposal
	for _, name := range tableNames {
		L, R := curByTable[name], desByTable[name]
		table, ok := desired.Table(name)
		if !ok {
			table, ok = current.Table(name)
		}
		if !ok {
			continue
		}
		pkCols := table.PrimaryKeyColumns()
		if len(pkCols) == 0 {
			return nil, &TableShouldHavePrimaryKeyError{Table: name}
		}
		if table.PrimaryKeyDeclCount() > 1 {
			return nil, &TableShouldHaveSinglePrimaryKeyError{Table: name}
		}

		colSet := map[string]bool{}
		for _, c := range L.Columns {
			colSet[c] = true
		}
		for _, c := range R.Columns {
			colSet[c] = true
		}
		var canonicalCols []string
		for _, c := range table.Columns {
			if colSet[c.Name] {
				canonicalCols = append(canonicalCols, c.Name)
			}
		}
		var nonPkCols []string
		pkSet := map[string]bool{}
		for _, c := range pkCols {
			pkSet[c] = true
		}
		for _, c := range canonicalCols {
			if !pkSet[c] {
				nonPkCols = append(nonPkCols, c)
			}
		}

		type row struct {
			key    string
			values map[string]Expr
		}
		buildRows := func(ins InsertInto, substituteEnv bool) ([]row, error) {
			var rows []row
			for _, rawRow := range ins.Values {
				values := map[string]Expr{}
				for i, colName := range ins.Columns {
					v := rawRow[i]
					if substituteEnv {
						if ev, ok := v.(EnvVar); ok {
							if env == nil {
								return nil, &ExpectingEnvVarError{Var: ev.Member}
							}
							val, ok := env(ev.Member)
							if !ok {
								return nil, &ExpectingEnvVarError{Var: ev.Member}
							}
							v = TextLit{Value: val}
						}
					}
					values[colName] = v
				}
				var pkParts []string
				for _, pk := range pkCols {
					pkParts = append(pkParts, RenderExpr(values[pk]))
				}
				rows = append(rows, row{key: strings.Join(pkParts, ", "), values: values})
			}
			return rows, nil
		}

		lRows, err := buildRows(L, false)
		if err != nil {
			return nil, err
		}
		rRows, err := buildRows(R, true)
		if err != nil {
			return nil, err
		}

		lByKey := map[string]row{}
		for _, r := range lRows {
			lByKey[r.key] = r
		}
		rByKey := map[string]row{}
		for _, r := range rRows {
			rByKey[r.key] = r
		}

		var removedKeys, addedKeys, commonKeys []string
		for k := range lByKey {
			if _, ok := rByKey[k]; !ok {
				removedKeys = append(removedKeys, k)
			} else {
				commonKeys = append(commonKeys, k)
			}
		}
		for k := range rByKey {
			if _, ok := lByKey[k]; !ok {
				addedKeys = append(addedKeys, k)
			}
		}
		sort.Strings(removedKeys)
		sort.Strings(addedKeys)
		sort.Strings(commonKeys)

		pkValuesOf := func(r row) []Expr {
			vals := make([]Expr, len(pkCols))
			for i, c := range pkCols {
				vals[i] = r.values[c]
			}
			return vals
		}
		nonPkValuesOf := func(r row) []Expr {
			vals := make([]Expr, len(nonPkCols))
			for i, c := range nonPkCols {
				vals[i] = r.values[c]
			}
			return vals
		}

		for _, k := range removedKeys {
			r := lByKey[k]
			out = append(out, SolverProposal{
				Reason:     Diff{Kind: DiffRemoved, ID: k},
				Statements: []string{renderDeleteStmt(name, pkCols, pkValuesOf(r))},
			})
		}
		for _, k := range addedKeys {
			r := rByKey[k]
			vals := make([]Expr, len(canonicalCols))
			for i, c := range canonicalCols {
				vals[i] = r.values[c]
			}
			out = append(out, SolverProposal{
				Reason:     Diff{Kind: DiffAdded, ID: k},
				Statements: []string{renderInsertStmt(name, canonicalCols, vals)},
			})
		}
		for _, k := range commonKeys {
			l, r := lByKey[k], rByKey[k]
			oldVals, newVals := nonPkValuesOf(l), nonPkValuesOf(r)
			if renderExprList(oldVals) == renderExprList(newVals) {
				continue
			}
			out = append(out, SolverProposal{
				Reason:     Diff{Kind: DiffChanged, OldID: rawExprListText(oldVals), NewID: rawExprListText(newVals)},
				Statements: []string{renderUpdateStmt(name, pkCols, pkValuesOf(r), nonPkCols, newVals)},
			})
		}
	}
	return out, nil
}

func renderExprList(vals []Expr) string {
	return renderExprListText(vals)
}

func renderExprListText(vals []Expr) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = RenderExpr(v)
	}
	return strings.Join(parts, ", ")
}

// rawExprText renders a TextLit as its bare content instead of a
// SQL-quoted literal, matching spec.md §8 Scenario D's
// Changed("zero", "one") rendering for row-update reasons. Every other
// Expr shape falls back to RenderExpr, since only string values can be
// unquoted unambiguously.
func rawExprText(e Expr) string {
	if t, ok := e.(TextLit); ok {
		return t.Value
	}
	return RenderExpr(e)
}

func rawExprListText(vals []Expr) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = rawExprText(v)
	}
	return strings.Join(parts, ", ")
}

func renderInsertStmt(table string, cols []string, values []Expr) string {
	vals := make([]string, len(values))
	for i, v := range values {
		vals[i] = RenderExpr(v)
	}
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES (%s)", quoteIdent(table), quoteIdentList(cols), strings.Join(vals, ", "))
}

func renderDeleteStmt(table string, pkCols []string, pkValues []Expr) string {
	conds := make([]string, len(pkCols))
	for i, c := range pkCols {
		conds[i] = fmt.Sprintf("%s = %s", quoteIdent(c), RenderExpr(pkValues[i]))
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(table), strings.Join(conds, " AND "))
}

func renderUpdateStmt(table string, pkCols []string, pkValues []Expr, nonPkCols []string, nonPkValues []Expr) string {
	sets := make([]string, len(nonPkCols))
	for i, c := range nonPkCols {
		sets[i] = fmt.Sprintf("%s = %s", quoteIdent(c), RenderExpr(nonPkValues[i]))
	}
	conds := make([]string, len(pkCols))
	for i, c := range pkCols {
		conds[i] = fmt.Sprintf("%s = %s", quoteIdent(c), RenderExpr(pkValues[i]))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", quoteIdent(table), strings.Join(sets, ", "), strings.Join(conds, " AND "))
}
