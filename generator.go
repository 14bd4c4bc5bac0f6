package migrate

import (
	"fmt"
	"strconv"
	"strings"
)

// The functions in this file render the Schema Model back into
// canonical SQL text. Every statement emitted round-trips through
// Parser: GenerateCreateTable(t) fed back through ParseFile produces
// an equal CreateTable. This canonical form is also what the Migration
// Store hashes (store.go).

func quoteIdent(name string) string {
	if needsQuoting(name) {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return name
}

func needsQuoting(name string) bool {
	if name == "" {
		return true
	}
	for i, r := range name {
		if i == 0 && !isIdentStart(r) {
			return true
		}
		if i > 0 && !isIdentCont(r) {
			return true
		}
	}
	return isReservedWord(name)
}

var reservedWords = map[string]bool{
	"select": true, "from": true, "where": true, "table": true, "view": true,
	"index": true, "insert": true, "into": true, "values": true, "create": true,
	"primary": true, "key": true, "foreign": true, "references": true,
	"unique": true, "not": true, "null": true, "default": true, "and": true,
	"or": true, "as": true, "join": true, "on": true, "order": true, "group": true,
	"by": true, "having": true, "limit": true, "offset": true, "case": true,
	"when": true, "then": true, "else": true, "end": true, "distinct": true,
	"like": true, "in": true, "exists": true, "left": true, "inner": true,
	"outer": true, "asc": true, "desc": true, "with": true, "over": true,
	"partition": true,
}

func isReservedWord(name string) bool {
	return reservedWords[strings.ToLower(name)]
}

// GenerateCreateTable renders a canonical CREATE TABLE statement as a
// single line: "CREATE TABLE name(col1 def, col2 def, CONSTRAINT)".
func GenerateCreateTable(t CreateTable) string {
	var parts []string
	for _, col := range t.Columns {
		parts = append(parts, renderColumnDef(col))
	}
	for _, c := range t.Constraints {
		parts = append(parts, renderTableConstraint(c))
	}
	return fmt.Sprintf("CREATE TABLE %s(%s)", quoteIdent(t.Name), strings.Join(parts, ", "))
}

func renderColumnDef(c ColumnDef) string {
	var sb strings.Builder
	sb.WriteString(quoteIdent(c.Name))
	sb.WriteString(" ")
	sb.WriteString(c.Type.String())
	for _, cons := range c.Constraints {
		sb.WriteString(" ")
		sb.WriteString(renderColumnConstraint(cons))
	}
	return sb.String()
}

func renderColumnConstraint(c ColumnConstraint) string {
	switch v := c.(type) {
	case PrimaryKey:
		if v.AutoIncrement {
			return "PRIMARY KEY AUTOINCREMENT"
		}
		return "PRIMARY KEY"
	case NotNull:
		return "NOT NULL"
	case Unique:
		return "UNIQUE"
	case Default:
		return "DEFAULT " + renderDefaultExpr(v.Value)
	case ForeignKey:
		return fmt.Sprintf("REFERENCES %s(%s)", quoteIdent(v.RefTable), quoteIdent(v.RefColumns[0]))
	}
	return ""
}

// renderDefaultExpr parenthesizes any DEFAULT value that is not a bare
// literal, matching SQLite's own requirement for non-literal defaults.
func renderDefaultExpr(e Expr) string {
	switch e.(type) {
	case IntegerLit, TextLit, RealLit:
		return RenderExpr(e)
	default:
		return "(" + RenderExpr(e) + ")"
	}
}

func renderTableConstraint(c ColumnConstraint) string {
	switch v := c.(type) {
	case PrimaryKeyCols:
		return fmt.Sprintf("PRIMARY KEY(%s)", quoteIdentList(v.Columns))
	case Unique:
		return fmt.Sprintf("UNIQUE(%s)", quoteIdentList(v.Columns))
	case ForeignKey:
		return fmt.Sprintf("FOREIGN KEY(%s) REFERENCES %s(%s)",
			quoteIdentList(v.Columns), quoteIdent(v.RefTable), quoteIdentList(v.RefColumns))
	}
	return ""
}

func quoteIdentList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return strings.Join(out, ", ")
}

// GenerateCreateView renders a canonical CREATE VIEW statement.
func GenerateCreateView(v CreateView) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s", quoteIdent(v.Name), RenderWithSelect(v.Select))
}

// GenerateCreateIndex renders a canonical CREATE INDEX statement.
func GenerateCreateIndex(idx CreateIndex) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quoteIdent(idx.Name), quoteIdent(idx.Table), quoteIdentList(idx.Columns))
}

// GenerateInsertInto renders a canonical INSERT INTO statement with one
// VALUES tuple per row.
func GenerateInsertInto(ins InsertInto) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", quoteIdent(ins.Table), quoteIdentList(ins.Columns))
	rows := make([]string, len(ins.Values))
	for i, row := range ins.Values {
		vals := make([]string, len(row))
		for j, v := range row {
			vals[j] = RenderExpr(v)
		}
		rows[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	sb.WriteString(strings.Join(rows, ", "))
	return sb.String()
}

// RenderWithSelect renders a CTE list followed by a SELECT.
func RenderWithSelect(ws WithSelect) string {
	var sb strings.Builder
	if len(ws.Ctes) > 0 {
		sb.WriteString("WITH ")
		parts := make([]string, len(ws.Ctes))
		for i, c := range ws.Ctes {
			parts[i] = fmt.Sprintf("%s AS (%s)", quoteIdent(c.Name), RenderSelect(c.Select))
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString(" ")
	}
	sb.WriteString(RenderSelect(ws.Select))
	return sb.String()
}

// RenderSelect renders a single SELECT statement.
func RenderSelect(s Select) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if s.Star {
		sb.WriteString("*")
	} else {
		parts := make([]string, len(s.Projection))
		for i, e := range s.Projection {
			parts[i] = RenderExpr(e)
		}
		sb.WriteString(strings.Join(parts, ", "))
	}
	if s.From != nil {
		sb.WriteString(" FROM ")
		sb.WriteString(RenderExpr(s.From))
	}
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(RenderExpr(s.Where))
	}
	if len(s.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(quoteIdentList(s.GroupBy))
	}
	if s.Having != nil {
		sb.WriteString(" HAVING ")
		sb.WriteString(RenderExpr(s.Having))
	}
	if len(s.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(renderOrderTerms(s.OrderBy))
	}
	if s.Limit != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *s.Limit)
	}
	if s.Offset != nil {
		fmt.Fprintf(&sb, " OFFSET %d", *s.Offset)
	}
	return sb.String()
}

func renderOrderTerms(terms []OrderTerm) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		if t.Desc {
			parts[i] = quoteIdent(t.Column) + " DESC"
		} else {
			parts[i] = quoteIdent(t.Column)
		}
	}
	return strings.Join(parts, ", ")
}

// RenderExpr renders any expression node to canonical SQL text.
func RenderExpr(e Expr) string {
	switch v := e.(type) {
	case IntegerLit:
		return strconv.FormatInt(v.Value, 10)
	case RealLit:
		return strconv.FormatFloat(v.Value, 'g', -1, 64)
	case TextLit:
		return "'" + strings.ReplaceAll(v.Value, "'", "''") + "'"
	case ColumnRef:
		if v.Qualifier != nil {
			return quoteIdent(*v.Qualifier) + "." + quoteIdent(v.Member)
		}
		return quoteIdent(v.Member)
	case EnvVar:
		return "@" + v.Member
	case FuncCall:
		return renderFuncCall(v)
	case CaseWhen:
		s := fmt.Sprintf("CASE WHEN %s THEN %s", RenderExpr(v.When), RenderExpr(v.Then))
		if v.Else != nil {
			s += " ELSE " + RenderExpr(v.Else)
		}
		return s + " END"
	case Unary:
		switch v.Op {
		case OpNot:
			return "NOT " + RenderExpr(v.X)
		case OpExists:
			return "EXISTS " + RenderExpr(v.X)
		}
	case Binary:
		return renderBinary(v)
	case Alias:
		return RenderExpr(v.X) + " AS " + quoteIdent(v.Name)
	case JoinOn:
		return RenderExpr(v.Relation) + " ON " + RenderExpr(v.On)
	case Subquery:
		return "(" + RenderWithSelect(*v.Select) + ")"
	case TableRef:
		return quoteIdent(v.Name)
	}
	return ""
}

func renderFuncCall(v FuncCall) string {
	args := make([]string, len(v.Args))
	for i, a := range v.Args {
		args[i] = RenderExpr(a)
	}
	s := fmt.Sprintf("%s(%s)", v.Name, strings.Join(args, ", "))
	if v.Over != nil {
		s += " OVER (" + renderWindowSpec(*v.Over) + ")"
	}
	return s
}

func renderWindowSpec(w WindowSpec) string {
	var parts []string
	if len(w.PartitionBy) > 0 {
		parts = append(parts, "PARTITION BY "+quoteIdentList(w.PartitionBy))
	}
	if len(w.OrderBy) > 0 {
		parts = append(parts, "ORDER BY "+renderOrderTerms(w.OrderBy))
	}
	return strings.Join(parts, " ")
}

var binaryOpText = map[BinaryOp]string{
	OpAnd: "AND", OpOr: "OR", OpEq: "=", OpNeq: "<>", OpGt: ">", OpGte: ">=",
	OpLt: "<", OpLte: "<=", OpLike: "LIKE", OpIn: "IN", OpConcat: "||",
	OpInnerJoin: "JOIN", OpLeftOuterJoin: "LEFT JOIN",
}

func renderBinary(v Binary) string {
	if v.Op == OpInnerJoin || v.Op == OpLeftOuterJoin {
		return fmt.Sprintf("%s %s %s", RenderExpr(v.L), binaryOpText[v.Op], RenderExpr(v.R))
	}
	return fmt.Sprintf("%s %s %s", RenderExpr(v.L), binaryOpText[v.Op], RenderExpr(v.R))
}
