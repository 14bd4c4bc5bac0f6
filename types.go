package migrate

// SqlType is the type assigned to a column or to the result of an
// expression. Integer, Text and Real are physical column types the
// parser accepts; Bool only ever appears as the inferred type of a
// boolean expression (comparisons, AND/OR, NOT) and never labels a
// column.
type SqlType int

const (
	Integer SqlType = iota
	Text
	Real
	Bool
)

func (t SqlType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Text:
		return "text"
	case Real:
		return "real"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Expr is the recursive expression sum type shared by column defaults,
// INSERT row values, and every clause of a SELECT.
type Expr interface {
	exprNode()
}

// IntegerLit is an integer literal, e.g. 42.
type IntegerLit struct {
	Value int64
}

// TextLit is a single-quoted string literal.
type TextLit struct {
	Value string
}

// RealLit is a floating point literal.
type RealLit struct {
	Value float64
}

// ColumnRef is a (possibly qualified) column reference, e.g. t.id or id.
type ColumnRef struct {
	Qualifier *string
	Member    string
}

// EnvVar is an `@name` reference, resolved against the process
// environment at migration-planning time (spec.md §4.3).
type EnvVar struct {
	Member string
}

// WindowSpec is the OVER(...) clause following a function call.
type WindowSpec struct {
	PartitionBy []string
	OrderBy     []OrderTerm
}

// FuncCall is a function invocation, optionally windowed.
type FuncCall struct {
	Name string
	Args []Expr
	Over *WindowSpec
}

// CaseWhen is `CASE WHEN x THEN y ELSE z END`.
type CaseWhen struct {
	When Expr
	Then Expr
	Else Expr
}

// UnaryOp enumerates the unary expression operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpExists
)

// Unary is a unary expression: NOT x or EXISTS (subquery).
type Unary struct {
	Op UnaryOp
	X  Expr
}

// BinaryOp enumerates the binary expression operators, in ascending
// precedence: And/Or lowest, then the comparisons, then Concat,
// then the join operators (used only inside FROM clauses).
type BinaryOp int

const (
	OpAnd BinaryOp = iota
	OpOr
	OpEq
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpLike
	OpIn
	OpConcat
	OpInnerJoin
	OpLeftOuterJoin
)

// Binary is a two-operand expression.
type Binary struct {
	Op BinaryOp
	L  Expr
	R  Expr
}

// Alias is `expr AS name`, used in projections and FROM items.
type Alias struct {
	X    Expr
	Name string
}

// JoinOn is `relation ON expr`, the right-hand side of a join.
type JoinOn struct {
	Relation Expr
	On       Expr
}

// Subquery wraps a parenthesized SELECT used as an expression (IN,
// EXISTS, or a FROM item).
type Subquery struct {
	Select *WithSelect
}

// TableRef is a bare table name used in a FROM clause.
type TableRef struct {
	Name string
}

func (IntegerLit) exprNode() {}
func (TextLit) exprNode()    {}
func (RealLit) exprNode()    {}
func (ColumnRef) exprNode()  {}
func (EnvVar) exprNode()     {}
func (FuncCall) exprNode()   {}
func (CaseWhen) exprNode()   {}
func (Unary) exprNode()      {}
func (Binary) exprNode()     {}
func (Alias) exprNode()      {}
func (JoinOn) exprNode()     {}
func (Subquery) exprNode()   {}
func (TableRef) exprNode()   {}

// OrderTerm is one column of an ORDER BY clause.
type OrderTerm struct {
	Column string
	Desc   bool
}

// Select is a single SELECT statement, sans any CTEs it may be nested
// under (those live on WithSelect).
type Select struct {
	Distinct   bool
	Star       bool // SELECT * — Projection is empty when true
	Projection []Expr
	From       Expr // nil, TableRef, Alias, Binary{Op: join}, or JoinOn
	Where      Expr
	GroupBy    []string
	Having     Expr
	OrderBy    []OrderTerm
	Limit      *int64
	Offset     *int64
}

// Cte is one `name AS (select)` clause of a WITH list.
type Cte struct {
	Name   string
	Select Select
}

// WithSelect is an optional list of CTEs followed by a SELECT; it is
// the payload of a CREATE VIEW and of any subquery.
type WithSelect struct {
	Ctes   []Cte
	Select Select
}

// ColumnConstraint is the sum type shared by per-column and table-level
// constraints (spec.md §3). PrimaryKeyCols and multi-column Unique /
// ForeignKey variants appear in CreateTable.Constraints; PrimaryKey,
// NotNull and Default appear in ColumnDef.Constraints.
type ColumnConstraint interface {
	columnConstraintNode()
}

// PrimaryKey marks a single column as the table's primary key.
type PrimaryKey struct {
	AutoIncrement bool
}

// PrimaryKeyCols is a table-level composite primary key.
type PrimaryKeyCols struct {
	Columns []string
}

// NotNull marks a column as non-nullable.
type NotNull struct{}

// Unique is a (possibly multi-column) UNIQUE constraint. A column-level
// bare UNIQUE carries its own column name as the sole entry.
type Unique struct {
	Columns []string
}

// Default supplies the value used when a column is omitted from an
// INSERT, and the value ALTER TABLE ADD COLUMN must supply for
// existing rows.
type Default struct {
	Value Expr
}

// ForeignKey constrains one or more columns to reference another
// table's columns.
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string
}

func (PrimaryKey) columnConstraintNode()     {}
func (PrimaryKeyCols) columnConstraintNode() {}
func (NotNull) columnConstraintNode()        {}
func (Unique) columnConstraintNode()         {}
func (Default) columnConstraintNode()        {}
func (ForeignKey) columnConstraintNode()     {}

// ColumnDef is one column of a CREATE TABLE.
type ColumnDef struct {
	Name        string
	Type        SqlType
	Constraints []ColumnConstraint
}

// CreateTable is a parsed CREATE TABLE statement.
type CreateTable struct {
	Name        string
	Columns     []ColumnDef
	Constraints []ColumnConstraint
}

// CreateView is a parsed CREATE VIEW statement.
type CreateView struct {
	Name   string
	Select WithSelect
}

// CreateIndex is a parsed CREATE INDEX statement.
type CreateIndex struct {
	Name    string
	Table   string
	Columns []string
}

// InsertInto is a parsed INSERT INTO ... VALUES statement describing
// the rows a synchronized table should contain.
type InsertInto struct {
	Table   string
	Columns []string
	Values  [][]Expr
}

// SqlFile is the fully parsed contents of one or more concatenated SQL
// schema statements — the unit the Differ compares current against
// desired.
type SqlFile struct {
	Tables  []CreateTable
	Views   []CreateView
	Indexes []CreateIndex
	Inserts []InsertInto
}

// Table looks up a table by name, returning ok=false if absent.
func (f *SqlFile) Table(name string) (CreateTable, bool) {
	for _, t := range f.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return CreateTable{}, false
}

// PrimaryKeyColumns returns the ordered primary key columns of t,
// whether declared at the column level (PrimaryKey) or the table
// level (PrimaryKeyCols).
func (t *CreateTable) PrimaryKeyColumns() []string {
	var cols []string
	for _, c := range t.Constraints {
		if pk, ok := c.(PrimaryKeyCols); ok {
			cols = append(cols, pk.Columns...)
		}
	}
	for _, col := range t.Columns {
		for _, c := range col.Constraints {
			if _, ok := c.(PrimaryKey); ok {
				cols = append(cols, col.Name)
			}
		}
	}
	return cols
}

// PrimaryKeyDeclCount returns how many separate PRIMARY KEY
// declarations (column-level or table-level) the table carries — used
// to detect TableShouldHaveSinglePrimaryKey violations.
func (t *CreateTable) PrimaryKeyDeclCount() int {
	count := 0
	for _, c := range t.Constraints {
		if _, ok := c.(PrimaryKeyCols); ok {
			count++
		}
	}
	for _, col := range t.Columns {
		for _, c := range col.Constraints {
			if _, ok := c.(PrimaryKey); ok {
				count++
			}
		}
	}
	return count
}
