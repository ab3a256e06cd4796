package compiler

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	compiled "github.com/quarryql/quarry/internal/compiled"
	ir "github.com/quarryql/quarry/internal/ir"
	qerr "github.com/quarryql/quarry/internal/qerr"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// generateSQL renders the parameterized template for one operation. Only
// vetted identifiers (the declared source and snake_cased argument columns)
// ever reach the SQL text; argument values are always placeholders, bound at
// execution time in ArgOrder.
func (c *builder) generateSQL(def *ir.OperationDef, op *compiled.Operation) (string, []string, error) {
	source := def.SQLSource
	if err := c.checkIdent(op.Name, source); err != nil {
		return "", nil, err
	}
	for _, a := range op.Args {
		if err := c.checkIdent(op.Name, a.SQLColumn); err != nil {
			return "", nil, err
		}
	}
	switch def.EffectiveKind() {
	case ir.OpQuery:
		return c.selectSQL(source, op)
	case ir.OpCreate:
		return c.insertSQL(source, op)
	case ir.OpUpdate:
		return c.updateSQL(source, op)
	case ir.OpDelete:
		return c.deleteSQL(source, op)
	case ir.OpCustom:
		return c.functionSQL(source, op)
	default:
		return "", nil, qerr.New(qerr.KindCompilation, "operation %q: unknown operationKind %q", def.Name, def.Kind)
	}
}

func (c *builder) checkIdent(opName, ident string) error {
	if !identRe.MatchString(ident) {
		return qerr.New(qerr.KindCompilation, "operation %q: %q is not a valid SQL identifier", opName, ident)
	}
	return nil
}

// extractionPathRe admits dot-separated identifier segments only; the path is
// interpolated into a JSON path literal by the planner.
var extractionPathRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// factIdent vets one identifier declared on a fact table. These names reach
// the planner's generated SQL verbatim, so they pass the same whitelist as
// operation sources.
func factIdent(table, what, ident string) error {
	if !identRe.MatchString(ident) {
		return qerr.New(qerr.KindCompilation,
			"fact table %q: %s %q is not a valid SQL identifier", table, what, ident)
	}
	return nil
}

func (c *builder) selectSQL(source string, op *compiled.Operation) (string, []string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", source)
	argOrder := make([]string, 0, len(op.Args))
	for i, a := range op.Args {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = %s", a.SQLColumn, c.placeholder(i+1))
		argOrder = append(argOrder, a.Name)
	}
	return b.String(), argOrder, nil
}

func (c *builder) insertSQL(source string, op *compiled.Operation) (string, []string, error) {
	if len(op.Args) == 0 {
		return "", nil, qerr.New(qerr.KindCompilation, "create operation %q has no arguments to insert", op.Name)
	}
	cols := make([]string, 0, len(op.Args))
	holes := make([]string, 0, len(op.Args))
	argOrder := make([]string, 0, len(op.Args))
	for i, a := range op.Args {
		cols = append(cols, a.SQLColumn)
		holes = append(holes, c.placeholder(i+1))
		argOrder = append(argOrder, a.Name)
	}
	sqlText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		source, strings.Join(cols, ", "), strings.Join(holes, ", "))
	sqlText, err := c.withReturning(op.Name, sqlText)
	return sqlText, argOrder, err
}

func (c *builder) updateSQL(source string, op *compiled.Operation) (string, []string, error) {
	keys, rest := splitKeys(op.Args)
	if len(keys) == 0 {
		return "", nil, qerr.New(qerr.KindCompilation, "update operation %q has no key argument", op.Name)
	}
	if len(rest) == 0 {
		return "", nil, qerr.New(qerr.KindCompilation, "update operation %q has nothing to set", op.Name)
	}
	var b strings.Builder
	argOrder := make([]string, 0, len(op.Args))
	fmt.Fprintf(&b, "UPDATE %s SET ", source)
	n := 1
	for i, a := range rest {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = %s", a.SQLColumn, c.placeholder(n))
		argOrder = append(argOrder, a.Name)
		n++
	}
	b.WriteString(" WHERE ")
	for i, a := range keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = %s", a.SQLColumn, c.placeholder(n))
		argOrder = append(argOrder, a.Name)
		n++
	}
	sqlText, err := c.withReturning(op.Name, b.String())
	return sqlText, argOrder, err
}

func (c *builder) deleteSQL(source string, op *compiled.Operation) (string, []string, error) {
	keys, _ := splitKeys(op.Args)
	if len(keys) == 0 {
		return "", nil, qerr.New(qerr.KindCompilation, "delete operation %q has no key argument", op.Name)
	}
	var b strings.Builder
	argOrder := make([]string, 0, len(keys))
	fmt.Fprintf(&b, "DELETE FROM %s WHERE ", source)
	for i, a := range keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = %s", a.SQLColumn, c.placeholder(i+1))
		argOrder = append(argOrder, a.Name)
	}
	sqlText, err := c.withReturning(op.Name, b.String())
	return sqlText, argOrder, err
}

// functionSQL binds a CUSTOM operation to a SQL function call. Only the
// postgres dialect has callable functions.
func (c *builder) functionSQL(source string, op *compiled.Operation) (string, []string, error) {
	if c.dialect != "postgres" {
		return "", nil, qerr.New(qerr.KindCompilation,
			"operation %q: CUSTOM function binding is not supported on dialect %q", op.Name, c.dialect)
	}
	holes := make([]string, 0, len(op.Args))
	argOrder := make([]string, 0, len(op.Args))
	for i, a := range op.Args {
		holes = append(holes, c.placeholder(i+1))
		argOrder = append(argOrder, a.Name)
	}
	sqlText := fmt.Sprintf("SELECT * FROM %s(%s)", source, strings.Join(holes, ", "))
	return sqlText, argOrder, nil
}

// applyRowFilter compiles the row filter predicate into the operation's SQL.
// The column is fixed here; only the value is bound at execution time, so a
// caller can never widen the filter. For CREATE the filter column becomes an
// inserted column instead, forcing writes into the caller's partition.
func (c *builder) applyRowFilter(op *compiled.Operation) error {
	rf := op.Security.RowFilter
	if rf == nil || op.FactTable != nil {
		return nil
	}
	if err := c.checkIdent(op.Name, rf.Column); err != nil {
		return err
	}
	ph := c.placeholder(len(op.ArgOrder) + 1)

	switch op.Kind {
	case "CREATE":
		i := strings.Index(op.SQL, ") VALUES (")
		if i < 0 {
			return qerr.New(qerr.KindCompilation, "operation %q: malformed insert template", op.Name)
		}
		head := op.SQL[:i] + ", " + rf.Column + ") VALUES ("
		tail := op.SQL[i+len(") VALUES ("):]
		j := strings.Index(tail, ")")
		if j < 0 {
			return qerr.New(qerr.KindCompilation, "operation %q: malformed insert template", op.Name)
		}
		op.SQL = head + tail[:j] + ", " + ph + tail[j:]
	case "UPDATE", "DELETE":
		pred := " AND " + rf.Column + " = " + ph
		if i := strings.Index(op.SQL, " RETURNING"); i >= 0 {
			op.SQL = op.SQL[:i] + pred + op.SQL[i:]
		} else {
			op.SQL += pred
		}
	default:
		if strings.Contains(op.SQL, " WHERE ") {
			op.SQL += " AND " + rf.Column + " = " + ph
		} else {
			op.SQL += " WHERE " + rf.Column + " = " + ph
		}
	}
	op.ArgOrder = append(op.ArgOrder, compiled.RowFilterArg)
	return nil
}

// withReturning appends RETURNING * so mutations yield the affected row.
func (c *builder) withReturning(name, sqlText string) (string, error) {
	switch c.dialect {
	case "postgres", "sqlite3":
		return sqlText + " RETURNING *", nil
	default:
		return "", qerr.New(qerr.KindCompilation,
			"operation %q: mutations are not supported on dialect %q", name, c.dialect)
	}
}

func (c *builder) placeholder(n int) string {
	if c.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// splitKeys partitions arguments into key args (primaryKey, or named "id"
// when nothing is marked) and the rest, preserving declared order.
func splitKeys(args []*compiled.Arg) (keys, rest []*compiled.Arg) {
	marked := false
	for _, a := range args {
		if a.PrimaryKey {
			marked = true
			break
		}
	}
	for _, a := range args {
		switch {
		case marked && a.PrimaryKey:
			keys = append(keys, a)
		case !marked && a.Name == "id":
			keys = append(keys, a)
		default:
			rest = append(rest, a)
		}
	}
	return keys, rest
}

// columnFor maps a declared argument to its bound column.
func columnFor(a *ir.ArgDef) string {
	if a.SQLColumn != "" {
		return a.SQLColumn
	}
	return snakeCase(a.Name)
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
