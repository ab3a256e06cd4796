// Package olap plans GROUP BY / aggregate SQL over declared fact tables.
// Only identifiers present in a table's measure/dimension whitelist may
// appear anywhere in a request; anything else is rejected outright, never
// quoted-and-allowed.
package olap

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	compiled "github.com/quarryql/quarry/internal/compiled"
	qerr "github.com/quarryql/quarry/internal/qerr"
)

// Request is the parsed shape of one aggregate query.
type Request struct {
	GroupBy        []string
	Aggregates     []string // "revenue" (default fn) or "revenue_avg"
	AutoAggregates bool
	Where          map[string]any
	Having         map[string]any // alias -> value or {op: value}
	OrderBy        []string       // "revenue_sum" or "revenue_sum desc"
	Limit          uint64
	Offset         uint64
}

// Plan is a ready-to-execute parameterized statement plus the alias list of
// its selected columns in order.
type Plan struct {
	SQL     string
	Args    []any
	Columns []string
}

var aggregateFuncs = map[string]string{
	"count":          "COUNT",
	"count_distinct": "COUNT(DISTINCT %s)",
	"sum":            "SUM",
	"avg":            "AVG",
	"min":            "MIN",
	"max":            "MAX",
	"stddev":         "STDDEV",
	"variance":       "VARIANCE",
}

var havingOps = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// BuildPlan validates req against ft's whitelist and produces the SQL plan.
// Unknown identifiers and empty group-by requests (when the table forbids
// them) are validation errors surfaced before any SQL runs.
func BuildPlan(ft *compiled.FactTable, dialect string, req Request) (*Plan, error) {
	p := &planner{ft: ft, dialect: dialect}
	return p.build(req)
}

type planner struct {
	ft      *compiled.FactTable
	dialect string
}

func (p *planner) build(req Request) (*Plan, error) {
	// The empty-request guard keys off what the caller actually wrote:
	// auto-filled aggregates must not rescue a bare request against a table
	// that forbids ungrouped scans.
	if len(req.GroupBy) == 0 && len(req.Aggregates) == 0 && !p.ft.AllowEmptyGroupBy {
		return nil, qerr.New(qerr.KindValidation,
			"aggregate request for %q supplies no dimensions and no aggregates", p.ft.Name)
	}
	aggregates := req.Aggregates
	if len(aggregates) == 0 && req.AutoAggregates {
		for _, m := range p.ft.Measures {
			aggregates = append(aggregates, m.Name)
		}
	}
	if len(req.GroupBy) == 0 && len(aggregates) == 0 {
		aggregates = []string{"count"}
	}

	var selectCols, groupExprs, aliases []string

	for _, dim := range req.GroupBy {
		d := p.dimension(dim)
		if d == nil {
			return nil, qerr.New(qerr.KindValidation, "unknown dimension %q in groupBy for %q", dim, p.ft.Name)
		}
		expr := p.dimensionExpr(d)
		selectCols = append(selectCols, fmt.Sprintf("%s AS %s", expr, d.Name))
		groupExprs = append(groupExprs, expr)
		aliases = append(aliases, d.Name)
	}

	aggExprs := make(map[string]string) // alias -> expression, for HAVING/ORDER BY
	for _, a := range aggregates {
		expr, alias, err := p.aggregateExpr(a)
		if err != nil {
			return nil, err
		}
		selectCols = append(selectCols, fmt.Sprintf("%s AS %s", expr, alias))
		aggExprs[alias] = expr
		aliases = append(aliases, alias)
	}

	builder := sq.Select(selectCols...).From(p.ft.TableName)
	if p.dialect == "postgres" {
		builder = builder.PlaceholderFormat(sq.Dollar)
	}

	whereKeys := make([]string, 0, len(req.Where))
	for k := range req.Where {
		whereKeys = append(whereKeys, k)
	}
	sort.Strings(whereKeys)
	for _, key := range whereKeys {
		expr, err := p.filterExpr(key)
		if err != nil {
			return nil, err
		}
		cond, err := conditionFor(expr, req.Where[key])
		if err != nil {
			return nil, err
		}
		builder = builder.Where(cond)
	}

	if len(groupExprs) > 0 {
		builder = builder.GroupBy(groupExprs...)
	}

	havingKeys := make([]string, 0, len(req.Having))
	for k := range req.Having {
		havingKeys = append(havingKeys, k)
	}
	sort.Strings(havingKeys)
	for _, alias := range havingKeys {
		expr, ok := aggExprs[alias]
		if !ok {
			return nil, qerr.New(qerr.KindValidation, "having references %q which is not a selected aggregate", alias)
		}
		cond, err := conditionFor(expr, req.Having[alias])
		if err != nil {
			return nil, err
		}
		builder = builder.Having(cond)
	}

	selected := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		selected[a] = true
	}
	for _, ord := range req.OrderBy {
		alias, dir, err := parseOrder(ord)
		if err != nil {
			return nil, err
		}
		if !selected[alias] {
			return nil, qerr.New(qerr.KindValidation, "orderBy references %q which is not a selected column", alias)
		}
		builder = builder.OrderBy(alias + " " + dir)
	}

	if req.Limit > 0 {
		builder = builder.Limit(req.Limit)
	}
	if req.Offset > 0 {
		builder = builder.Offset(req.Offset)
	}

	sqlText, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("assemble aggregate SQL: %w", err)
	}
	return &Plan{SQL: sqlText, Args: args, Columns: aliases}, nil
}

func (p *planner) dimension(name string) *compiled.Dimension {
	for _, d := range p.ft.Dimensions {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (p *planner) measure(name string) *compiled.Measure {
	for _, m := range p.ft.Measures {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// dimensionExpr renders the extraction expression for a dimension. A
// dimension without an extraction path reads a plain row column; otherwise
// the value lives in the JSON document column.
func (p *planner) dimensionExpr(d *compiled.Dimension) string {
	if d.ExtractionPath == "" {
		return d.Name
	}
	switch p.dialect {
	case "postgres":
		parts := strings.Split(d.ExtractionPath, ".")
		expr := "data"
		for i, part := range parts {
			op := "->"
			if i == len(parts)-1 {
				op = "->>"
			}
			expr += fmt.Sprintf("%s'%s'", op, part)
		}
		return expr
	case "mysql":
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(data, '$.%s'))", d.ExtractionPath)
	default: // sqlite
		return fmt.Sprintf("json_extract(data, '$.%s')", d.ExtractionPath)
	}
}

// aggregateExpr resolves one aggregates entry: either a bare measure name
// using its declared default function, or "<measure>_<fn>" overriding it.
// "count" is allowed without a measure and counts rows.
func (p *planner) aggregateExpr(entry string) (expr, alias string, err error) {
	if entry == "count" {
		return "COUNT(*)", "count", nil
	}
	name, fn := entry, ""
	if m := p.measure(entry); m != nil {
		fn = m.AggregationDefault
		if fn == "" {
			fn = "sum"
		}
	} else if n, multi := strings.CutSuffix(entry, "_count_distinct"); multi && n != "" {
		// Two-word suffix, so the generic last-underscore split below would
		// misread the function as "distinct".
		name, fn = n, "count_distinct"
		if p.measure(name) == nil {
			return "", "", qerr.New(qerr.KindValidation, "unknown measure %q in aggregates for %q", name, p.ft.Name)
		}
	} else if i := strings.LastIndex(entry, "_"); i > 0 {
		name, fn = entry[:i], entry[i+1:]
		if p.measure(name) == nil {
			return "", "", qerr.New(qerr.KindValidation, "unknown measure %q in aggregates for %q", name, p.ft.Name)
		}
	} else {
		return "", "", qerr.New(qerr.KindValidation, "unknown measure %q in aggregates for %q", entry, p.ft.Name)
	}
	sqlFn, ok := aggregateFuncs[fn]
	if !ok {
		return "", "", qerr.New(qerr.KindValidation, "unknown aggregation function %q for measure %q", fn, name)
	}
	alias = name + "_" + fn
	if strings.Contains(sqlFn, "%s") {
		return fmt.Sprintf(sqlFn, name), alias, nil
	}
	return fmt.Sprintf("%s(%s)", sqlFn, name), alias, nil
}

// filterExpr resolves a where key to a dimension expression or a declared
// denormalized column; everything else is rejected.
func (p *planner) filterExpr(key string) (string, error) {
	if d := p.dimension(key); d != nil {
		return p.dimensionExpr(d), nil
	}
	for _, col := range p.ft.DenormalizedColumns {
		if col == key {
			return col, nil
		}
	}
	return "", qerr.New(qerr.KindValidation, "unknown filter column %q for %q", key, p.ft.Name)
}

// conditionFor maps a filter value to a squirrel condition: a scalar means
// equality, a map means {op: value} comparisons.
func conditionFor(expr string, value any) (sq.Sqlizer, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		return sq.Expr(expr+" = ?", value), nil
	}
	conds := make(sq.And, 0, len(ops))
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, op := range keys {
		sqlOp, known := havingOps[op]
		if !known {
			return nil, qerr.New(qerr.KindValidation, "unknown comparison operator %q", op)
		}
		conds = append(conds, sq.Expr(fmt.Sprintf("%s %s ?", expr, sqlOp), ops[op]))
	}
	return conds, nil
}

func parseOrder(entry string) (alias, dir string, err error) {
	parts := strings.Fields(entry)
	switch len(parts) {
	case 1:
		return parts[0], "ASC", nil
	case 2:
		switch strings.ToLower(parts[1]) {
		case "asc":
			return parts[0], "ASC", nil
		case "desc":
			return parts[0], "DESC", nil
		}
	}
	return "", "", qerr.New(qerr.KindValidation, "malformed orderBy entry %q", entry)
}
