package sqlrt

import (
	"context"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/olap"
	"github.com/quarryql/quarry/internal/qerr"
	"github.com/quarryql/quarry/internal/security"
)

// resolveAggregate plans and runs one fact-table rollup. Planning is the
// only per-request SQL construction in the runtime, and it only ever
// assembles identifiers the compiler whitelisted.
func (r *Runtime) resolveAggregate(ctx context.Context, op *compiled.Operation, args map[string]any) (any, error) {
	req, err := aggregateRequest(args)
	if err != nil {
		return nil, err
	}

	if rf := op.Security.RowFilter; rf != nil {
		v, err := security.BindRowFilter(security.FromContext(ctx), rf)
		if err != nil {
			return nil, err
		}
		if req.Where == nil {
			req.Where = map[string]any{}
		}
		req.Where[rf.Column] = v
	}

	plan, err := olap.BuildPlan(op.FactTable, r.dialect, req)
	if err != nil {
		return nil, err
	}

	rows, err := r.queryRows(ctx, r.db, op, plan.SQL, plan.Args)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any(row))
	}
	return out, nil
}

// aggregateRequest shapes the coerced GraphQL arguments into a plan request.
func aggregateRequest(args map[string]any) (olap.Request, error) {
	req := olap.Request{}

	var err error
	if req.GroupBy, err = stringList(args["groupBy"], "groupBy"); err != nil {
		return req, err
	}
	if req.Aggregates, err = stringList(args["aggregates"], "aggregates"); err != nil {
		return req, err
	}
	if req.OrderBy, err = stringList(args["orderBy"], "orderBy"); err != nil {
		return req, err
	}
	req.AutoAggregates = len(req.Aggregates) == 0

	if w, ok := args["where"]; ok && w != nil {
		m, ok := w.(map[string]any)
		if !ok {
			return req, qerr.New(qerr.KindValidation, "argument 'where' must be an object")
		}
		req.Where = m
	}
	if h, ok := args["having"]; ok && h != nil {
		m, ok := h.(map[string]any)
		if !ok {
			return req, qerr.New(qerr.KindValidation, "argument 'having' must be an object")
		}
		req.Having = m
	}
	if n, ok := intArg(args["limit"]); ok && n > 0 {
		req.Limit = uint64(n)
	}
	if n, ok := intArg(args["offset"]); ok && n > 0 {
		req.Offset = uint64(n)
	}
	return req, nil
}

func stringList(v any, name string) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			return []string{s}, nil
		}
		return nil, qerr.New(qerr.KindValidation, "argument '%s' must be a list of strings", name)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, qerr.New(qerr.KindValidation, "argument '%s' must be a list of strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func intArg(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
