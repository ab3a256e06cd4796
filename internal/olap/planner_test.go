package olap

import (
	"testing"

	"github.com/stretchr/testify/require"

	compiled "github.com/quarryql/quarry/internal/compiled"
	qerr "github.com/quarryql/quarry/internal/qerr"
)

func salesTable() *compiled.FactTable {
	return &compiled.FactTable{
		Name:      "sales",
		TableName: "tf_sales",
		Measures: []*compiled.Measure{
			{Name: "revenue", Type: "Float", AggregationDefault: "sum"},
			{Name: "quantity", Type: "Int", AggregationDefault: "sum"},
		},
		Dimensions: []*compiled.Dimension{
			{Name: "region", ExtractionPath: "region"},
			{Name: "channel", ExtractionPath: "meta.channel"},
			{Name: "store_id"},
		},
		DenormalizedColumns: []string{"customer_id"},
	}
}

func TestAutoAggregatesWithGroupBy(t *testing.T) {
	plan, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:        []string{"region"},
		AutoAggregates: true,
	})
	require.NoError(t, err)
	require.Equal(t,
		"SELECT json_extract(data, '$.region') AS region, SUM(revenue) AS revenue_sum, SUM(quantity) AS quantity_sum "+
			"FROM tf_sales GROUP BY json_extract(data, '$.region')",
		plan.SQL)
	require.Empty(t, plan.Args)
	require.Equal(t, []string{"region", "revenue_sum", "quantity_sum"}, plan.Columns)
}

func TestExplicitAggregateOverride(t *testing.T) {
	plan, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:    []string{"store_id"},
		Aggregates: []string{"revenue_avg", "count"},
	})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "AVG(revenue) AS revenue_avg")
	require.Contains(t, plan.SQL, "COUNT(*) AS count")
	require.Contains(t, plan.SQL, "GROUP BY store_id")
}

func TestCountDistinctOverride(t *testing.T) {
	plan, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:    []string{"region"},
		Aggregates: []string{"quantity_count_distinct"},
	})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "COUNT(DISTINCT quantity) AS quantity_count_distinct")
	require.Equal(t, []string{"region", "quantity_count_distinct"}, plan.Columns)
}

func TestUnknownDimensionRejected(t *testing.T) {
	_, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:        []string{"nonexistent_dimension"},
		AutoAggregates: true,
	})
	require.Error(t, err)
	require.Equal(t, qerr.KindValidation, qerr.KindOf(err))
	require.Contains(t, err.Error(), `unknown dimension "nonexistent_dimension"`)
}

func TestUnknownMeasureRejected(t *testing.T) {
	for _, entry := range []string{"profit", "profit_sum", "revenue_median"} {
		_, err := BuildPlan(salesTable(), "sqlite3", Request{
			GroupBy:    []string{"region"},
			Aggregates: []string{entry},
		})
		require.Error(t, err, "entry %q", entry)
		require.Equal(t, qerr.KindValidation, qerr.KindOf(err))
	}
}

func TestEmptyGroupByRejectedByDefault(t *testing.T) {
	_, err := BuildPlan(salesTable(), "sqlite3", Request{AutoAggregates: false})
	require.Error(t, err)
	require.Equal(t, qerr.KindValidation, qerr.KindOf(err))
	require.Contains(t, err.Error(), "no dimensions and no aggregates")
}

func TestEmptyGroupByRejectedEvenWithAutoAggregates(t *testing.T) {
	// Auto-filled measure aggregates must not turn a bare request into a
	// whole-table scan on a table that forbids ungrouped queries.
	_, err := BuildPlan(salesTable(), "sqlite3", Request{AutoAggregates: true})
	require.Error(t, err)
	require.Equal(t, qerr.KindValidation, qerr.KindOf(err))
	require.Contains(t, err.Error(), "no dimensions and no aggregates")
}

func TestEmptyGroupByAllowedWhenOptedIn(t *testing.T) {
	ft := salesTable()
	ft.AllowEmptyGroupBy = true
	plan, err := BuildPlan(ft, "sqlite3", Request{})
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(*) AS count FROM tf_sales", plan.SQL)
}

func TestWhereOnDenormalizedColumnAndDimension(t *testing.T) {
	plan, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:        []string{"region"},
		AutoAggregates: true,
		Where: map[string]any{
			"customer_id": 42,
			"region":      "emea",
		},
	})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "WHERE customer_id = ? AND json_extract(data, '$.region') = ?")
	require.Equal(t, []any{42, "emea"}, plan.Args)
}

func TestWhereOperatorMap(t *testing.T) {
	plan, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:        []string{"region"},
		AutoAggregates: true,
		Where:          map[string]any{"customer_id": map[string]any{"gte": 10, "lt": 20}},
	})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "(customer_id >= ? AND customer_id < ?)")
	require.Equal(t, []any{10, 20}, plan.Args)
}

func TestWhereOnArbitraryColumnRejected(t *testing.T) {
	_, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:        []string{"region"},
		AutoAggregates: true,
		Where:          map[string]any{"secret_col; DROP TABLE tf_sales": 1},
	})
	require.Error(t, err)
	require.Equal(t, qerr.KindValidation, qerr.KindOf(err))
}

func TestHavingAndOrderBy(t *testing.T) {
	plan, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:        []string{"region"},
		AutoAggregates: true,
		Having:         map[string]any{"revenue_sum": map[string]any{"gt": 1000}},
		OrderBy:        []string{"revenue_sum desc"},
		Limit:          10,
		Offset:         5,
	})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "HAVING (SUM(revenue) > ?)")
	require.Contains(t, plan.SQL, "ORDER BY revenue_sum DESC")
	require.Contains(t, plan.SQL, "LIMIT 10")
	require.Contains(t, plan.SQL, "OFFSET 5")
	require.Equal(t, []any{1000}, plan.Args)
}

func TestHavingOnUnselectedAggregateRejected(t *testing.T) {
	_, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:    []string{"region"},
		Aggregates: []string{"revenue"},
		Having:     map[string]any{"quantity_sum": map[string]any{"gt": 1}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a selected aggregate")
}

func TestOrderByUnselectedColumnRejected(t *testing.T) {
	_, err := BuildPlan(salesTable(), "sqlite3", Request{
		GroupBy:        []string{"region"},
		AutoAggregates: true,
		OrderBy:        []string{"channel"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a selected column")
}

func TestPostgresDialectExpressions(t *testing.T) {
	plan, err := BuildPlan(salesTable(), "postgres", Request{
		GroupBy:        []string{"channel"},
		AutoAggregates: true,
		Where:          map[string]any{"customer_id": 7},
	})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "data->'meta'->>'channel' AS channel")
	require.Contains(t, plan.SQL, "customer_id = $1")
}
