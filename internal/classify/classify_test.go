package classify

import (
	"testing"

	"github.com/chatbi/chatbi/internal/query"
)

func result(rows int, cols ...query.Column) *query.Result {
	r := &query.Result{Columns: cols, RowCount: rows}
	for i := 0; i < rows; i++ {
		r.Rows = append(r.Rows, map[string]any{})
	}
	return r
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		result *query.Result
		want   Hint
	}{
		{"nil result", nil, HintNone},
		{"empty result", result(0, query.Column{Name: "n", Type: query.TypeInteger}), HintNone},
		{"single scalar", result(1, query.Column{Name: "total", Type: query.TypeFloat}), HintNone},
		{
			"time series",
			result(30,
				query.Column{Name: "day", Type: query.TypeDatetime},
				query.Column{Name: "revenue", Type: query.TypeFloat}),
			HintLine,
		},
		{
			"multi series over time",
			result(30,
				query.Column{Name: "day", Type: query.TypeDatetime},
				query.Column{Name: "revenue", Type: query.TypeFloat},
				query.Column{Name: "orders", Type: query.TypeInteger}),
			HintLine,
		},
		{
			"small categorical breakdown",
			result(8,
				query.Column{Name: "region", Type: query.TypeText},
				query.Column{Name: "sales", Type: query.TypeFloat}),
			HintPie,
		},
		{
			"large categorical breakdown",
			result(50,
				query.Column{Name: "region", Type: query.TypeText},
				query.Column{Name: "sales", Type: query.TypeFloat}),
			HintBar,
		},
		{
			"category with two measures",
			result(10,
				query.Column{Name: "product", Type: query.TypeText},
				query.Column{Name: "sales", Type: query.TypeFloat},
				query.Column{Name: "units", Type: query.TypeInteger}),
			HintBar,
		},
		{
			"wide result",
			result(10,
				query.Column{Name: "product", Type: query.TypeText},
				query.Column{Name: "region", Type: query.TypeText},
				query.Column{Name: "sales", Type: query.TypeFloat}),
			HintTable,
		},
		{
			"all text",
			result(5,
				query.Column{Name: "name", Type: query.TypeText}),
			HintTable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.result, DefaultSmallN); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyBoundary(t *testing.T) {
	cols := []query.Column{
		{Name: "region", Type: query.TypeText},
		{Name: "sales", Type: query.TypeFloat},
	}
	if got := Classify(result(DefaultSmallN, cols...), DefaultSmallN); got != HintPie {
		t.Fatalf("at cutoff expected pie, got %s", got)
	}
	if got := Classify(result(DefaultSmallN+1, cols...), DefaultSmallN); got != HintBar {
		t.Fatalf("above cutoff expected bar, got %s", got)
	}
}

func TestClassifyIsTotal(t *testing.T) {
	types := []query.ValueType{
		query.TypeInteger, query.TypeFloat, query.TypeText,
		query.TypeDatetime, query.TypeBoolean,
	}
	known := map[Hint]bool{HintNone: true, HintLine: true, HintBar: true, HintPie: true, HintTable: true}
	for _, a := range types {
		for _, b := range types {
			for _, rows := range []int{0, 1, 5, 100} {
				r := result(rows,
					query.Column{Name: "a", Type: a},
					query.Column{Name: "b", Type: b})
				hint := Classify(r, DefaultSmallN)
				if !known[hint] {
					t.Fatalf("unknown hint %q for %s/%s rows=%d", hint, a, b, rows)
				}
			}
		}
	}
}
