// Package classify picks a chart hint for a query result from its column
// shape alone. The function is total: every result maps to exactly one hint.
package classify

import "github.com/chatbi/chatbi/internal/query"

// Hint is a rendering suggestion, not a mandate. Clients may always fall
// back to a table.
type Hint string

const (
	HintNone  Hint = "none"
	HintLine  Hint = "line"
	HintBar   Hint = "bar"
	HintPie   Hint = "pie"
	HintTable Hint = "table"
)

// DefaultSmallN is the row-count cutoff below which a single-category
// breakdown reads better as a pie than a bar.
const DefaultSmallN = 20

// Classify inspects the result shape and returns a hint. smallN controls
// the pie-versus-bar cutoff; values below one fall back to DefaultSmallN.
func Classify(result *query.Result, smallN int) Hint {
	if smallN < 1 {
		smallN = DefaultSmallN
	}
	if result == nil || result.RowCount == 0 {
		return HintNone
	}
	if result.RowCount == 1 && len(result.Columns) == 1 {
		return HintNone
	}

	var datetimeCols, numericCols, textCols int
	for _, col := range result.Columns {
		switch col.Type {
		case query.TypeDatetime:
			datetimeCols++
		case query.TypeInteger, query.TypeFloat:
			numericCols++
		case query.TypeText, query.TypeBoolean:
			textCols++
		}
	}

	if datetimeCols == 1 && numericCols >= 1 {
		return HintLine
	}
	if textCols == 1 && numericCols == 1 && datetimeCols == 0 && result.RowCount <= smallN {
		return HintPie
	}
	if textCols == 1 && numericCols >= 1 && datetimeCols == 0 {
		return HintBar
	}
	return HintTable
}
