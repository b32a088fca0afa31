// Package quality scores how completely the warehouse metadata is
// documented. Comment coverage drives how well the SQL generator can match
// business terms, so the report ranks the gaps that hurt most first.
package quality

import (
	"fmt"
	"math"
	"sort"

	"github.com/chatbi/chatbi/internal/schema"
)

// Column comments dominate prompt size and carry most of the business
// vocabulary, so they weigh heavier than table comments.
const (
	tableWeight  = 0.4
	columnWeight = 0.6
)

type Report struct {
	TotalTables           int      `json:"total_tables"`
	TotalColumns          int      `json:"total_columns"`
	TablesWithComments    int      `json:"tables_with_comments"`
	ColumnsWithComments   int      `json:"columns_with_comments"`
	TableCommentCoverage  float64  `json:"table_comment_coverage"`
	ColumnCommentCoverage float64  `json:"column_comment_coverage"`
	OverallScore          float64  `json:"overall_score"`
	Suggestions           []string `json:"suggestions"`
}

// Evaluate is a pure function over a snapshot. usage counts how often each
// table appeared in recent queries; frequently queried but undocumented
// tables rank first in the suggestions.
func Evaluate(snapshot *schema.Snapshot, usage map[string]int) Report {
	report := Report{}
	if snapshot == nil {
		return report
	}

	type gap struct {
		table   string
		usage   int
		columns []string
	}
	gaps := make([]gap, 0)

	for _, table := range snapshot.Tables() {
		report.TotalTables++
		report.TotalColumns += len(table.Columns)

		missingTable := table.Comment == ""
		if !missingTable {
			report.TablesWithComments++
		}

		missingColumns := make([]string, 0)
		for _, column := range table.Columns {
			if column.Comment != "" {
				report.ColumnsWithComments++
			} else {
				missingColumns = append(missingColumns, column.Name)
			}
		}
		if missingTable || len(missingColumns) > 0 {
			gaps = append(gaps, gap{table: table.Name, usage: usage[table.Name], columns: missingColumns})
		}
	}

	if report.TotalTables > 0 {
		report.TableCommentCoverage = float64(report.TablesWithComments) / float64(report.TotalTables)
	}
	if report.TotalColumns > 0 {
		report.ColumnCommentCoverage = float64(report.ColumnsWithComments) / float64(report.TotalColumns)
	}
	score := (tableWeight*report.TableCommentCoverage + columnWeight*report.ColumnCommentCoverage) * 100
	report.OverallScore = math.Round(score*100) / 100

	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].usage != gaps[j].usage {
			return gaps[i].usage > gaps[j].usage
		}
		return gaps[i].table < gaps[j].table
	})

	for _, entry := range gaps {
		table, _ := snapshot.Table(entry.table)
		if table.Comment == "" {
			report.Suggestions = append(report.Suggestions,
				fmt.Sprintf("table %q has no comment", entry.table))
		}
		for _, column := range entry.columns {
			report.Suggestions = append(report.Suggestions,
				fmt.Sprintf("column %q.%q has no comment", entry.table, column))
		}
	}

	return report
}
