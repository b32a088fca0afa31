// Package nl2sql builds the natural-language-to-SQL prompt. The schema
// section embeds declared types and catalog comments verbatim so the model
// can reason about business meaning, not just column names.
package nl2sql

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/chatbi/chatbi/internal/schema"
)

// Turn is one prior (question, sql) pair replayed for follow-up questions.
type Turn struct {
	Question string
	SQL      string
}

type Request struct {
	Question string
	Context  []Turn
}

type BuilderConfig struct {
	// MaxSchemaBytes bounds the rendered schema section. Lowest-relevance
	// tables are dropped first when the full schema does not fit; at least
	// one table is always kept.
	MaxSchemaBytes  int
	MaxHistoryTurns int
	RowCap          int
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.MaxSchemaBytes <= 0 {
		c.MaxSchemaBytes = 12 * 1024
	}
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = 3
	}
	if c.RowCap <= 0 {
		c.RowCap = 200
	}
	return c
}

// BuildPrompt is deterministic: identical inputs produce identical prompts.
func BuildPrompt(req Request, snapshot *schema.Snapshot, cfg BuilderConfig) string {
	cfg = cfg.withDefaults()

	var builder strings.Builder
	builder.WriteString("You convert natural language business questions into a single read-only SQL query.\n\n")
	builder.WriteString(fmt.Sprintf("Database: %s\n\n", snapshot.Database()))
	builder.WriteString("Available tables:\n")
	builder.WriteString(renderSchema(req.Question, snapshot, cfg.MaxSchemaBytes))

	turns := req.Context
	if len(turns) > cfg.MaxHistoryTurns {
		turns = turns[len(turns)-cfg.MaxHistoryTurns:]
	}
	if len(turns) > 0 {
		builder.WriteString("\nPrevious questions in this conversation:\n")
		for _, turn := range turns {
			builder.WriteString(fmt.Sprintf("Q: %s\nSQL: %s\n", turn.Question, turn.SQL))
		}
	}

	builder.WriteString("\nQuestion: ")
	builder.WriteString(strings.TrimSpace(req.Question))
	builder.WriteString("\n\nRules:\n")
	builder.WriteString("- Generate exactly one SELECT statement. Never generate INSERT, UPDATE, DELETE or DDL.\n")
	builder.WriteString("- Use only the tables and columns listed above.\n")
	builder.WriteString(fmt.Sprintf("- Add a LIMIT clause of at most %d rows.\n", cfg.RowCap))
	builder.WriteString("- Use table and column comments to match the business terms in the question.\n")
	builder.WriteString("- Return the SQL inside a ```sql fenced block, followed by a one-sentence explanation.\n")
	return builder.String()
}

func renderSchema(question string, snapshot *schema.Snapshot, maxBytes int) string {
	tables := snapshot.Tables()
	blocks := make([]string, len(tables))
	scores := make([]int, len(tables))
	total := 0
	for i, table := range tables {
		blocks[i] = renderTable(table)
		scores[i] = relevanceScore(question, table)
		total += len(blocks[i])
	}

	keep := make([]int, len(tables))
	for i := range keep {
		keep[i] = i
	}
	// Drop the lowest-overlap tables until the budget is met.
	for total > maxBytes && len(keep) > 1 {
		lowest := 0
		for i := 1; i < len(keep); i++ {
			a, b := keep[i], keep[lowest]
			if scores[a] < scores[b] || (scores[a] == scores[b] && tables[a].Name > tables[b].Name) {
				lowest = i
			}
		}
		total -= len(blocks[keep[lowest]])
		keep = append(keep[:lowest], keep[lowest+1:]...)
	}

	var builder strings.Builder
	for _, i := range keep {
		builder.WriteString(blocks[i])
	}
	return builder.String()
}

func renderTable(table schema.Table) string {
	var builder strings.Builder
	builder.WriteString("\nTable: ")
	builder.WriteString(table.Name)
	if table.Comment != "" {
		builder.WriteString(" -- ")
		builder.WriteString(table.Comment)
	}
	builder.WriteString("\n")
	for _, column := range table.Columns {
		nullable := "not null"
		if column.Nullable {
			nullable = "nullable"
		}
		builder.WriteString(fmt.Sprintf("  - %s (%s, %s)", column.Name, column.DeclaredType, nullable))
		if column.Key {
			builder.WriteString(" [key]")
		}
		if column.Comment != "" {
			builder.WriteString(" -- ")
			builder.WriteString(column.Comment)
		}
		builder.WriteString("\n")
	}
	return builder.String()
}

// relevanceScore measures lexical overlap between the question and the
// table's names and comments. Table name hits weigh heaviest, then column
// names, then comment text.
func relevanceScore(question string, table schema.Table) int {
	tokens := tokenize(question)
	if len(tokens) == 0 {
		return 0
	}

	name := strings.ToLower(table.Name)
	columnText := strings.Builder{}
	commentText := strings.Builder{}
	commentText.WriteString(strings.ToLower(table.Comment))
	for _, column := range table.Columns {
		columnText.WriteString(strings.ToLower(column.Name))
		columnText.WriteString(" ")
		commentText.WriteString(" ")
		commentText.WriteString(strings.ToLower(column.Comment))
	}
	columns := columnText.String()
	comments := commentText.String()

	score := 0
	for _, token := range tokens {
		if strings.Contains(name, token) {
			score += 3
		}
		if strings.Contains(columns, token) {
			score += 2
		}
		if strings.Contains(comments, token) {
			score++
		}
	}
	return score
}

// tokenize splits a question into lowercase word tokens, emitting single
// runes for CJK text where whitespace segmentation does not apply.
func tokenize(question string) []string {
	tokens := make([]string, 0)
	var word strings.Builder
	flush := func() {
		if word.Len() > 1 {
			tokens = append(tokens, strings.ToLower(word.String()))
		}
		word.Reset()
	}
	for _, r := range question {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
