// Package narrative produces a short natural-language reading of a query
// result. It is strictly best effort: any model failure yields an absent
// narrative, never a failed query.
package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatbi/chatbi/internal/llm"
	"github.com/chatbi/chatbi/internal/observability"
	"github.com/chatbi/chatbi/internal/query"
)

type Generator struct {
	Client     llm.Client
	MaxTokens  int
	SampleRows int
	Logger     *slog.Logger
}

func NewGenerator(client llm.Client, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		Client:     client,
		MaxTokens:  300,
		SampleRows: 5,
		Logger:     logger,
	}
}

// Summarize asks the model for a two-to-three sentence reading of the
// result. The second return value reports whether a narrative is present.
func (g *Generator) Summarize(ctx context.Context, question, sqlText string, result *query.Result) (string, bool) {
	if g == nil || g.Client == nil || result == nil || result.RowCount == 0 {
		return "", false
	}

	prompt := g.buildPrompt(question, sqlText, result)
	text, err := g.Client.Complete(ctx, prompt, g.MaxTokens)
	if err != nil {
		g.Logger.Warn("narrative generation failed", slog.String("error", err.Error()))
		observability.IncrementNarrativeFailure()
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

func (g *Generator) buildPrompt(question, sqlText string, result *query.Result) string {
	var b strings.Builder
	b.WriteString("You are a data analyst. Summarize the query result for a business reader in two or three sentences. ")
	b.WriteString("Mention the most notable value or trend. Do not restate the SQL.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "SQL: %s\n", sqlText)
	fmt.Fprintf(&b, "Rows returned: %d", result.RowCount)
	if result.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString("\n\nSample rows:\n")

	names := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		names[i] = col.Name
	}
	b.WriteString(strings.Join(names, " | "))
	b.WriteString("\n")

	sample := g.SampleRows
	if sample < 1 {
		sample = 5
	}
	for i, row := range result.Rows {
		if i >= sample {
			break
		}
		values := make([]string, len(names))
		for j, name := range names {
			values[j] = fmt.Sprintf("%v", row[name])
		}
		b.WriteString(strings.Join(values, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
