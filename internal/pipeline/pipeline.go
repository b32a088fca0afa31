// Package pipeline orchestrates a question through prompt construction,
// SQL generation, validation, execution, chart classification, and the
// optional narrative pass. It is the single place where the stages meet
// and where their failures are translated into stable error codes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chatbi/chatbi/internal/classify"
	"github.com/chatbi/chatbi/internal/history"
	"github.com/chatbi/chatbi/internal/llm"
	"github.com/chatbi/chatbi/internal/narrative"
	"github.com/chatbi/chatbi/internal/nl2sql"
	"github.com/chatbi/chatbi/internal/observability"
	"github.com/chatbi/chatbi/internal/query"
	"github.com/chatbi/chatbi/internal/schema"
	"github.com/chatbi/chatbi/internal/sqlcheck"
)

// Error codes surfaced to API clients.
const (
	CodeSchemaUnavailable = "SCHEMA_UNAVAILABLE"
	CodeGenerationFailed  = "SQL_GENERATION_FAILED"
	CodeSQLRejected       = "SQL_REJECTED"
	CodeQueryTimeout      = "QUERY_TIMEOUT"
	CodeExecutionFailed   = "EXECUTION_FAILED"
)

type Config struct {
	RowCap         int
	SmallN         int
	PromptBytes    int
	HistoryTurns   int
	LLMMaxTokens   int
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RowCap <= 0 {
		c.RowCap = 200
	}
	if c.SmallN <= 0 {
		c.SmallN = classify.DefaultSmallN
	}
	if c.LLMMaxTokens <= 0 {
		c.LLMMaxTokens = 1024
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

type Request struct {
	Question string        `json:"question"`
	Context  []nl2sql.Turn `json:"context,omitempty"`
}

// ColumnStats is a small per-column profile attached to successful
// responses. Numeric columns report min, max, and mean; text columns
// report distinct counts.
type ColumnStats struct {
	Name     string   `json:"name"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Mean     *float64 `json:"mean,omitempty"`
	Distinct *int     `json:"distinct,omitempty"`
}

type Response struct {
	Success      bool           `json:"success"`
	Question     string         `json:"question"`
	SQL          string         `json:"sql,omitempty"`
	Explanation  string         `json:"explanation,omitempty"`
	Result       *query.Result  `json:"result,omitempty"`
	ChartHint    classify.Hint  `json:"chart_hint,omitempty"`
	Narrative    string         `json:"narrative,omitempty"`
	HasNarrative bool           `json:"has_narrative"`
	Stats        []ColumnStats  `json:"stats,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
}

type Pipeline struct {
	Store    *schema.Store
	LLM      llm.Client
	Engine   query.Engine
	History  *history.Log
	Narrator *narrative.Generator
	Config   Config
	Logger   *slog.Logger
}

func New(store *schema.Store, client llm.Client, engine query.Engine, log *history.Log, narrator *narrative.Generator, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Store:    store,
		LLM:      client,
		Engine:   engine,
		History:  log,
		Narrator: narrator,
		Config:   cfg.withDefaults(),
		Logger:   logger,
	}
}

// Run answers a natural-language question end to end. A validation failure
// earns one corrective re-prompt before the question is rejected.
func (p *Pipeline) Run(ctx context.Context, req Request) Response {
	cfg := p.Config
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	resp := Response{Question: req.Question}

	if p.LLM == nil {
		return fail(resp, CodeGenerationFailed, "model client is not configured")
	}

	snapshot, err := p.Store.GetSchema(ctx, false)
	if err != nil {
		p.Logger.Error("schema unavailable", slog.String("error", err.Error()))
		return fail(resp, CodeSchemaUnavailable, "schema is currently unavailable")
	}

	turns := req.Context
	if len(turns) == 0 && p.History != nil && cfg.HistoryTurns > 0 {
		for _, entry := range p.History.Recent(cfg.HistoryTurns) {
			turns = append(turns, nl2sql.Turn{Question: entry.Question, SQL: entry.SQL})
		}
	}

	prompt := nl2sql.BuildPrompt(nl2sql.Request{Question: req.Question, Context: turns}, snapshot, nl2sql.BuilderConfig{
		MaxSchemaBytes:  cfg.PromptBytes,
		MaxHistoryTurns: cfg.HistoryTurns,
		RowCap:          cfg.RowCap,
	})

	candidate, explanation, err := p.generate(ctx, prompt, snapshot)
	if err != nil {
		var rejected *rejectionError
		if errors.As(err, &rejected) {
			p.Logger.Warn("generated sql rejected",
				slog.String("question", req.Question),
				slog.String("reason", rejected.reason))
			observability.ObserveSQLRejected(rejectionReason(rejected.cause))
			return fail(resp, CodeSQLRejected, rejected.reason)
		}
		p.Logger.Error("sql generation failed", slog.String("error", err.Error()))
		return fail(resp, CodeGenerationFailed, "could not generate sql for this question")
	}
	resp.SQL = candidate.Statement
	resp.Explanation = explanation

	result, err := p.Engine.Run(ctx, query.Request{SQL: candidate.Statement, RowLimit: candidate.RowLimit})
	if err != nil {
		var timeout *query.TimeoutError
		if errors.As(err, &timeout) {
			observability.ObserveQuery("timeout", 0)
			return fail(resp, CodeQueryTimeout, timeout.Error())
		}
		p.Logger.Error("query execution failed",
			slog.String("sql", candidate.Statement),
			slog.String("error", err.Error()))
		observability.ObserveQuery("error", 0)
		return fail(resp, CodeExecutionFailed, "query execution failed")
	}
	observability.ObserveQuery("ok", result.Duration)

	if p.History != nil {
		p.History.Record(req.Question, candidate.Statement)
	}

	resp.Success = true
	resp.Result = result
	resp.ChartHint = classify.Classify(result, cfg.SmallN)
	resp.Stats = summarizeColumns(result)
	if p.Narrator != nil {
		if text, ok := p.Narrator.Summarize(ctx, req.Question, candidate.Statement, result); ok {
			resp.Narrative = text
			resp.HasNarrative = true
		}
	}
	return resp
}

// RunSQL executes caller-supplied SQL through the same validation gate and
// execution path, bypassing generation.
func (p *Pipeline) RunSQL(ctx context.Context, sqlText string) Response {
	cfg := p.Config
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	resp := Response{}

	snapshot, err := p.Store.GetSchema(ctx, false)
	if err != nil {
		return fail(resp, CodeSchemaUnavailable, "schema is currently unavailable")
	}

	candidate, err := sqlcheck.Validate(sqlText, snapshot, cfg.RowCap)
	if err != nil {
		observability.ObserveSQLRejected(rejectionReason(err))
		return fail(resp, CodeSQLRejected, err.Error())
	}
	resp.SQL = candidate.Statement

	result, err := p.Engine.Run(ctx, query.Request{SQL: candidate.Statement, RowLimit: candidate.RowLimit})
	if err != nil {
		var timeout *query.TimeoutError
		if errors.As(err, &timeout) {
			observability.ObserveQuery("timeout", 0)
			return fail(resp, CodeQueryTimeout, timeout.Error())
		}
		observability.ObserveQuery("error", 0)
		return fail(resp, CodeExecutionFailed, "query execution failed")
	}
	observability.ObserveQuery("ok", result.Duration)

	resp.Success = true
	resp.Result = result
	resp.ChartHint = classify.Classify(result, cfg.SmallN)
	resp.Stats = summarizeColumns(result)
	return resp
}

type rejectionError struct {
	reason string
	cause  error
}

func (e *rejectionError) Error() string { return e.reason }

func (e *rejectionError) Unwrap() error { return e.cause }

// rejectionReason buckets validation failures for the rejection counter.
func rejectionReason(err error) string {
	var forbidden *sqlcheck.ForbiddenStatementError
	var unknown *sqlcheck.UnknownIdentifierError
	var suspicious *sqlcheck.SuspiciousPatternError
	switch {
	case errors.As(err, &forbidden):
		return "forbidden_statement"
	case errors.As(err, &unknown):
		return "unknown_identifier"
	case errors.As(err, &suspicious):
		return "suspicious_pattern"
	case errors.Is(err, sqlcheck.ErrExtraction):
		return "no_statement"
	default:
		return "other"
	}
}

// generate calls the model and validates its output. On a validation
// failure the model gets exactly one corrective retry with the rejection
// appended to the prompt.
func (p *Pipeline) generate(ctx context.Context, prompt string, snapshot *schema.Snapshot) (sqlcheck.Candidate, string, error) {
	output, err := p.complete(ctx, prompt)
	if err != nil {
		return sqlcheck.Candidate{}, "", fmt.Errorf("model call failed: %w", err)
	}

	candidate, validationErr := sqlcheck.ExtractAndValidate(output, snapshot, p.Config.RowCap)
	if validationErr == nil {
		return candidate, explanationFrom(output), nil
	}

	retryPrompt := fmt.Sprintf("%s\n\nYour previous answer was rejected: %s\nReturn a corrected single SELECT statement in a ```sql block.", prompt, validationErr)
	output, err = p.complete(ctx, retryPrompt)
	if err != nil {
		return sqlcheck.Candidate{}, "", fmt.Errorf("model retry failed: %w", err)
	}
	candidate, retryErr := sqlcheck.ExtractAndValidate(output, snapshot, p.Config.RowCap)
	if retryErr != nil {
		return sqlcheck.Candidate{}, "", &rejectionError{reason: retryErr.Error(), cause: retryErr}
	}
	return candidate, explanationFrom(output), nil
}

func (p *Pipeline) complete(ctx context.Context, prompt string) (string, error) {
	started := time.Now()
	output, err := p.LLM.Complete(ctx, prompt, p.Config.LLMMaxTokens)
	observability.ObserveLLMLatency(time.Since(started))
	return output, err
}

var fencePattern = regexp.MustCompile("(?s)```(?:sql)?.*?```")

// explanationFrom keeps the prose surrounding the SQL block, which the
// prompt asks the model to keep to one sentence.
func explanationFrom(output string) string {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(output, ""))
	if len(cleaned) > 500 {
		cleaned = cleaned[:500]
	}
	return cleaned
}

func fail(resp Response, code, message string) Response {
	resp.Success = false
	resp.ErrorCode = code
	resp.Error = message
	return resp
}

func summarizeColumns(result *query.Result) []ColumnStats {
	if result == nil || result.RowCount == 0 {
		return nil
	}
	stats := make([]ColumnStats, 0, len(result.Columns))
	for _, col := range result.Columns {
		entry := ColumnStats{Name: col.Name}
		switch col.Type {
		case query.TypeInteger, query.TypeFloat:
			min, max, sum, n := math.Inf(1), math.Inf(-1), 0.0, 0
			for _, row := range result.Rows {
				value, ok := asFloat(row[col.Name])
				if !ok {
					continue
				}
				if value < min {
					min = value
				}
				if value > max {
					max = value
				}
				sum += value
				n++
			}
			if n > 0 {
				mean := round2(sum / float64(n))
				minV, maxV := round2(min), round2(max)
				entry.Min, entry.Max, entry.Mean = &minV, &maxV, &mean
			}
		case query.TypeText, query.TypeBoolean:
			seen := map[string]bool{}
			for _, row := range result.Rows {
				seen[fmt.Sprintf("%v", row[col.Name])] = true
			}
			distinct := len(seen)
			entry.Distinct = &distinct
		}
		stats = append(stats, entry)
	}
	return stats
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
