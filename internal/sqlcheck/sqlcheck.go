// Package sqlcheck turns untrusted model output into a validated, read-only
// SQL candidate. Everything the model returns is treated as attacker input:
// the statement must be a single SELECT, reference only known identifiers,
// carry no injection idioms, and respect the configured row cap.
package sqlcheck

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chatbi/chatbi/internal/schema"
)

type Intent string

const (
	IntentSelect  Intent = "select"
	IntentUnknown Intent = "unknown"
)

// Candidate is a validated statement ready for execution. RowLimit is the
// effective LIMIT after injection or clamping.
type Candidate struct {
	Statement string
	Intent    Intent
	RowLimit  int
}

// ErrExtraction means no unambiguous single SQL statement was found in the
// model output.
var ErrExtraction = errors.New("no sql statement found in model output")

type ForbiddenStatementError struct {
	Keyword string
}

func (e *ForbiddenStatementError) Error() string {
	return fmt.Sprintf("forbidden statement keyword %q", e.Keyword)
}

type UnknownIdentifierError struct {
	Name string
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("unknown identifier %q not present in schema", e.Name)
}

type SuspiciousPatternError struct {
	Pattern string
}

func (e *SuspiciousPatternError) Error() string {
	return fmt.Sprintf("suspicious pattern %q", e.Pattern)
}

var (
	fencedSQLPattern = regexp.MustCompile("(?s)```sql\\s*(.*?)```")
	fencedAnyPattern = regexp.MustCompile("(?s)```\\s*(.*?)```")
	selectPattern    = regexp.MustCompile(`(?is)\b(select|with)\b.*`)
	limitPattern     = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)

	forbiddenKeywords = []string{
		"insert", "update", "delete", "drop", "alter", "truncate",
		"grant", "revoke", "create", "merge", "replace", "call",
		"exec", "execute",
	}

	// Conservative screen for injection idioms: comment-based truncation,
	// out-of-band functions, and file access.
	suspiciousPatterns = []string{
		"--", "/*", "#",
		"pg_sleep", "pg_read_file", "pg_ls_dir", "dblink",
		"sleep(", "benchmark(", "load_file", "into outfile", "into dumpfile",
		"xp_cmdshell", "information_schema", "pg_catalog",
	}

	sqlKeywords = map[string]bool{
		"select": true, "from": true, "where": true, "and": true, "or": true,
		"not": true, "in": true, "is": true, "null": true, "as": true,
		"join": true, "inner": true, "left": true, "right": true, "full": true,
		"outer": true, "cross": true, "on": true, "using": true,
		"group": true, "by": true, "order": true, "having": true,
		"limit": true, "offset": true, "asc": true, "desc": true,
		"distinct": true, "union": true, "all": true, "with": true,
		"case": true, "when": true, "then": true, "else": true, "end": true,
		"between": true, "like": true, "ilike": true, "exists": true,
		"true": true, "false": true, "interval": true, "cast": true,
		"current_date": true, "current_timestamp": true, "nulls": true,
		"first": true, "last": true, "over": true, "partition": true,
		"day": true, "month": true, "year": true,
	}
)

// Extract locates the SQL statement in free-form model text: a ```sql
// fence, any fenced block, or the first SELECT/WITH onwards. Multiple
// fenced blocks carrying different statements are ambiguous and fail.
func Extract(modelOutput string) (string, error) {
	if statements := fencedStatements(fencedSQLPattern, modelOutput); len(statements) > 0 {
		return singleStatement(statements)
	}
	if statements := fencedStatements(fencedAnyPattern, modelOutput); len(statements) > 0 {
		return singleStatement(statements)
	}
	if match := selectPattern.FindString(modelOutput); match != "" {
		return normalizeStatement(match)
	}
	return "", ErrExtraction
}

func fencedStatements(pattern *regexp.Regexp, modelOutput string) []string {
	statements := make([]string, 0, 1)
	for _, match := range pattern.FindAllStringSubmatch(modelOutput, -1) {
		if statement, err := normalizeStatement(match[1]); err == nil {
			statements = append(statements, statement)
		}
	}
	return statements
}

// singleStatement accepts a candidate set only when it agrees on one
// statement. Identical repeated blocks count as one.
func singleStatement(statements []string) (string, error) {
	first := statements[0]
	for _, statement := range statements[1:] {
		if statement != first {
			return "", ErrExtraction
		}
	}
	return first, nil
}

func normalizeStatement(raw string) (string, error) {
	statement := strings.TrimSpace(raw)
	for strings.HasSuffix(statement, ";") {
		statement = strings.TrimSpace(strings.TrimSuffix(statement, ";"))
	}
	if statement == "" {
		return "", ErrExtraction
	}
	return statement, nil
}

// Validate applies the allow-list rules in order and returns a candidate
// with the row cap enforced.
func Validate(statement string, snapshot *schema.Snapshot, rowCap int) (Candidate, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return Candidate{}, ErrExtraction
	}

	stripped := stripStringLiterals(statement)
	stripped, err := resolveQuotedIdentifiers(stripped)
	if err != nil {
		return Candidate{}, err
	}
	lowered := strings.ToLower(stripped)

	if err := checkReadOnly(lowered); err != nil {
		return Candidate{}, err
	}
	if strings.Contains(lowered, ";") {
		return Candidate{}, &SuspiciousPatternError{Pattern: "stacked queries"}
	}
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lowered, pattern) {
			return Candidate{}, &SuspiciousPatternError{Pattern: pattern}
		}
	}
	if snapshot != nil {
		if err := checkIdentifiers(stripped, snapshot); err != nil {
			return Candidate{}, err
		}
	}

	statement, limit := ensureRowLimit(statement, rowCap)
	return Candidate{Statement: statement, Intent: IntentSelect, RowLimit: limit}, nil
}

// ExtractAndValidate is the single entry point used by the pipeline.
func ExtractAndValidate(modelOutput string, snapshot *schema.Snapshot, rowCap int) (Candidate, error) {
	statement, err := Extract(modelOutput)
	if err != nil {
		return Candidate{}, err
	}
	return Validate(statement, snapshot, rowCap)
}

func checkReadOnly(lowered string) error {
	trimmed := strings.TrimSpace(lowered)
	if !strings.HasPrefix(trimmed, "select") && !strings.HasPrefix(trimmed, "with") {
		keyword := "unknown"
		if fields := strings.Fields(trimmed); len(fields) > 0 {
			keyword = fields[0]
		}
		return &ForbiddenStatementError{Keyword: keyword}
	}
	for i, keyword := range forbiddenKeywords {
		if forbiddenPatterns[i].MatchString(lowered) {
			return &ForbiddenStatementError{Keyword: keyword}
		}
	}
	return nil
}

var forbiddenPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(forbiddenKeywords))
	for i, keyword := range forbiddenKeywords {
		patterns[i] = regexp.MustCompile(`\b` + keyword + `\b`)
	}
	return patterns
}()

var (
	tableRefPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
	aliasPattern    = regexp.MustCompile(`(?i)\b(?:from|join)\s+[a-zA-Z_][a-zA-Z0-9_.]*\s+(?:as\s+)?([a-zA-Z_][a-zA-Z0-9_]*)`)
	asPattern       = regexp.MustCompile(`(?i)\bas\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	identRefPattern = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?\s*\(?`)
)

// checkIdentifiers rejects references to tables or columns the snapshot
// does not know about, which is how hallucinated schema is caught before
// execution.
func checkIdentifiers(stripped string, snapshot *schema.Snapshot) error {
	tables := map[string]bool{}
	for _, match := range tableRefPattern.FindAllStringSubmatch(stripped, -1) {
		name := strings.ToLower(match[1])
		// Qualified schema.table references keep only the table part.
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if !snapshot.HasTable(name) {
			return &UnknownIdentifierError{Name: name}
		}
		tables[name] = true
	}

	aliases := map[string]bool{}
	for _, match := range aliasPattern.FindAllStringSubmatch(stripped, -1) {
		aliases[strings.ToLower(match[1])] = true
	}
	for _, match := range asPattern.FindAllStringSubmatch(stripped, -1) {
		aliases[strings.ToLower(match[1])] = true
	}

	for _, match := range identRefPattern.FindAllString(stripped, -1) {
		isCall := strings.HasSuffix(match, "(")
		ident := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(match), "(")))
		if isCall {
			// Function names are not schema identifiers.
			continue
		}
		if parts := strings.SplitN(ident, ".", 2); len(parts) == 2 {
			qualifier, column := parts[0], parts[1]
			if !tables[qualifier] && !aliases[qualifier] && !snapshot.HasTable(qualifier) {
				return &UnknownIdentifierError{Name: qualifier}
			}
			if snapshot.HasTable(qualifier) {
				if !snapshot.HasColumn(qualifier, column) {
					return &UnknownIdentifierError{Name: ident}
				}
			} else if !snapshot.HasAnyColumn(column) {
				return &UnknownIdentifierError{Name: ident}
			}
			continue
		}
		if sqlKeywords[ident] || aliases[ident] || tables[ident] {
			continue
		}
		if snapshot.HasTable(ident) || snapshot.HasAnyColumn(ident) {
			continue
		}
		return &UnknownIdentifierError{Name: ident}
	}
	return nil
}

// ensureRowLimit injects a LIMIT when missing and clamps an oversized one.
func ensureRowLimit(statement string, rowCap int) (string, int) {
	if rowCap <= 0 {
		rowCap = 200
	}
	if match := limitPattern.FindStringSubmatch(statement); match != nil {
		limit, err := strconv.Atoi(match[1])
		if err == nil && limit <= rowCap {
			return statement, limit
		}
		clamped := limitPattern.ReplaceAllString(statement, fmt.Sprintf("LIMIT %d", rowCap))
		return clamped, rowCap
	}
	return fmt.Sprintf("%s LIMIT %d", statement, rowCap), rowCap
}

// stripStringLiterals blanks the contents of single-quoted literals so
// keyword and pattern scans cannot be fooled by data values. Double quotes
// are left alone because they delimit identifiers, not data.
func stripStringLiterals(statement string) string {
	var builder strings.Builder
	builder.Grow(len(statement))
	inLiteral := false
	for _, r := range statement {
		switch {
		case inLiteral:
			if r == '\'' {
				builder.WriteRune(r)
				inLiteral = false
			} else {
				builder.WriteRune(' ')
			}
		case r == '\'':
			inLiteral = true
			builder.WriteRune(r)
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

var (
	quotedIdentPattern = regexp.MustCompile(`"([^"]*)"`)
	bareIdentPattern   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// resolveQuotedIdentifiers rewrites double-quoted identifiers to their bare
// form so they pass through the same schema checks as unquoted references.
// Quoted names that are not plain identifiers cannot match the snapshot and
// are rejected outright.
func resolveQuotedIdentifiers(statement string) (string, error) {
	if strings.Count(statement, `"`)%2 != 0 {
		return "", &SuspiciousPatternError{Pattern: "unbalanced quoted identifier"}
	}
	var badName string
	resolved := quotedIdentPattern.ReplaceAllStringFunc(statement, func(match string) string {
		name := match[1 : len(match)-1]
		if !bareIdentPattern.MatchString(name) {
			if badName == "" {
				badName = name
			}
			return match
		}
		return name
	})
	if badName != "" {
		return "", &UnknownIdentifierError{Name: badName}
	}
	return resolved, nil
}
