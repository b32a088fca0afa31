package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/chatbi/chatbi/internal/warehouse"
)

// WarehouseEngine executes statements through a warehouse driver with a
// per-query deadline and a bounded retry on transient connection failures.
type WarehouseEngine struct {
	Driver       warehouse.Driver
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

func NewWarehouseEngine(driver warehouse.Driver, timeout time.Duration, logger *slog.Logger) *WarehouseEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WarehouseEngine{
		Driver:       driver,
		Timeout:      timeout,
		MaxRetries:   2,
		RetryBackoff: 200 * time.Millisecond,
		Logger:       logger,
	}
}

func (e *WarehouseEngine) Run(ctx context.Context, req Request) (*Result, error) {
	deadline := e.Timeout
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	started := time.Now()
	var lastErr error
	attempts := e.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		rs, err := e.Driver.Query(runCtx, req.SQL, req.RowLimit)
		if err == nil {
			result := shapeResult(rs)
			result.Duration = time.Since(started)
			return result, nil
		}
		// A canceled parent context means the caller gave up, which is
		// not a warehouse timeout. Parent deadlines still count as one.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		if runCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Elapsed: time.Since(started)}
		}
		lastErr = err
		if !isTransient(err) || attempt == attempts {
			break
		}
		e.Logger.Warn("retrying query after transient failure",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		select {
		case <-runCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, context.Canceled
			}
			return nil, &TimeoutError{Elapsed: time.Since(started)}
		case <-time.After(e.RetryBackoff * time.Duration(attempt)):
		}
	}
	return nil, &ExecutionError{Err: lastErr, Attempt: attempts}
}

// isTransient reports whether a failure is likely connection-level and worth
// one more attempt. Statement errors are never retried.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "bad connection"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func shapeResult(rs *warehouse.ResultSet) *Result {
	columns := make([]Column, len(rs.Columns))
	for i, name := range rs.Columns {
		typeName := ""
		if i < len(rs.TypeNames) {
			typeName = rs.TypeNames[i]
		}
		columns[i] = Column{Name: name, Type: inferType(typeName, sampleColumn(rs.Rows, i))}
	}

	rows := make([]map[string]any, len(rs.Rows))
	for r, raw := range rs.Rows {
		row := make(map[string]any, len(columns))
		for c, col := range columns {
			if c < len(raw) {
				row[col.Name] = coerceValue(col.Type, raw[c])
			}
		}
		rows[r] = row
	}

	return &Result{
		Columns:   columns,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: rs.Truncated,
	}
}

func sampleColumn(rows [][]any, idx int) any {
	for _, row := range rows {
		if idx < len(row) && row[idx] != nil {
			return row[idx]
		}
	}
	return nil
}

// inferType maps driver type names onto the coarse classification types,
// falling back to the first non-null value when the driver reports nothing
// useful.
func inferType(typeName string, sample any) ValueType {
	name := strings.ToLower(typeName)
	switch {
	case strings.Contains(name, "timestamp"), strings.Contains(name, "datetime"), name == "date", name == "time":
		return TypeDatetime
	case strings.Contains(name, "bool"):
		return TypeBoolean
	case strings.Contains(name, "int"), strings.Contains(name, "serial"):
		return TypeInteger
	case strings.Contains(name, "float"), strings.Contains(name, "double"),
		strings.Contains(name, "decimal"), strings.Contains(name, "numeric"), strings.Contains(name, "real"):
		return TypeFloat
	case strings.Contains(name, "char"), strings.Contains(name, "text"), strings.Contains(name, "json"):
		return TypeText
	}

	switch v := sample.(type) {
	case nil:
		return TypeText
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32, float64:
		return TypeFloat
	case time.Time:
		return TypeDatetime
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return TypeDatetime
		}
		if _, err := time.Parse("2006-01-02", v); err == nil {
			return TypeDatetime
		}
		return TypeText
	default:
		return TypeText
	}
}

// coerceValue normalizes driver values so JSON encoding is stable across
// dialects. Integral floats from drivers that only speak float64 stay
// integers when the column is integer typed.
func coerceValue(valueType ValueType, value any) any {
	if value == nil {
		return nil
	}
	switch valueType {
	case TypeInteger:
		switch v := value.(type) {
		case float64:
			if v == math.Trunc(v) {
				return int64(v)
			}
			return v
		case string:
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				return parsed
			}
		}
	case TypeFloat:
		if v, ok := value.(string); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	case TypeDatetime:
		if v, ok := value.(time.Time); ok {
			return v.Format(time.RFC3339)
		}
	}
	return value
}
