package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatbi/chatbi/internal/schema"
)

type Kind string

const (
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
	KindDuckDB   Kind = "duckdb"
)

type Config struct {
	Kind            Kind
	DSN             string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// ResultSet is the raw shape a driver hands back: column names, the
// warehouse's native type names, and row values already normalized to
// plain Go scalars.
type ResultSet struct {
	Columns   []string
	TypeNames []string
	Rows      [][]any
	Truncated bool
}

// Driver is the warehouse capability consumed by the schema store and the
// query engine. Implementations live in the dialect subpackages.
type Driver interface {
	FetchSchema(ctx context.Context) ([]schema.Table, error)
	Query(ctx context.Context, sqlText string, rowLimit int) (*ResultSet, error)
	UpdateTableComment(ctx context.Context, table, comment string) error
	UpdateColumnComment(ctx context.Context, table, column, comment string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindPostgres:
		return KindPostgres, nil
	case KindMySQL:
		return KindMySQL, nil
	case KindDuckDB:
		return KindDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported warehouse kind %q", raw)
	}
}
