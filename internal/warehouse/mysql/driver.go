package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/chatbi/chatbi/internal/schema"
	"github.com/chatbi/chatbi/internal/warehouse"
)

// Driver reads metadata from information_schema and writes comments with
// ALTER TABLE statements, preserving the full column definition on column
// comment updates because mysql has no standalone comment DDL.
type Driver struct {
	db       *sql.DB
	database string
}

func Open(ctx context.Context, cfg warehouse.Config) (*Driver, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("mysql warehouse requires a database name")
	}
	db, err := warehouse.OpenDB(ctx, "mysql", cfg)
	if err != nil {
		return nil, err
	}
	return &Driver{db: db, database: cfg.Database}, nil
}

func NewDriver(db *sql.DB, database string) *Driver {
	return &Driver{db: db, database: database}
}

func (d *Driver) FetchSchema(ctx context.Context) ([]schema.Table, error) {
	tables, order, err := d.fetchTables(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.fetchColumns(ctx, tables); err != nil {
		return nil, err
	}

	result := make([]schema.Table, 0, len(order))
	for _, name := range order {
		result = append(result, *tables[name])
	}
	return result, nil
}

func (d *Driver) fetchTables(ctx context.Context) (map[string]*schema.Table, []string, error) {
	query := `
SELECT table_name, COALESCE(table_comment, '')
FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`

	rows, err := d.db.QueryContext(ctx, query, d.database)
	if err != nil {
		return nil, nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := map[string]*schema.Table{}
	order := make([]string, 0)
	for rows.Next() {
		var name, comment string
		if err := rows.Scan(&name, &comment); err != nil {
			return nil, nil, fmt.Errorf("scan table row: %w", err)
		}
		tables[name] = &schema.Table{Name: name, Comment: comment}
		order = append(order, name)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, order, nil
}

func (d *Driver) fetchColumns(ctx context.Context, tables map[string]*schema.Table) error {
	query := `
SELECT table_name, column_name, column_type, is_nullable, column_key, COALESCE(column_comment, '')
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`

	rows, err := d.db.QueryContext(ctx, query, d.database)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, columnType, isNullable, columnKey, comment string
		if err := rows.Scan(&tableName, &columnName, &columnType, &isNullable, &columnKey, &comment); err != nil {
			return fmt.Errorf("scan column row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		table.Columns = append(table.Columns, schema.Column{
			Name:         columnName,
			DeclaredType: columnType,
			Comment:      comment,
			Nullable:     isNullable == "YES",
			Key:          columnKey == "PRI",
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column rows: %w", err)
	}
	return nil
}

func (d *Driver) Query(ctx context.Context, sqlText string, rowLimit int) (*warehouse.ResultSet, error) {
	return warehouse.RunQuery(ctx, d.db, sqlText, rowLimit)
}

func (d *Driver) UpdateTableComment(ctx context.Context, table, comment string) error {
	ddl := fmt.Sprintf("ALTER TABLE %s COMMENT = %s", warehouse.QuoteBacktick(table), warehouse.QuoteLiteral(comment))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("alter table comment %q: %w", table, err)
	}
	return nil
}

func (d *Driver) UpdateColumnComment(ctx context.Context, table, column, comment string) error {
	definition, err := d.columnDefinition(ctx, table, column)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s COMMENT %s",
		warehouse.QuoteBacktick(table), warehouse.QuoteBacktick(column), definition, warehouse.QuoteLiteral(comment))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("alter column comment %q.%q: %w", table, column, err)
	}
	return nil
}

// columnDefinition rebuilds "type nullability default" for MODIFY COLUMN so
// the comment update does not strip the existing definition.
func (d *Driver) columnDefinition(ctx context.Context, table, column string) (string, error) {
	query := `
SELECT column_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ? AND column_name = ?`

	var columnType, isNullable string
	var columnDefault sql.NullString
	err := d.db.QueryRowContext(ctx, query, d.database, table, column).Scan(&columnType, &isNullable, &columnDefault)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("column %q.%q does not exist", table, column)
		}
		return "", fmt.Errorf("read column definition %q.%q: %w", table, column, err)
	}

	definition := columnType
	if isNullable == "YES" {
		definition += " NULL"
	} else {
		definition += " NOT NULL"
	}
	if columnDefault.Valid {
		value := columnDefault.String
		if !isDefaultKeyword(value) {
			value = warehouse.QuoteLiteral(value)
		}
		definition += " DEFAULT " + value
	}
	return definition, nil
}

func isDefaultKeyword(value string) bool {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "CURRENT_TIMESTAMP", "CURRENT_TIMESTAMP()", "NOW()", "NULL":
		return true
	default:
		return false
	}
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping warehouse: %w", err)
	}
	return nil
}

func (d *Driver) Close() error {
	return d.db.Close()
}
