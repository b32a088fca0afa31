package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/chatbi/chatbi/internal/schema"
	"github.com/chatbi/chatbi/internal/warehouse"
)

// Driver serves an embedded duckdb warehouse. Metadata comes from the
// duckdb_tables()/duckdb_columns() functions, which carry comments natively.
type Driver struct {
	db *sql.DB
}

func Open(ctx context.Context, cfg warehouse.Config) (*Driver, error) {
	db, err := warehouse.OpenDB(ctx, "duckdb", cfg)
	if err != nil {
		return nil, err
	}
	return &Driver{db: db}, nil
}

func NewDriver(db *sql.DB) *Driver {
	return &Driver{db: db}
}

func (d *Driver) FetchSchema(ctx context.Context) ([]schema.Table, error) {
	tables, order, err := d.fetchTables(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.fetchColumns(ctx, tables); err != nil {
		return nil, err
	}
	if err := d.fetchPrimaryKeys(ctx, tables); err != nil {
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
SELECT table_name, COALESCE(comment, '')
FROM duckdb_tables()
WHERE schema_name = 'main'
ORDER BY table_name`

	rows, err := d.db.QueryContext(ctx, query)
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
SELECT table_name, column_name, data_type, is_nullable, COALESCE(comment, '')
FROM duckdb_columns()
WHERE schema_name = 'main'
ORDER BY table_name, column_index`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, dataType, comment string
		var nullable bool
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &comment); err != nil {
			return fmt.Errorf("scan column row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		table.Columns = append(table.Columns, schema.Column{
			Name:         columnName,
			DeclaredType: dataType,
			Comment:      comment,
			Nullable:     nullable,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column rows: %w", err)
	}
	return nil
}

func (d *Driver) fetchPrimaryKeys(ctx context.Context, tables map[string]*schema.Table) error {
	query := `
SELECT table_name, UNNEST(constraint_column_names)
FROM duckdb_constraints()
WHERE schema_name = 'main' AND constraint_type = 'PRIMARY KEY'`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("list primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("scan primary key row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		for i := range table.Columns {
			if table.Columns[i].Name == columnName {
				table.Columns[i].Key = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary key rows: %w", err)
	}
	return nil
}

func (d *Driver) Query(ctx context.Context, sqlText string, rowLimit int) (*warehouse.ResultSet, error) {
	return warehouse.RunQuery(ctx, d.db, sqlText, rowLimit)
}

func (d *Driver) UpdateTableComment(ctx context.Context, table, comment string) error {
	ddl := fmt.Sprintf("COMMENT ON TABLE %s IS %s", warehouse.QuoteIdent(table), warehouse.QuoteLiteral(comment))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("comment on table %q: %w", table, err)
	}
	return nil
}

func (d *Driver) UpdateColumnComment(ctx context.Context, table, column, comment string) error {
	ddl := fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s",
		warehouse.QuoteIdent(table), warehouse.QuoteIdent(column), warehouse.QuoteLiteral(comment))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("comment on column %q.%q: %w", table, column, err)
	}
	return nil
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
