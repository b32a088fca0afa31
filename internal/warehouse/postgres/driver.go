package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chatbi/chatbi/internal/schema"
	"github.com/chatbi/chatbi/internal/warehouse"
)

// Driver reads metadata from the postgres catalogs and writes comment DDL
// with COMMENT ON statements.
type Driver struct {
	db *sql.DB
}

func Open(ctx context.Context, cfg warehouse.Config) (*Driver, error) {
	db, err := warehouse.OpenDB(ctx, "pgx", cfg)
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
SELECT c.relname, COALESCE(obj_description(c.oid, 'pg_class'), '')
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind = 'r' AND n.nspname = 'public'
ORDER BY c.relname`

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
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable,
       COALESCE(col_description(pc.oid, c.ordinal_position), '')
FROM information_schema.columns c
JOIN pg_class pc ON pc.relname = c.table_name
JOIN pg_namespace pn ON pn.oid = pc.relnamespace AND pn.nspname = c.table_schema
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, dataType, isNullable, comment string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable, &comment); err != nil {
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
			Nullable:     isNullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column rows: %w", err)
	}
	return nil
}

func (d *Driver) fetchPrimaryKeys(ctx context.Context, tables map[string]*schema.Table) error {
	query := `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.table_schema = 'public' AND tc.constraint_type = 'PRIMARY KEY'`

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

// UpdateTableComment issues COMMENT ON TABLE. The comment is inlined as a
// quoted literal because postgres does not bind parameters in DDL.
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
