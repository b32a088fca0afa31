package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestFetchSchemaAssemblesTables(t *testing.T) {
	db, mock := newSQLMock(t)
	driver := NewDriver(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT c.relname, COALESCE(obj_description(c.oid, 'pg_class'), '')
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind = 'r' AND n.nspname = 'public'
ORDER BY c.relname`)).
		WillReturnRows(sqlmock.NewRows([]string{"relname", "comment"}).
			AddRow("products", "product master data"))

	mock.ExpectQuery(`SELECT c\.table_name, c\.column_name, c\.data_type, c\.is_nullable`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable", "comment"}).
			AddRow("products", "id", "integer", "NO", "").
			AddRow("products", "name", "text", "YES", "product name").
			AddRow("products", "sales", "numeric", "YES", ""))

	mock.ExpectQuery(`SELECT tc\.table_name, kcu\.column_name`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("products", "id"))

	tables, err := driver.FetchSchema(context.Background())
	if err != nil {
		t.Fatalf("FetchSchema() error = %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("table count = %d", len(tables))
	}
	if tables[0].Comment != "product master data" {
		t.Fatalf("table comment = %q", tables[0].Comment)
	}
	if len(tables[0].Columns) != 3 {
		t.Fatalf("column count = %d", len(tables[0].Columns))
	}
	if !tables[0].Columns[0].Key {
		t.Fatal("id should be marked as key")
	}
	if tables[0].Columns[1].Comment != "product name" {
		t.Fatalf("column comment = %q", tables[0].Columns[1].Comment)
	}
	if tables[0].Columns[0].Nullable {
		t.Fatal("id should not be nullable")
	}
	assertSQLMock(t, mock)
}

func TestUpdateTableCommentQuotesLiteral(t *testing.T) {
	db, mock := newSQLMock(t)
	driver := NewDriver(db)

	mock.ExpectExec(regexp.QuoteMeta(`COMMENT ON TABLE "products" IS 'it''s the catalog'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := driver.UpdateTableComment(context.Background(), "products", "it's the catalog"); err != nil {
		t.Fatalf("UpdateTableComment() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestUpdateColumnCommentFailurePropagates(t *testing.T) {
	db, mock := newSQLMock(t)
	driver := NewDriver(db)

	mock.ExpectExec(regexp.QuoteMeta(`COMMENT ON COLUMN "products"."sales" IS 'amount'`)).
		WillReturnError(errors.New("permission denied"))

	err := driver.UpdateColumnComment(context.Background(), "products", "sales", "amount")
	if err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
}

func TestQueryAppliesRowLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	driver := NewDriver(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, sales FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "sales"}).
			AddRow("widget", 10).
			AddRow("gadget", 7).
			AddRow("gizmo", 3))

	result, err := driver.Query(context.Background(), "SELECT name, sales FROM products", 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("row count = %d, want 2", len(result.Rows))
	}
	if !result.Truncated {
		t.Fatal("result should be marked truncated")
	}
}
