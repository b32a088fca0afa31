package mysql

import (
	"context"
	"database/sql"
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

func TestFetchSchemaReadsInformationSchema(t *testing.T) {
	db, mock := newSQLMock(t)
	driver := NewDriver(db, "bi")

	mock.ExpectQuery(`SELECT table_name, COALESCE\(table_comment, ''\)`).
		WithArgs("bi").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_comment"}).
			AddRow("orders", "sales orders"))

	mock.ExpectQuery(`SELECT table_name, column_name, column_type, is_nullable, column_key`).
		WithArgs("bi").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "column_type", "is_nullable", "column_key", "column_comment"}).
			AddRow("orders", "id", "bigint(20)", "NO", "PRI", "").
			AddRow("orders", "amount", "decimal(12,2)", "YES", "", "order amount"))

	tables, err := driver.FetchSchema(context.Background())
	if err != nil {
		t.Fatalf("FetchSchema() error = %v", err)
	}
	if len(tables) != 1 || len(tables[0].Columns) != 2 {
		t.Fatalf("unexpected shape: %+v", tables)
	}
	if !tables[0].Columns[0].Key {
		t.Fatal("id should be key")
	}
	if tables[0].Columns[1].Comment != "order amount" {
		t.Fatalf("column comment = %q", tables[0].Columns[1].Comment)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpdateColumnCommentPreservesDefinition(t *testing.T) {
	db, mock := newSQLMock(t)
	driver := NewDriver(db, "bi")

	mock.ExpectQuery(`SELECT column_type, is_nullable, column_default`).
		WithArgs("bi", "orders", "status").
		WillReturnRows(sqlmock.NewRows([]string{"column_type", "is_nullable", "column_default"}).
			AddRow("varchar(16)", "NO", "new"))

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `orders` MODIFY COLUMN `status` varchar(16) NOT NULL DEFAULT 'new' COMMENT 'order state'")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := driver.UpdateColumnComment(context.Background(), "orders", "status", "order state"); err != nil {
		t.Fatalf("UpdateColumnComment() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpdateColumnCommentUnknownColumn(t *testing.T) {
	db, mock := newSQLMock(t)
	driver := NewDriver(db, "bi")

	mock.ExpectQuery(`SELECT column_type, is_nullable, column_default`).
		WithArgs("bi", "orders", "ghost").
		WillReturnError(sql.ErrNoRows)

	if err := driver.UpdateColumnComment(context.Background(), "orders", "ghost", "x"); err == nil {
		t.Fatal("expected error for unknown column")
	}
}
