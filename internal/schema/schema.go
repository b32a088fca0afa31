package schema

import (
	"sort"
	"strings"
	"time"
)

// Column describes one warehouse column, including the catalog comment
// attached to it. DeclaredType is the warehouse's native type name; the
// portable type mapping happens in the query layer.
type Column struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	Comment      string `json:"comment,omitempty"`
	Nullable     bool   `json:"nullable"`
	Key          bool   `json:"key"`
}

// Table holds the metadata for one table. Columns keep the warehouse's
// declared ordinal order.
type Table struct {
	Name    string   `json:"name"`
	Comment string   `json:"comment,omitempty"`
	Columns []Column `json:"columns"`
}

// Snapshot is an immutable point-in-time copy of warehouse metadata.
// Lookups are case-insensitive; iteration order is stable.
type Snapshot struct {
	database  string
	fetchedAt time.Time
	order     []string
	tables    map[string]Table
}

func NewSnapshot(database string, fetchedAt time.Time, tables []Table) *Snapshot {
	snapshot := &Snapshot{
		database:  database,
		fetchedAt: fetchedAt,
		order:     make([]string, 0, len(tables)),
		tables:    make(map[string]Table, len(tables)),
	}
	for _, table := range tables {
		key := normalizeIdent(table.Name)
		if _, exists := snapshot.tables[key]; exists {
			continue
		}
		snapshot.order = append(snapshot.order, key)
		snapshot.tables[key] = table
	}
	sort.Strings(snapshot.order)
	return snapshot
}

func (s *Snapshot) Database() string { return s.database }

func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

func (s *Snapshot) TableCount() int { return len(s.order) }

// Tables returns the tables in stable name order.
func (s *Snapshot) Tables() []Table {
	tables := make([]Table, 0, len(s.order))
	for _, key := range s.order {
		tables = append(tables, s.tables[key])
	}
	return tables
}

func (s *Snapshot) Table(name string) (Table, bool) {
	table, ok := s.tables[normalizeIdent(name)]
	return table, ok
}

func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.tables[normalizeIdent(name)]
	return ok
}

func (s *Snapshot) HasColumn(table, column string) bool {
	tableMeta, ok := s.tables[normalizeIdent(table)]
	if !ok {
		return false
	}
	target := normalizeIdent(column)
	for _, col := range tableMeta.Columns {
		if normalizeIdent(col.Name) == target {
			return true
		}
	}
	return false
}

// HasAnyColumn reports whether any table in the snapshot declares the column.
func (s *Snapshot) HasAnyColumn(column string) bool {
	target := normalizeIdent(column)
	for _, table := range s.tables {
		for _, col := range table.Columns {
			if normalizeIdent(col.Name) == target {
				return true
			}
		}
	}
	return false
}

func normalizeIdent(name string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(name), `"`))
}
