// Package history keeps a bounded in-memory log of answered questions.
// The prompt builder replays recent turns for follow-up disambiguation and
// the quality evaluator ranks undocumented tables by how often they are
// actually queried.
package history

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi/chatbi/internal/schema"
)

type Entry struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	SQL      string    `json:"sql"`
	AskedAt  time.Time `json:"asked_at"`
}

type Log struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	now     func() time.Time
}

func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = 100
	}
	return &Log{limit: limit, now: time.Now}
}

func (l *Log) Record(question, sqlText string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:       uuid.NewString(),
		Question: question,
		SQL:      sqlText,
		AskedAt:  l.now(),
	}
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
	return entry
}

// Recent returns up to n entries, oldest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	recent := make([]Entry, n)
	copy(recent, l.entries[len(l.entries)-n:])
	return recent
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

var identPattern = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)

// TableUsage counts how many recorded statements reference each snapshot
// table, keyed by the table's declared name.
func (l *Log) TableUsage(snapshot *schema.Snapshot) map[string]int {
	usage := map[string]int{}
	if snapshot == nil {
		return usage
	}

	l.mu.Lock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	for _, entry := range entries {
		seen := map[string]bool{}
		for _, ident := range identPattern.FindAllString(strings.ToLower(entry.SQL), -1) {
			if seen[ident] {
				continue
			}
			if table, ok := snapshot.Table(ident); ok {
				usage[table.Name]++
				seen[ident] = true
			}
		}
	}
	return usage
}
