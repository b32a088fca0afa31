package nl2sql

import (
	"fmt"

	"github.com/chatbi/chatbi/internal/schema"
)

// Suggestion is one example question a user can ask, with a short note on
// the kind of analysis it demonstrates.
type Suggestion struct {
	Query       string `json:"query"`
	Description string `json:"description"`
}

const maxGeneralSuggestions = 3

// SuggestQuestions builds example questions from the snapshot. Without a
// table filter it previews the first few tables; naming a known table adds
// profile and preview questions for it. Unknown table names are skipped.
func SuggestQuestions(snapshot *schema.Snapshot, table string) []Suggestion {
	suggestions := make([]Suggestion, 0, maxGeneralSuggestions+2)
	if snapshot == nil {
		return suggestions
	}

	selected, selectedOK := schema.Table{}, false
	if table != "" {
		selected, selectedOK = snapshot.Table(table)
	}

	count := 0
	for _, t := range snapshot.Tables() {
		if count >= maxGeneralSuggestions {
			break
		}
		if selectedOK && t.Name == selected.Name {
			continue
		}
		suggestions = append(suggestions, previewSuggestion(t.Name))
		count++
	}

	if selectedOK {
		suggestions = append(suggestions,
			Suggestion{
				Query:       fmt.Sprintf("查看%s表的基本统计信息", selected.Name),
				Description: fmt.Sprintf("了解%s表的数据概况", selected.Name),
			},
			previewSuggestion(selected.Name),
		)
	}
	return suggestions
}

func previewSuggestion(table string) Suggestion {
	return Suggestion{
		Query:       fmt.Sprintf("显示%s表的前20条记录", table),
		Description: fmt.Sprintf("预览%s表数据", table),
	}
}
