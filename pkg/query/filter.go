package query

import "github.com/nounverb/nvdb/pkg/model"

// Filter narrows Search and SearchText to nouns matching a
// type and/or exact metadata field values. A nil Filter matches
// everything.
type Filter struct {
	NounType string
	Metadata map[string]any
}

func (f *Filter) matches(meta model.Metadata) bool {
	if f == nil {
		return true
	}
	if f.NounType != "" && meta.NounType() != f.NounType {
		return false
	}
	for k, want := range f.Metadata {
		if got, ok := meta[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// NounFilter narrows ListNouns.
type NounFilter struct {
	NounType string
	Metadata map[string]any
}

// VerbFilter narrows ListVerbs.
type VerbFilter struct {
	Source   string
	Target   string
	VerbType string
	Metadata map[string]any
}

// Pagination is the caller-facing paging request for ListNouns/ListVerbs.
type Pagination struct {
	Offset int
	Limit  int
	Cursor string
}

// Page is the caller-facing paging response.
type Page[T any] struct {
	Items      []T
	TotalCount *int
	HasMore    bool
	NextCursor string
}

// Result is a single ranked hit from Search, SearchText, or FindSimilar.
type Result struct {
	ID       string
	Distance float32
	Metadata map[string]any
}
