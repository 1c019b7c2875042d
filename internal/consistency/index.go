package consistency

import (
	"context"
	"fmt"
	"strconv"
)

// Passage - фрагмент повествования для индексации.
type Passage struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Match - найденный фрагмент с расстоянием (меньше - ближе).
type Match struct {
	Document string
	Metadata map[string]any
	Distance float64
}

// SimilarityIndex - поиск похожих фрагментов внутри коллекции (одна коллекция на сессию или библию).
type SimilarityIndex interface {
	Upsert(ctx context.Context, collectionID string, passages []Passage) error
	Query(ctx context.Context, collectionID, text string, k int, filter map[string]any) ([]Match, error)
	DeleteCollection(ctx context.Context, collectionID string) error
}

// MetaChapterNumber - ключ метаданных с номером главы.
const (
	MetaChapterNumber = "chapter_number"
	MetaParagraph     = "paragraph"
)

// chapterFromMetadata достаёт номер главы, допуская числа из JSON и строки.
func chapterFromMetadata(meta map[string]any) int {
	switch v := meta[MetaChapterNumber].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	case fmt.Stringer:
		n, err := strconv.Atoi(v.String())
		if err == nil {
			return n
		}
	}
	return 0
}
