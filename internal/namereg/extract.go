package namereg

import (
	"strings"
	"unicode"

	"story-engine/internal/models"
)

// Extractor находит имена в сгенерированной истории.
// Эвристика наивная и заменяемая: конвейер принимает любой Extractor.
type Extractor interface {
	Extract(plan *models.BeatPlan, narrative string, bible *models.StoryBible) (characters, places []string)
}

// HeuristicExtractor - извлечение по плану, библии и заглавным словам в тексте.
type HeuristicExtractor struct{}

var _ Extractor = HeuristicExtractor{}

var skipWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "i": {}, "he": {}, "she": {}, "it": {}, "they": {}, "we": {}, "you": {},
	"chapter": {}, "part": {}, "act": {}, "scene": {},
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {}, "friday": {}, "saturday": {}, "sunday": {},
	"january": {}, "february": {}, "march": {}, "april": {}, "may": {}, "june": {}, "july": {},
	"august": {}, "september": {}, "october": {}, "november": {}, "december": {},
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
}

// Extract возвращает уникальные имена в порядке первого появления.
func (HeuristicExtractor) Extract(plan *models.BeatPlan, narrative string, bible *models.StoryBible) ([]string, []string) {
	characters := newOrderedSet()
	places := newOrderedSet()

	if plan != nil {
		characters.add(plan.Protagonist)
		for _, beat := range plan.Beats {
			characters.add(beat.Characters...)
			characters.add(beat.Character, beat.NewCharacter)
			characters.add(beat.CharactersFeatured...)
			places.add(beat.Location, beat.Setting, beat.Place)
		}
	}

	if bible != nil {
		characters.add(bible.Protagonist.Name)
		places.add(bible.Setting.Location, bible.Setting.City, bible.Setting.Neighborhood)
	}

	characters.add(NarrativeNames(narrative)...)

	return characters.items(), places.items()
}

// NarrativeNames ищет вероятные имена собственные: слова с заглавной буквы
// не в начале предложения, длиннее двух символов и не из списка служебных слов.
func NarrativeNames(narrative string) []string {
	if narrative == "" {
		return nil
	}
	found := newOrderedSet()
	for _, sentence := range strings.Split(narrative, ". ") {
		words := strings.Fields(sentence)
		for i, word := range words {
			if i == 0 {
				continue
			}
			clean := stripNonWord(word)
			if clean == "" {
				continue
			}
			first := []rune(clean)[0]
			if !unicode.IsUpper(first) {
				continue
			}
			if _, skip := skipWords[strings.ToLower(clean)]; skip {
				continue
			}
			if len([]rune(clean)) > 2 {
				found.add(clean)
			}
		}
	}
	return found.items()
}

func stripNonWord(word string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return -1
	}, word)
}

type orderedSet struct {
	seen  map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len([]rune(v)) <= 1 {
			continue
		}
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.order = append(s.order, v)
	}
}

func (s *orderedSet) items() []string {
	return append([]string{}, s.order...)
}
