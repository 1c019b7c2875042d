package models

// BeatSpec - один бит шаблона.
type BeatSpec struct {
	BeatNumber  int    `json:"beat_number"`
	BeatName    string `json:"beat_name"`
	WordTarget  int    `json:"word_target"`
	Description string `json:"description"`
	Guidance    string `json:"guidance"`
}

// BeatTemplate неизменяем после выбора для истории.
type BeatTemplate struct {
	Name       string     `json:"name"`
	Genre      string     `json:"genre"`
	Tier       Tier       `json:"tier"`
	TotalWords int        `json:"total_words"`
	Beats      []BeatSpec `json:"beats"`
}

// SumWordTargets возвращает сумму целевых объёмов битов.
func (t BeatTemplate) SumWordTargets() int {
	total := 0
	for _, b := range t.Beats {
		total += b.WordTarget
	}
	return total
}

// PlannedBeat - бит плана, который вернул планировщик.
type PlannedBeat struct {
	BeatNumber         int      `json:"beat_number"`
	BeatName           string   `json:"beat_name"`
	WordTarget         int      `json:"word_target"`
	Description        string   `json:"description"`
	KeyElements        []string `json:"key_elements,omitempty"`
	EmotionalTone      string   `json:"emotional_tone,omitempty"`
	CharactersFeatured []string `json:"characters_featured,omitempty"`
	Characters         []string `json:"characters,omitempty"`
	Character          string   `json:"character,omitempty"`
	NewCharacter       string   `json:"new_character,omitempty"`
	Location           string   `json:"location,omitempty"`
	Setting            string   `json:"setting,omitempty"`
	Place              string   `json:"place,omitempty"`
	NarrativePurpose   string   `json:"narrative_purpose,omitempty"`
}

// BeatPlan - структурированный план истории или главы.
type BeatPlan struct {
	StoryTitle      string        `json:"story_title"`
	StoryPremise    string        `json:"story_premise"`
	PlotType        string        `json:"plot_type"`
	Protagonist     string        `json:"protagonist,omitempty"`
	Beats           []PlannedBeat `json:"beats"`
	StoryQuestion   string        `json:"story_question,omitempty"`
	EmotionalArc    string        `json:"emotional_arc,omitempty"`
	ThematicFocus   string        `json:"thematic_focus,omitempty"`
	CharacterGrowth string        `json:"character_growth,omitempty"`
	UniqueElement   string        `json:"unique_element,omitempty"`

	// Поля плана главы, используемые проверкой согласованности.
	ChapterBeats   []PlannedBeat `json:"chapter_beats,omitempty"`
	ChapterGoal    string        `json:"chapter_goal,omitempty"`
	ChapterTension string        `json:"chapter_tension,omitempty"`
}
