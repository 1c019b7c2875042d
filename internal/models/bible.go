package models

import "time"

// Location - значимое место мира.
type Location struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Setting описывает мир истории.
type Setting struct {
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
	Atmosphere   string     `json:"atmosphere,omitempty"`
	Rules        string     `json:"rules,omitempty"`
	KeyLocations []Location `json:"key_locations,omitempty"`
	Location     string     `json:"location,omitempty"`
	City         string     `json:"city,omitempty"`
	Neighborhood string     `json:"neighborhood,omitempty"`
}

// Protagonist - главный герой.
type Protagonist struct {
	Name                   string   `json:"name,omitempty"`
	Role                   string   `json:"role,omitempty"`
	AgeRange               string   `json:"age_range,omitempty"`
	KeyTraits              []string `json:"key_traits,omitempty"`
	DefiningCharacteristic string   `json:"defining_characteristic,omitempty"`
	Background             string   `json:"background,omitempty"`
	Motivation             string   `json:"motivation,omitempty"`
	Voice                  string   `json:"voice,omitempty"`
}

// Character - второстепенный персонаж.
type Character struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

// CameoFrequency - насколько часто камео появляется в историях.
type CameoFrequency string

const (
	CameoRarely    CameoFrequency = "rarely"
	CameoSometimes CameoFrequency = "sometimes"
	CameoOften     CameoFrequency = "often"
)

// Cameo - эпизодический персонаж, которого иногда вставляют в историю.
type Cameo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Frequency   CameoFrequency `json:"frequency"`
	Appearances int            `json:"appearances"`
}

// CharacterSeed - герой из короткого описания читателя, до развёртывания в библию.
type CharacterSeed struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CameoSeed - камео, которое читатель просит добавить в библию.
type CameoSeed struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Frequency   CameoFrequency `json:"frequency,omitempty"`
}

// StoryHistory - что уже было рассказано в этом мире.
type StoryHistory struct {
	TotalStories    int      `json:"total_stories"`
	RecentSummaries []string `json:"recent_summaries"`
	RecentPlotTypes []string `json:"recent_plot_types"`
	LastCliffhanger bool     `json:"last_cliffhanger"`
}

// Preferences накапливаются из оценок читателя.
type Preferences struct {
	Ratings          []int    `json:"ratings"`
	LikedElements    []string `json:"liked_elements"`
	DislikedElements []string `json:"disliked_elements"`
	PacingPreference string   `json:"pacing_preference"`
	ActionLevel      string   `json:"action_level"`
	EmotionalDepth   string   `json:"emotional_depth"`
}

// StorySettings - параметры историй, выбранные при создании библии.
type StorySettings struct {
	Intensity      int    `json:"intensity"`
	IntensityLabel string `json:"intensity_label"`
	StoryLength    string `json:"story_length"`
	WordTarget     int    `json:"word_target"`
	// RecurringCast - герои переходят из истории в историю, а не придумываются заново.
	RecurringCast  bool   `json:"recurring_cast"`
}

// UsedName - запись реестра использованных имён.
type UsedName struct {
	Name             string    `json:"name"`
	UsedAt           time.Time `json:"used_at"`
	GenerationNumber int       `json:"generation_number"`
}

// UsedNames - реестр по категориям.
type UsedNames struct {
	Characters []UsedName `json:"characters"`
	Places     []UsedName `json:"places"`
}

// StoryBible - долгоживущий документ мира и читателя.
type StoryBible struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Genre                string        `json:"genre"`
	Setting              Setting       `json:"setting"`
	Protagonist          Protagonist   `json:"protagonist"`
	SupportingCharacters []Character   `json:"supporting_characters,omitempty"`
	Tone                 string        `json:"tone,omitempty"`
	Themes               []string      `json:"themes,omitempty"`
	StoryStyle           string        `json:"story_style,omitempty"`
	StorySettings        StorySettings `json:"story_settings"`

	StoryHistory    StoryHistory `json:"story_history"`
	UserPreferences Preferences  `json:"user_preferences"`
	UsedNames       UsedNames    `json:"used_names"`
	CameoCharacters []Cameo      `json:"cameo_characters,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает независимую копию библии: конвейер работает со своей копией,
// а изменения применяются только через BibleStore.Update.
func (b StoryBible) Clone() StoryBible {
	out := b
	out.Setting.KeyLocations = append([]Location(nil), b.Setting.KeyLocations...)
	out.Protagonist.KeyTraits = append([]string(nil), b.Protagonist.KeyTraits...)
	out.SupportingCharacters = append([]Character(nil), b.SupportingCharacters...)
	out.Themes = append([]string(nil), b.Themes...)
	out.StoryHistory.RecentSummaries = append([]string(nil), b.StoryHistory.RecentSummaries...)
	out.StoryHistory.RecentPlotTypes = append([]string(nil), b.StoryHistory.RecentPlotTypes...)
	out.UserPreferences.Ratings = append([]int(nil), b.UserPreferences.Ratings...)
	out.UserPreferences.LikedElements = append([]string(nil), b.UserPreferences.LikedElements...)
	out.UserPreferences.DislikedElements = append([]string(nil), b.UserPreferences.DislikedElements...)
	out.UsedNames.Characters = append([]UsedName(nil), b.UsedNames.Characters...)
	out.UsedNames.Places = append([]UsedName(nil), b.UsedNames.Places...)
	out.CameoCharacters = append([]Cameo(nil), b.CameoCharacters...)
	return out
}
