package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-engine/internal/ai"
	"story-engine/internal/models"
	"story-engine/internal/utils"
)

// GenreProfile - что переходит из истории в историю в жанре.
type GenreProfile struct {
	Label         string
	RecurringCast bool
	SameSetting   bool
	SameWorld     bool
	Description   string
}

var genreProfiles = map[string]GenreProfile{
	"comedy_sitcom":  {"Comedy / Sitcom", true, true, true, "Recurring cast in familiar settings, comedic situations"},
	"detective":      {"Detective", true, false, true, "Same sleuth, new cases and locations"},
	"action":         {"Action", true, false, true, "Same hero, different missions and locales"},
	"romance":        {"Romance", false, false, true, "Fresh love stories with consistent romantic tone"},
	"cozy":           {"Cozy", false, false, true, "Warm, comforting tales with new characters"},
	"historical":     {"Historical", false, true, true, "Different characters in a consistent historical period/place"},
	"western":        {"Western", false, false, true, "New frontier tales in the Old West"},
	"fantasy":        {"Fantasy", false, false, true, "Fresh adventures in a consistent magical world"},
	"scifi":          {"Sci-Fi", false, false, false, "New characters, settings, and speculative worlds"},
	"strange_fables": {"Strange Fables", false, false, false, "Twist endings, morality tales, anthology-style"},
}

var profileAliases = map[string]string{
	"sitcom":          "comedy_sitcom",
	"comedy":          "comedy_sitcom",
	"mystery":         "detective",
	"noir":            "detective",
	"sci_fi":          "scifi",
	"science_fiction": "scifi",
	"fables":          "strange_fables",
}

// ProfileFor возвращает профиль жанра. Неизвестный жанр получает свежих героев
// в общем мире.
func ProfileFor(genre string) GenreProfile {
	key := strings.ToLower(strings.TrimSpace(genre))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if alias, ok := profileAliases[key]; ok {
		key = alias
	}
	if profile, ok := genreProfiles[key]; ok {
		return profile
	}
	label := strings.TrimSpace(genre)
	if label == "" {
		label = "Fiction"
	} else {
		r := []rune(label)
		label = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return GenreProfile{Label: label, SameWorld: true, Description: label + " stories"}
}

// IntensityLevel - накал историй по шкале 1..5.
type IntensityLevel struct {
	Label       string
	Description string
}

var intensityLevels = map[int]IntensityLevel{
	1: {"Cozy", "Light, comforting, low stakes"},
	2: {"Light", "Gentle tension, mild conflict"},
	3: {"Moderate", "Balanced drama and calm"},
	4: {"Dramatic", "High stakes, strong emotions"},
	5: {"Intense", "Edge-of-seat tension, heavy themes"},
}

// DefaultIntensity используется, если накал не задан или вне шкалы.
const DefaultIntensity = 3

// StoryLength - вариант длины истории.
type StoryLength struct {
	Words int
	Label string
	Tier  models.Tier
}

var storyLengths = map[string]StoryLength{
	"short":  {1500, "Quick Read", models.TierFree},
	"medium": {3000, "Standard", models.TierPremium},
	"long":   {4500, "Extended", models.TierPremium},
}

// DefaultStoryLength - длина по умолчанию.
const DefaultStoryLength = "short"

const sliderDefault = "medium"

// BibleRequest - короткое описание мира от читателя.
type BibleRequest struct {
	// BibleID пустой - id генерируется.
	BibleID     string
	UserID      string
	Genre       string
	Setting     string
	Premise     string
	Characters  []models.CharacterSeed
	Cameos      []models.CameoSeed
	Intensity   int
	StoryLength string
}

// BibleResult - созданная библия. Fallback - ответ генератора не разобран
// и библия собрана из самого описания.
type BibleResult struct {
	Bible          *models.StoryBible `json:"bible"`
	Fallback       bool               `json:"fallback"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
}

type enhancedCharacter struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	Relationship string `json:"relationship"`
	Personality  string `json:"personality"`
	Purpose      string `json:"purpose"`
}

type characterTemplate struct {
	Archetype string `json:"archetype"`
	models.Protagonist
}

type enhancedBible struct {
	Setting                models.Setting       `json:"setting"`
	MainCharacters         []models.Protagonist `json:"main_characters"`
	CharacterTemplate      *characterTemplate   `json:"character_template"`
	SupportingCharacters   []enhancedCharacter  `json:"supporting_characters"`
	SupportingCastTemplate []enhancedCharacter  `json:"supporting_cast_template"`
	Tone                   string               `json:"tone"`
	Themes                 []string             `json:"themes"`
	StoryStyle             string               `json:"story_style"`
}

// CreateBible разворачивает описание в библию и сохраняет её.
func (p *Pipeline) CreateBible(ctx context.Context, req BibleRequest) (BibleResult, error) {
	if p.bibles == nil {
		return BibleResult{}, fmt.Errorf("%w: bible store is required", models.ErrConfiguration)
	}
	result, err := p.EnhanceBible(ctx, req)
	if err != nil {
		return BibleResult{}, err
	}
	if err := p.bibles.Create(ctx, result.Bible); err != nil {
		return BibleResult{}, fmt.Errorf("store bible %s: %w", result.Bible.ID, err)
	}
	p.logger.Info("Story bible created",
		zap.String("bible_id", result.Bible.ID),
		zap.String("user_id", req.UserID),
		zap.String("genre", result.Bible.Genre),
		zap.Bool("fallback", result.Fallback),
		zap.Int("cameos", len(result.Bible.CameoCharacters)))
	return result, nil
}

// EnhanceBible просит генератор развернуть описание мира в полную библию.
// Неразбираемый ответ заменяется FallbackBible, сбой генератора возвращается ошибкой.
func (p *Pipeline) EnhanceBible(ctx context.Context, req BibleRequest) (BibleResult, error) {
	if strings.TrimSpace(req.Genre) == "" || strings.TrimSpace(req.Setting) == "" {
		return BibleResult{}, fmt.Errorf("%w: genre and setting are required", models.ErrConfiguration)
	}
	if req.BibleID == "" {
		req.BibleID = uuid.NewString()
	}
	profile := ProfileFor(req.Genre)
	intensity, length := intensityFor(req.Intensity), lengthFor(req.StoryLength)

	stageStart := time.Now()
	raw, _, err := p.generator.GenerateText(ctx, req.UserID, BiblePrompt(req, profile, intensity, length), "Build the story bible now.",
		ai.Params(p.gen.BibleTemperature, p.gen.BibleMaxTokens, p.gen.BibleTimeout))
	stageDuration.WithLabelValues("bible").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		biblesTotal.WithLabelValues("error").Inc()
		return BibleResult{}, fmt.Errorf("bible enhancement: %w", err)
	}

	enhanced, err := parseEnhancedBible(raw)
	if err != nil {
		biblesTotal.WithLabelValues("fallback").Inc()
		p.logger.Warn("Enhanced bible unparseable, using fallback bible",
			zap.String("raw_preview", utils.StringShort(raw, 300)), zap.Error(err))
		return BibleResult{Bible: FallbackBible(req), Fallback: true, FallbackReason: err.Error()}, nil
	}

	bible := newBible(req, profile)
	applyEnhancement(bible, req, enhanced, profile)
	AddCameos(bible, req.Cameos)
	biblesTotal.WithLabelValues("generated").Inc()
	return BibleResult{Bible: bible}, nil
}

func parseEnhancedBible(raw string) (*enhancedBible, error) {
	candidate := utils.ExtractJSONObject(raw)
	if candidate == "" {
		return nil, fmt.Errorf("%w: no JSON object in bible", models.ErrParseFailure)
	}
	var out enhancedBible
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		if err2 := json.Unmarshal([]byte(utils.EscapeControlChars(candidate)), &out); err2 != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
		}
	}
	return &out, nil
}

// FallbackBible - минимальная библия из самого описания читателя.
func FallbackBible(req BibleRequest) *models.StoryBible {
	if req.BibleID == "" {
		req.BibleID = uuid.NewString()
	}
	profile := ProfileFor(req.Genre)
	bible := newBible(req, profile)
	bible.Setting = models.Setting{
		Name:        "Your World",
		Description: req.Setting,
		Atmosphere:  req.Genre,
		Rules:       "Standard genre conventions",
	}
	bible.Tone = bible.StorySettings.IntensityLabel
	bible.Themes = []string{req.Genre, "adventure", "discovery"}
	bible.StoryStyle = profile.Label + " stories in this world"

	fallbackCharacter := func(name, role string) models.Protagonist {
		return models.Protagonist{
			Name:                   name,
			Role:                   role,
			AgeRange:               "adult",
			KeyTraits:              []string{"determined", "curious", "resourceful"},
			DefiningCharacteristic: "Quick thinking",
			Background:             "To be developed",
			Motivation:             "Solve problems and help others",
			Voice:                  "thoughtful",
		}
	}
	if profile.RecurringCast && len(req.Characters) > 0 {
		for i, c := range req.Characters {
			role := orDefault(c.Description, "Main character")
			if i == 0 {
				bible.Protagonist = fallbackCharacter(orDefault(c.Name, "Character"), role)
				continue
			}
			bible.SupportingCharacters = append(bible.SupportingCharacters, models.Character{
				Name: orDefault(c.Name, "Character"), Role: role,
			})
		}
	} else {
		bible.Protagonist = fallbackCharacter("", "Protagonist")
	}
	AddCameos(bible, req.Cameos)
	return bible
}

// AddCameos добавляет камео с нулём появлений. Неизвестная частота - sometimes.
func AddCameos(bible *models.StoryBible, cameos []models.CameoSeed) {
	for _, c := range cameos {
		freq := c.Frequency
		switch freq {
		case models.CameoRarely, models.CameoSometimes, models.CameoOften:
		default:
			freq = models.CameoSometimes
		}
		bible.CameoCharacters = append(bible.CameoCharacters, models.Cameo{
			Name:        orDefault(c.Name, "Unknown"),
			Description: c.Description,
			Frequency:   freq,
		})
	}
}

func newBible(req BibleRequest, profile GenreProfile) *models.StoryBible {
	level := req.Intensity
	if _, ok := intensityLevels[level]; !ok {
		level = DefaultIntensity
	}
	lengthKey := req.StoryLength
	if _, ok := storyLengths[lengthKey]; !ok {
		lengthKey = DefaultStoryLength
	}
	return &models.StoryBible{
		ID:     req.BibleID,
		UserID: req.UserID,
		Genre:  req.Genre,
		StorySettings: models.StorySettings{
			Intensity:      level,
			IntensityLabel: intensityLevels[level].Label,
			StoryLength:    lengthKey,
			WordTarget:     storyLengths[lengthKey].Words,
			RecurringCast:  profile.RecurringCast,
		},
		StoryHistory: models.StoryHistory{
			RecentSummaries: []string{},
			RecentPlotTypes: []string{},
		},
		UserPreferences: models.Preferences{
			Ratings:          []int{},
			LikedElements:    []string{},
			DislikedElements: []string{},
			PacingPreference: sliderDefault,
			ActionLevel:      sliderDefault,
			EmotionalDepth:   sliderDefault,
		},
	}
}

func applyEnhancement(bible *models.StoryBible, req BibleRequest, e *enhancedBible, profile GenreProfile) {
	bible.Setting = e.Setting
	if strings.TrimSpace(bible.Setting.Description) == "" {
		bible.Setting.Description = req.Setting
	}
	bible.Tone = orDefault(e.Tone, bible.StorySettings.IntensityLabel)
	bible.Themes = e.Themes
	bible.StoryStyle = e.StoryStyle

	switch {
	case profile.RecurringCast && len(e.MainCharacters) > 0:
		bible.Protagonist = e.MainCharacters[0]
		for _, c := range e.MainCharacters[1:] {
			bible.SupportingCharacters = append(bible.SupportingCharacters, models.Character{
				Name: c.Name, Role: c.Role, Description: c.Background,
			})
		}
	case e.CharacterTemplate != nil:
		bible.Protagonist = e.CharacterTemplate.Protagonist
		if bible.Protagonist.Role == "" {
			bible.Protagonist.Role = e.CharacterTemplate.Archetype
		}
	case len(e.MainCharacters) > 0:
		bible.Protagonist = e.MainCharacters[0]
	}

	supporting := e.SupportingCharacters
	if len(supporting) == 0 {
		supporting = e.SupportingCastTemplate
	}
	for _, c := range supporting {
		bible.SupportingCharacters = append(bible.SupportingCharacters, models.Character{
			Name:        c.Name,
			Role:        c.Role,
			Description: joinNonEmpty("; ", c.Personality, c.Relationship, c.Purpose),
		})
	}
}

func intensityFor(level int) IntensityLevel {
	if l, ok := intensityLevels[level]; ok {
		return l
	}
	return intensityLevels[DefaultIntensity]
}

func lengthFor(key string) StoryLength {
	if l, ok := storyLengths[key]; ok {
		return l
	}
	return storyLengths[DefaultStoryLength]
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
