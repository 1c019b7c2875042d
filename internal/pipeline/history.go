package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"story-engine/internal/models"
	"story-engine/internal/utils"
)

const (
	recentSummariesKept = 7
	recentPlotTypesKept = 10
	ratingsKept         = 20
	preferenceListCap   = 20
)

// ErrInvalidRating - оценка вне диапазона 1..5.
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

var likedTags = map[string]string{
	"great_pacing":      "fast_pacing",
	"loved_characters":  "character_focus",
	"good_mystery":      "mystery_elements",
	"surprising_twist":  "plot_twists",
	"emotional_moments": "emotional_depth",
}

var dislikedTags = map[string]string{
	"too_slow":            "slow_pacing",
	"not_enough_action":   "low_action",
	"characters_felt_off": "character_inconsistency",
}

// RecordStory фиксирует успешную историю в библии: историю сюжетов, появления камео
// и реестр имён. Затем текст индексируется для будущих проверок согласованности.
func (p *Pipeline) RecordStory(ctx context.Context, bibleID string, result Result) error {
	if !result.Success || result.Story == nil {
		return fmt.Errorf("%w: only successful stories are recorded", models.ErrConfiguration)
	}
	var storyNumber int
	updated, err := p.bibles.Update(ctx, bibleID, func(b *models.StoryBible) error {
		UpdateStoryHistory(b, result.Metadata.Summary, result.Metadata.PlotType, result.Story.IsCliffhanger)
		storyNumber = b.StoryHistory.TotalStories

		if result.Metadata.Cameo != "" {
			for i := range b.CameoCharacters {
				if b.CameoCharacters[i].Name == result.Metadata.Cameo {
					b.CameoCharacters[i].Appearances++
					break
				}
			}
		}

		characters, places := p.extractor.Extract(result.Metadata.BeatPlan, result.Story.Narrative, b)
		p.registry.AddUsedNames(b, characters, places, storyNumber)
		if removed := p.registry.CleanupExpired(b, storyNumber); removed > 0 {
			p.logger.Debug("Expired names removed", zap.String("bible_id", bibleID), zap.Int("removed", removed))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update bible %s: %w", bibleID, err)
	}

	if p.checker != nil {
		if _, err := p.checker.IndexChapter(ctx, BibleCollectionID(bibleID), storyNumber, result.Story.Narrative); err != nil {
			// История уже записана, ошибка индекса её не отменяет.
			p.logger.Warn("Failed to index story", zap.String("bible_id", bibleID), zap.Error(err))
		}
	}

	p.logger.Info("Story recorded",
		zap.String("bible_id", bibleID),
		zap.Int("total_stories", updated.StoryHistory.TotalStories),
		zap.Int("used_characters", len(updated.UsedNames.Characters)),
		zap.Int("used_places", len(updated.UsedNames.Places)))
	return nil
}

// Rate сохраняет оценку читателя и теги отзыва в предпочтениях библии.
func (p *Pipeline) Rate(ctx context.Context, bibleID string, rating int, feedback []string) (*models.StoryBible, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if p.bibles == nil {
		return nil, fmt.Errorf("%w: bible store is required", models.ErrConfiguration)
	}
	updated, err := p.bibles.Update(ctx, bibleID, func(b *models.StoryBible) error {
		return ApplyRating(b, rating, feedback)
	})
	if err != nil {
		return nil, fmt.Errorf("rate bible %s: %w", bibleID, err)
	}
	p.logger.Info("Story rated", zap.String("bible_id", bibleID), zap.Int("rating", rating), zap.Strings("feedback", feedback))
	return updated, nil
}

// UpdateStoryHistory увеличивает счётчик историй и хранит последние 7 кратких
// содержаний и 10 типов сюжета.
func UpdateStoryHistory(b *models.StoryBible, summary, plotType string, cliffhanger bool) {
	h := &b.StoryHistory
	h.TotalStories++
	if summary != "" {
		h.RecentSummaries = utils.LastN(append(h.RecentSummaries, summary), recentSummariesKept)
	}
	if plotType != "" {
		h.RecentPlotTypes = utils.LastN(append(h.RecentPlotTypes, plotType), recentPlotTypesKept)
	}
	h.LastCliffhanger = cliffhanger
}

// ApplyRating добавляет оценку (хранятся последние 20) и переносит теги отзыва
// в понравившиеся или не понравившиеся элементы. Оценка 3 теги не учитывает.
func ApplyRating(b *models.StoryBible, rating int, feedback []string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	prefs := &b.UserPreferences
	prefs.Ratings = utils.LastN(append(prefs.Ratings, rating), ratingsKept)
	if prefs.PacingPreference == "" {
		prefs.PacingPreference = sliderDefault
	}
	if prefs.ActionLevel == "" {
		prefs.ActionLevel = sliderDefault
	}
	if prefs.EmotionalDepth == "" {
		prefs.EmotionalDepth = sliderDefault
	}

	for _, tag := range feedback {
		switch {
		case rating >= 4:
			if el, ok := likedTags[tag]; ok {
				prefs.LikedElements = appendCapped(prefs.LikedElements, el)
			}
		case rating <= 2:
			el, ok := dislikedTags[tag]
			if !ok {
				continue
			}
			prefs.DislikedElements = appendCapped(prefs.DislikedElements, el)
			switch tag {
			case "too_slow":
				prefs.PacingPreference = "fast"
			case "not_enough_action":
				prefs.ActionLevel = "high"
			}
		}
	}
	return nil
}

func appendCapped(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return utils.LastN(append(list, value), preferenceListCap)
}
