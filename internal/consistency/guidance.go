package consistency

import (
	"fmt"
	"strings"

	"story-engine/internal/models"
	"story-engine/internal/utils"
)

const maxHistoryInGuidance = 5

// SimplifiedReport - облегчённая проверка для одиночных историй:
// только определяющая черта протагониста.
func SimplifiedReport(bible *models.StoryBible) models.ConsistencyReport {
	name := bible.Protagonist.Name
	if name == "" {
		name = "protagonist"
	}
	defining := bible.Protagonist.DefiningCharacteristic
	return models.ConsistencyReport{
		Status:          "clear",
		ChecksPerformed: []string{},
		RelevantHistory: []models.HistoryItem{},
		RiskFlags:       []string{},
		OverallRisk:     models.RiskNone,
		Guidance: models.ConsistencyGuidance{
			GeneralGuidance: fmt.Sprintf("Ensure %s is portrayed consistently. CRITICAL: %s", name, defining),
			EmphasisPoints:  []string{defining, "Character voice and personality", "Setting consistency"},
			Avoid:           []string{"Contradicting established character traits", "Breaking world rules"},
		},
	}
}

func guidanceFromReport(report models.ConsistencyReport, bible *models.StoryBible) models.ConsistencyGuidance {
	g := models.ConsistencyGuidance{
		EmphasisPoints: []string{},
		Avoid:          []string{"Contradicting established character traits", "Breaking world rules"},
	}
	if len(report.RelevantHistory) == 0 {
		g.GeneralGuidance = "No related passages found in earlier chapters."
	} else {
		g.GeneralGuidance = fmt.Sprintf(
			"%d earlier passages touch the planned events (overall risk: %s). Keep new prose compatible with them.",
			len(report.RelevantHistory), report.OverallRisk)
		for i, item := range report.RelevantHistory {
			if i == maxHistoryInGuidance {
				break
			}
			g.EmphasisPoints = append(g.EmphasisPoints,
				fmt.Sprintf("Chapter %d: %s", item.Chapter, utils.StringShort(item.Text, 200)))
		}
	}
	if bible != nil && bible.Protagonist.DefiningCharacteristic != "" {
		g.EmphasisPoints = append(g.EmphasisPoints, bible.Protagonist.DefiningCharacteristic)
	}
	return g
}

// RenderGuidance превращает подсказки в блок промпта. Пустой блок, если подсказок нет.
func RenderGuidance(g models.ConsistencyGuidance) string {
	var sb strings.Builder
	if g.GeneralGuidance != "" {
		sb.WriteString("\n\n## CONSISTENCY GUIDANCE\n\n")
		sb.WriteString(g.GeneralGuidance)
	}
	if len(g.EmphasisPoints) > 0 {
		sb.WriteString("\n\n**Emphasize**: ")
		sb.WriteString(strings.Join(g.EmphasisPoints, ", "))
	}
	if len(g.Avoid) > 0 {
		sb.WriteString("\n\n**Avoid**: ")
		sb.WriteString(strings.Join(g.Avoid, ", "))
	}
	return sb.String()
}
