package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"story-engine/internal/models"
	"story-engine/internal/utils"
)

const (
	promptSummaryWindow = 6
	historyMessages     = 6
	historySnippetLen   = 200
)

const openingJSONExample = `{
  "narrative": "Opening narrative (2-3 paragraphs)",
  "choices": [
    {"id": 1, "text": "First sentence(s) that continue the narrative...", "tone": "cautious/hopeful/defensive/etc"},
    {"id": 2, "text": "Alternative continuation with different tone...", "tone": "bold/vulnerable/curious/etc"},
    {"id": 3, "text": "Third continuation option...", "tone": "playful/serious/guarded/etc"}
  ],
  "image_prompt": "Visual description for image generation",
  "story_bible_update": {
    "protagonist": {"name": "Generated name", "occupation": "Generated occupation", "personality": "Key traits"},
    "locations": {"current_location": "Description of where opening takes place"},
    "key_events": ["Opening event description"]
  },
  "beat_progress": 0.25,
  "beat_complete": false
}`

const continuationJSONExample = `{
  "narrative": "2-3 paragraph continuation",
  "choices": [
    {"id": 1, "text": "First continuation sentence(s)...", "tone": "emotional tone"},
    {"id": 2, "text": "Second continuation...", "tone": "different tone"},
    {"id": 3, "text": "Third continuation...", "tone": "another approach"}
  ],
  "image_prompt": "Scene description",
  "story_bible_update": {
    "locations": {},
    "supporting_characters": {},
    "key_events": [],
    "relationships": {}
  },
  "beat_progress": 0.5,
  "beat_complete": false
}`

// OpeningPrompt - промпт первого хода: генератор создаёт героя и первую сцену.
func OpeningPrompt(world *WorldTemplate, totalChapters int) (systemPrompt, userInput string) {
	beat := world.BeatInfo(1)
	guidelines, _ := json.MarshalIndent(world.GenerationGuidelines, "", "  ")

	var b strings.Builder
	b.WriteString("You are generating the OPENING of an interactive narrative experience.\n\n")
	writeWorldBlock(&b, world)
	fmt.Fprintf(&b, "BEAT 1: %s\nGoal: %s\nEmotional Arc: %s\nKey Moments: %s\n\n",
		orDefault(beat.Name, "Opening"), beat.Goal, beat.EmotionalArc, strings.Join(beat.KeyMoments, ", "))
	fmt.Fprintf(&b, "CHARACTER ARC TEMPLATES:\nProtagonist Archetype: %s\nStarting State: %s\nLove Interest Archetype: %s\n\n",
		world.CharacterArc.Protagonist.Archetype, world.CharacterArc.Protagonist.StartingState, world.CharacterArc.LoveInterest.Archetype)
	if len(world.GenerationGuidelines) > 0 {
		fmt.Fprintf(&b, "GENERATION GUIDELINES:\n%s\n\n", guidelines)
	}
	b.WriteString("YOUR TASK:\n")
	b.WriteString("1. CREATE the protagonist (name, age, occupation, personality) based on the archetype\n")
	fmt.Fprintf(&b, "2. WRITE the opening scene of Chapter 1 of %d in %s, with dialogue, sensory detail and action\n", totalChapters, world.POV())
	b.WriteString("3. CREATE 3 choice continuations: each 1-3 sentences that flow naturally into the next scene, each with a different emotional approach\n")
	b.WriteString("4. GENERATE an image prompt for the key scene\n")
	b.WriteString("5. BUILD the initial story bible with protagonist details\n\n")
	b.WriteString("Do not include beat labels or section headers in the narrative.\n\n")
	b.WriteString("CRITICAL - RESPONSE FORMAT (JSON only, no markdown):\n")
	b.WriteString(openingJSONExample)
	b.WriteString("\n")
	return b.String(), "Begin the story."
}

// ContinuationPrompt - промпт продолжения после выбора игрока.
func ContinuationPrompt(world *WorldTemplate, state *models.SessionState, beatInChapter int) (systemPrompt, userInput string) {
	beat := world.BeatInfo(beatInChapter)
	maxTurns := beat.Turns
	if maxTurns <= 0 {
		maxTurns = 4
	}
	progressPct := state.TurnsInBeat * 100 / maxTurns
	totalChapters := state.TotalChapters
	if totalChapters <= 0 {
		totalChapters = 1
	}
	storyPct := state.ChapterNumber * 100 / totalChapters

	summary := "Beginning of story"
	if recent := utils.LastN(state.StorySummary, promptSummaryWindow); len(recent) > 0 {
		lines := make([]string, len(recent))
		for i, s := range recent {
			lines[i] = "- " + s
		}
		summary = strings.Join(lines, "\n")
	}

	bible := "{}"
	if len(state.GeneratedBible) > 0 {
		if raw, err := json.MarshalIndent(state.GeneratedBible, "", "  "); err == nil {
			bible = string(raw)
		}
	}

	continuation := state.LastChoiceContinuation
	if continuation == "" {
		continuation = "Continue the story"
	}

	var b strings.Builder
	b.WriteString("You are continuing an interactive narrative experience.\n\n")
	writeWorldBlock(&b, world)
	fmt.Fprintf(&b, "CHAPTER PROGRESS:\nChapter %d of %d\nStory Progress: %d%%\nChapters Remaining: %d\n\n",
		state.ChapterNumber, totalChapters, storyPct, totalChapters-state.ChapterNumber)
	fmt.Fprintf(&b, "CURRENT BEAT: %d - %s\nGoal: %s\nEmotional Arc: %s\nProgress: %d/%d turns (approx %d%%)\nSuccess Criteria: %s\n\n",
		beatInChapter, beat.Name, beat.Goal, beat.EmotionalArc, state.TurnsInBeat, maxTurns, progressPct, beat.SuccessCriteria)
	fmt.Fprintf(&b, "STORY SO FAR (Recent Events):\n%s\n\n", summary)
	fmt.Fprintf(&b, "RECENT CONVERSATION:\n%s\n\n", FormatConversationHistory(state.Messages))
	fmt.Fprintf(&b, "GENERATED STORY BIBLE:\n%s\n\n", bible)
	fmt.Fprintf(&b, "LAST CHOICE (Continue from here):\n%q\n\n", continuation)
	b.WriteString("YOUR TASK:\n")
	b.WriteString("1. CONTINUE seamlessly from the choice continuation\n")
	fmt.Fprintf(&b, "2. WRITE the next scene in %s, advancing toward the beat goal: %s\n", world.POV(), beat.Goal)
	b.WriteString("3. CREATE 3 new choice continuations\n")
	b.WriteString("4. UPDATE the story bible with NEW details only (characters, locations, events)\n")
	b.WriteString("5. ASSESS beat progress (0.0-1.0 where 1.0 = beat complete) and set beat_complete only when the success criteria is clearly met\n\n")
	fmt.Fprintf(&b, "STORY ARC PACING: %s\n", actFor(storyPct))
	if len(beat.KeyMoments) > 0 {
		fmt.Fprintf(&b, "Key moments to hit: %s\n", strings.Join(beat.KeyMoments, ", "))
	}
	if len(beat.DramaticQuestions) > 0 {
		fmt.Fprintf(&b, "Dramatic questions: %s\n", strings.Join(beat.DramaticQuestions, ", "))
	}
	b.WriteString("\nRESPONSE FORMAT (JSON only):\n")
	b.WriteString(continuationJSONExample)
	b.WriteString("\n")
	return b.String(), "Continue the story from the choice: " + continuation
}

// SummaryPrompt - сжатие хода в одно короткое предложение.
func SummaryPrompt(narrative, playerChoice string) (systemPrompt, userInput string) {
	if playerChoice == "" {
		playerChoice = "Story opening"
	}
	systemPrompt = "You compress story segments into compact memory for a long-running narrative. " +
		"Respond with ONLY one short sentence, no additional text or explanation."
	userInput = fmt.Sprintf("Summarize what just happened in one short sentence. Focus on key actions, discoveries and decisions.\n\nStory segment:\n%s\n\nPlayer's choice: %s",
		narrative, playerChoice)
	return systemPrompt, userInput
}

// FormatConversationHistory - последние 6 реплик, каждая не длиннее 200 символов.
func FormatConversationHistory(messages []models.Message) string {
	if len(messages) == 0 {
		return "No previous conversation."
	}
	recent := utils.LastN(messages, historyMessages)
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		role := "Story"
		if m.Role == models.RoleUser {
			role = "Player"
		}
		content := m.Content
		if r := []rune(content); len(r) > historySnippetLen {
			content = string(r[:historySnippetLen]) + "..."
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}

func writeWorldBlock(b *strings.Builder, world *WorldTemplate) {
	fmt.Fprintf(b, "WORLD TEMPLATE:\nSetting: %s\nThemes: %s\nTone: %s\nPoint of View: %s\n\n",
		world.WorldLore.Setting, strings.Join(world.WorldLore.Themes, ", "), world.NarrativeStyle.Tone, world.POV())
}

func actFor(storyPct int) string {
	switch {
	case storyPct < 33:
		return "Act 1 (Setup)"
	case storyPct < 75:
		return "Act 2 (Confrontation)"
	default:
		return "Act 3 (Resolution)"
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
