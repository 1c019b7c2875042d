package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"story-engine/internal/models"
	"story-engine/internal/utils"
)

const promptHistoryWindow = 5

// PlannerPrompt - запрос к планировщику битов.
func PlannerPrompt(bible *models.StoryBible, tpl models.BeatTemplate, cliffhanger bool, cameo *models.Cameo, exclusion string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the beat planner for a complete standalone %s story.\n\n", orDefault(bible.Genre, "fiction"))
	b.WriteString("## YOUR TASK\n\n")
	fmt.Fprintf(&b, "Plan a %d-word complete story using the beat structure below. ", tpl.TotalWords)
	b.WriteString("The story stands on its own but lives in an established world with consistent characters.\n\n")

	b.WriteString("## STORY WORLD\n\n")
	fmt.Fprintf(&b, "**Genre**: %s\n**Tone**: %s\n**Themes**: %s\n\n",
		bible.Genre, bible.Tone, orDefault(strings.Join(bible.Themes, ", "), "To be discovered"))
	fmt.Fprintf(&b, "**Setting**: %s\n%s\n\n**Atmosphere**: %s\n\n",
		orDefault(bible.Setting.Name, "N/A"), orDefault(bible.Setting.Description, "N/A"), orDefault(bible.Setting.Atmosphere, "N/A"))
	fmt.Fprintf(&b, "**Key Locations**:\n%s\n\n", indentJSON(bible.Setting.KeyLocations, "[]"))
	if bible.Setting.Rules != "" {
		fmt.Fprintf(&b, "**World Rules**: %s\n\n", bible.Setting.Rules)
	}
	if bible.StoryStyle != "" {
		fmt.Fprintf(&b, "**Story Style**: %s\n\n", bible.StoryStyle)
	}

	p := bible.Protagonist
	b.WriteString("## PROTAGONIST\n\n")
	fmt.Fprintf(&b, "**Name**: %s\n**Role**: %s\n**Age**: %s\n**Traits**: %s\n**Defining Characteristic**: %s\n**Background**: %s\n**Voice**: %s\n\n",
		orDefault(p.Name, "N/A"), orDefault(p.Role, "N/A"), orDefault(p.AgeRange, "adult"),
		strings.Join(p.KeyTraits, ", "), orDefault(p.DefiningCharacteristic, "N/A"),
		orDefault(p.Background, "N/A"), orDefault(p.Voice, "N/A"))

	b.WriteString("## SUPPORTING CHARACTERS (available to use)\n\n")
	if len(bible.SupportingCharacters) > 0 {
		b.WriteString(indentJSON(bible.SupportingCharacters, "[]"))
	} else {
		b.WriteString("None defined - may create as needed for this story")
	}
	b.WriteString("\n")

	if recent := utils.LastN(bible.StoryHistory.RecentSummaries, promptHistoryWindow); len(recent) > 0 {
		b.WriteString("\n## RECENT STORIES\n\nAvoid repeating these plots:\n")
		for _, s := range recent {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
		if plots := utils.LastN(bible.StoryHistory.RecentPlotTypes, promptHistoryWindow); len(plots) > 0 {
			fmt.Fprintf(&b, "\nRecent plot types: %s\n", strings.Join(plots, ", "))
		}
	}

	prefs := bible.UserPreferences
	b.WriteString("\n## USER PREFERENCES (learned from ratings)\n\n")
	fmt.Fprintf(&b, "- Pacing: %s\n- Action level: %s\n- Emotional depth: %s\n",
		orDefault(prefs.PacingPreference, "medium"), orDefault(prefs.ActionLevel, "medium"), orDefault(prefs.EmotionalDepth, "medium"))
	if len(prefs.LikedElements) > 0 {
		fmt.Fprintf(&b, "- Liked: %s\n", strings.Join(prefs.LikedElements, ", "))
	}
	if len(prefs.DislikedElements) > 0 {
		fmt.Fprintf(&b, "- Disliked: %s\n", strings.Join(prefs.DislikedElements, ", "))
	}
	b.WriteString("Adjust the story to these preferences while staying true to the genre.\n")

	if cameo != nil {
		b.WriteString("\n## CAMEO CHARACTER (Optional)\n\n")
		fmt.Fprintf(&b, "You MAY include a brief cameo appearance:\n- Name: %s\n- Description: %s\n",
			cameo.Name, orDefault(cameo.Description, "N/A"))
		b.WriteString("Only if it fits naturally: a background moment or passing interaction in an opening or transition beat, never the climax or resolution.\n")
	}

	if cliffhanger {
		b.WriteString("\n## ENDING STYLE: Curiosity Hook\n\n")
		b.WriteString("Resolve the immediate story question, then end on an intriguing discovery, revelation or new question. ")
		b.WriteString("Do not end on life-or-death peril and do not leave the core plot unresolved.\n")
	} else {
		b.WriteString("\n## ENDING STYLE: Complete Resolution\n\n")
		b.WriteString("Resolve the central story question with an emotional or thematic landing and a sense of completion. ")
		b.WriteString("The world continues beyond this story.\n")
	}

	if exclusion != "" {
		b.WriteString("\n")
		b.WriteString(exclusion)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n## BEAT STRUCTURE (%d beats, %d total words)\n\n", len(tpl.Beats), tpl.TotalWords)
	for _, beat := range tpl.Beats {
		fmt.Fprintf(&b, "**Beat %d: %s** (%d words)\n- Purpose: %s\n- Guidance: %s\n\n",
			beat.BeatNumber, strings.ToUpper(beat.BeatName), beat.WordTarget, beat.Description, beat.Guidance)
	}

	firstTarget := 400
	if len(tpl.Beats) > 0 {
		firstTarget = tpl.Beats[0].WordTarget
	}
	b.WriteString("## JSON FORMAT\n\nReturn the beat plan as JSON only:\n\n")
	fmt.Fprintf(&b, `{
  "story_title": "Engaging title",
  "story_premise": "One sentence premise",
  "plot_type": "mystery, action, character study, ...",
  "beats": [
    {
      "beat_number": 1,
      "beat_name": "opening_hook",
      "word_target": %d,
      "description": "What happens in this beat",
      "key_elements": ["element1", "element2"],
      "emotional_tone": "tense",
      "characters_featured": ["Protagonist"],
      "location": "Where this takes place",
      "narrative_purpose": "Why this beat matters"
    }
  ],
  "story_question": "The central question",
  "emotional_arc": "The emotional journey",
  "thematic_focus": "What the story explores",
  "character_growth": "How the protagonist changes",
  "unique_element": "What makes this story fresh"
}
`, firstTarget)
	return b.String()
}

// ProsePrompt - запрос к генератору прозы по готовому плану.
func ProsePrompt(plan *models.BeatPlan, bible *models.StoryBible, tpl models.BeatTemplate, guidance string) string {
	genre := orDefault(bible.Genre, "fiction")
	p := bible.Protagonist
	defining := orDefault(p.DefiningCharacteristic, "N/A")

	var b strings.Builder
	fmt.Fprintf(&b, "You are the prose writer producing a complete %s story.\n\n", genre)
	fmt.Fprintf(&b, "## YOUR TASK\n\nWrite a complete %d-word story following the beat plan below. Polished, engaging prose ready for readers.\n\n", tpl.TotalWords)
	fmt.Fprintf(&b, "## STORY DETAILS\n\n**Title**: %s\n**Premise**: %s\n**Genre**: %s\n**Tone**: %s\n**Target Length**: %d words (plus or minus 200 words)\n\n",
		orDefault(plan.StoryTitle, "Untitled"), orDefault(plan.StoryPremise, "N/A"), genre, bible.Tone, tpl.TotalWords)
	fmt.Fprintf(&b, "## PROTAGONIST\n\n**Name**: %s\n**Voice**: %s\n**Key Traits**: %s\n**Defining Characteristic**: %s\n\n",
		orDefault(p.Name, "N/A"), orDefault(p.Voice, "thoughtful"), strings.Join(p.KeyTraits, ", "), defining)
	fmt.Fprintf(&b, "**CRITICAL**: %s - this MUST be reflected consistently in the prose.\n\n", defining)
	fmt.Fprintf(&b, "## BEAT PLAN\n\n%s\n", indentJSON(plan.Beats, "[]"))
	b.WriteString(guidance)
	b.WriteString("\n\n## GUIDELINES\n\n")
	b.WriteString("- Vivid, sensory prose; show, don't tell; natural dialogue\n")
	b.WriteString("- Third person limited on the protagonist\n")
	b.WriteString("- Honor each beat's word target (plus or minus 50 words) and let beats flow into each other\n")
	b.WriteString("- Keep characters and setting consistent with the established world\n")
	fmt.Fprintf(&b, "- Honor %s genre conventions and the story bible tone\n\n", genre)
	b.WriteString("## FORMAT\n\nReturn ONLY the story prose. No metadata, no JSON, no commentary.\n\n")
	fmt.Fprintf(&b, "Target: %d words total.\n\nBegin the story now:\n", tpl.TotalWords)
	return b.String()
}

// ImagePrompt - описание обложки по плану и миру.
func ImagePrompt(plan *models.BeatPlan, bible *models.StoryBible) string {
	parts := []string{orDefault(plan.StoryTitle, "Untitled")}
	if plan.StoryPremise != "" {
		parts = append(parts, plan.StoryPremise)
	}
	if bible.Setting.Name != "" {
		parts = append(parts, "set in "+bible.Setting.Name)
	}
	if bible.Setting.Atmosphere != "" {
		parts = append(parts, bible.Setting.Atmosphere)
	}
	return fmt.Sprintf("Book cover illustration for a %s story: %s", orDefault(bible.Genre, "fiction"), strings.Join(parts, ", "))
}

func indentJSON(v any, empty string) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil || string(raw) == "null" {
		return empty
	}
	return string(raw)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// BiblePrompt - запрос на развёртывание короткого описания мира в библию.
func BiblePrompt(req BibleRequest, profile GenreProfile, intensity IntensityLevel, length StoryLength) string {
	recurring := profile.RecurringCast

	var characters, characterJSON string
	switch {
	case recurring && len(req.Characters) > 0:
		lines := make([]string, 0, len(req.Characters))
		for _, c := range req.Characters {
			lines = append(lines, fmt.Sprintf("- %s: %s", c.Name, orDefault(c.Description, "Main character")))
		}
		characters = "The user wants these RECURRING characters to appear in EVERY story:\n" + strings.Join(lines, "\n") +
			"\n\nExpand on these characters with full details (traits, background, voice). They are the main ensemble cast."
		characterJSON = mainCharactersJSON
	case recurring:
		characters = "The user wants recurring characters but did not provide names. Create 1-2 memorable main characters with full details."
		characterJSON = mainCharactersJSON
	default:
		characters = "Each story will have FRESH characters generated at story time. Create a CHARACTER TEMPLATE (archetype, typical traits) rather than specific characters."
		if req.Premise != "" {
			characters += " Premise hint: " + req.Premise
		}
		characterJSON = characterTemplateJSON
	}

	var b strings.Builder
	b.WriteString("You are a creative writing assistant helping to expand a story world.\n\n")
	fmt.Fprintf(&b, "GENRE: %s\nGenre style: %s\n", profile.Label, profile.Description)
	fmt.Fprintf(&b, "- Characters: %s\n- Settings: %s\n- World: %s\n\n",
		choose(recurring, "Recurring (user-defined)", "Fresh each story (AI-generated)"),
		choose(profile.SameSetting, "Consistent", "Varies each story"),
		choose(profile.SameWorld, "Same universe/rules", "Can vary"))
	fmt.Fprintf(&b, "INTENSITY: %s - %s\nSTORY LENGTH: %s (~%d words)\n\n", intensity.Label, intensity.Description, length.Label, length.Words)
	fmt.Fprintf(&b, "The user provided this setting/world description:\n%q\n\n%s\n\n", req.Setting, characters)
	b.WriteString("Your task: expand this minimal input into a rich, detailed story bible that will enable consistent, engaging stories.\n\n")
	b.WriteString("Return a JSON object with the following structure:\n\n")
	fmt.Fprintf(&b, `{
  "genre": %q,
  "setting": {
    "name": "Brief name for this world/setting",
    "description": "2-3 detailed paragraphs expanding on the user's setting: atmosphere, sensory details, key locations, tone",
    "key_locations": [{"name": "Location 1", "description": "Brief description"}],
    "atmosphere": "The overall mood and feel of this world",
    "rules": "Important rules of this world (tech level, magic system, social norms)"
  },
  %s,
  "tone": "The emotional tone matching intensity level: %s",
  "themes": ["theme1", "theme2", "theme3"],
  "story_style": "What makes these stories distinctive"
}
`, req.Genre, characterJSON, intensity.Label)
	b.WriteString("\nGuidelines:\n")
	b.WriteString("1. Be specific: \"Space station\" becomes \"Deep Space Station Aurora, a crumbling research outpost on the edge of charted space\"\n")
	fmt.Fprintf(&b, "2. Match intensity: %s means %s\n", intensity.Label, intensity.Description)
	b.WriteString("3. Match the genre expectations and intensity level in tone\n")
	if recurring {
		b.WriteString("4. These characters appear in every story, so make them memorable\n")
	} else {
		b.WriteString("4. Provide archetypes that can generate fresh, interesting characters each story\n")
	}
	b.WriteString("5. Everything should fit together logically\n\n")
	b.WriteString("Make this feel like a real, lived-in world that can sustain many different stories. Return JSON only.\n")
	return b.String()
}

const mainCharactersJSON = `"main_characters": [
    {
      "name": "Character from the user's list",
      "role": "Their role/job",
      "age_range": "Approximate age",
      "key_traits": ["trait1", "trait2", "trait3"],
      "defining_characteristic": "One unique trait that makes them interesting",
      "background": "Brief backstory (2-3 sentences)",
      "motivation": "What drives them",
      "voice": "How they speak/think"
    }
  ],
  "supporting_characters": [
    {"name": "Supporting cast member", "role": "Their role", "relationship": "How they relate to the main cast", "personality": "Brief descriptor", "purpose": "Narrative purpose"}
  ]`

const characterTemplateJSON = `"character_template": {
    "archetype": "Type of protagonist typical for this genre",
    "role": "Their typical job/position",
    "age_range": "Typical age range",
    "key_traits": ["trait1", "trait2", "trait3"],
    "defining_characteristic": "What makes protagonists interesting",
    "background": "Typical background elements",
    "motivation": "What drives characters",
    "voice": "How they typically speak/think"
  },
  "supporting_cast_template": [
    {"role": "Role type (mentor, rival, love interest)", "personality": "Typical traits", "purpose": "Narrative purpose"}
  ]`

func choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
