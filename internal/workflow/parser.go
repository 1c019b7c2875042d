package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"story-engine/internal/models"
	"story-engine/internal/utils"
)

// ParseOutcome - каким путём был получен результат разбора.
type ParseOutcome string

const (
	OutcomeStrict    ParseOutcome = "strict"
	OutcomeRepaired  ParseOutcome = "repaired"
	OutcomeRecovered ParseOutcome = "recovered"
	OutcomeFallback  ParseOutcome = "fallback"
)

const (
	expectedChoices         = 3
	maxBibleKeyEvents       = 10
	maxBibleSupportingChars = 8
	maxBibleLocations       = 8

	parseFallbackNarrative = "The thread of the story slipped for a moment, like a page turning too quickly in the wind. Take a breath and try again."
	emptyChoiceText        = "She paused, considering what to do next as..."
)

var (
	beatMarkerRegex     = regexp.MustCompile(`(?m)^---\s*BEAT\s+\d+:.*?---\s*$`)
	blankLinesRegex     = regexp.MustCompile(`\n{3,}`)
	narrativeFieldRegex = regexp.MustCompile(`(?s)"narrative"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,`)
)

// defaultChoices подставляются, когда генератор вернул не ровно три варианта.
func defaultChoices() []models.Choice {
	return []models.Choice{
		{ID: 1, Text: "She continued forward, stepping into...", Tone: "neutral"},
		{ID: 2, Text: "She hesitated, then carefully approached...", Tone: "cautious"},
		{ID: 3, Text: "She smiled despite herself and...", Tone: "hopeful"},
	}
}

func recoveredChoices() []models.Choice {
	return []models.Choice{
		{ID: 1, Text: "She took a moment to gather her thoughts before...", Tone: "cautious"},
		{ID: 2, Text: "She pushed forward, determined to...", Tone: "bold"},
		{ID: 3, Text: "She paused, considering her options as...", Tone: "thoughtful"},
	}
}

func tryAgainChoices() []models.Choice {
	return []models.Choice{{ID: 1, Text: "Try again", Tone: "neutral", ConsequenceHint: "Resume the tale"}}
}

// errMissingNarrative - JSON разобран, но обязательного поля нет.
var errMissingNarrative = fmt.Errorf("%w: narrative is required", models.ErrParseFailure)

// GeneratorOutput - строгая схема ответа генератора.
type GeneratorOutput struct {
	Narrative        string            `json:"narrative"`
	Choices          []json.RawMessage `json:"choices"`
	ImagePrompt      string            `json:"image_prompt"`
	BeatComplete     *bool             `json:"beat_complete"`
	BeatProgress     *float64          `json:"beat_progress"`
	StoryBibleUpdate map[string]any    `json:"story_bible_update"`
}

type rawChoice struct {
	ID              json.RawMessage `json:"id"`
	Text            string          `json:"text"`
	Tone            string          `json:"tone"`
	ConsequenceHint string          `json:"consequence_hint"`
}

// Parsed - результат разбора, уже провалидированный.
type Parsed struct {
	Narrative    string
	Choices      []models.Choice
	ImagePrompt  string
	BeatComplete bool
	BibleUpdate  map[string]any
	Outcome      ParseOutcome
	// Err - причина, по которой строгий разбор не удался. Для OutcomeStrict nil.
	Err error
}

// ParseGeneratorOutput разбирает ответ генератора. Никогда не возвращает ошибку:
// при неудаче подставляется запасное содержимое, а причина остаётся в Parsed.Err.
func ParseGeneratorOutput(raw string) Parsed {
	candidate := utils.ExtractJSONObject(raw)

	out, err := decodeStrict(candidate)
	outcome := OutcomeStrict
	if err != nil {
		repaired, repairErr := decodeStrict(utils.EscapeControlChars(candidate))
		if repairErr == nil {
			out, outcome = repaired, OutcomeRepaired
		} else {
			return recoverNarrative(raw, candidate, err)
		}
	}

	parsed := Parsed{
		Narrative:   SanitizeNarrative(out.Narrative),
		Choices:     validateChoices(out.Choices),
		ImagePrompt: strings.TrimSpace(out.ImagePrompt),
		BibleUpdate: out.StoryBibleUpdate,
		Outcome:     outcome,
	}
	if outcome != OutcomeStrict {
		parsed.Err = err
	}
	if out.BeatComplete != nil && *out.BeatComplete {
		parsed.BeatComplete = true
	}
	if out.BeatProgress != nil && *out.BeatProgress >= 1.0 {
		parsed.BeatComplete = true
	}
	return parsed
}

func decodeStrict(candidate string) (GeneratorOutput, error) {
	var out GeneratorOutput
	if strings.TrimSpace(candidate) == "" {
		return out, fmt.Errorf("%w: no JSON object in output", models.ErrParseFailure)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
	}
	if strings.TrimSpace(out.Narrative) == "" {
		return out, errMissingNarrative
	}
	return out, nil
}

// recoverNarrative вытаскивает поле narrative регуляркой из битого JSON.
func recoverNarrative(raw, candidate string, cause error) Parsed {
	source := candidate
	if source == "" {
		source = raw
	}
	if m := narrativeFieldRegex.FindStringSubmatch(source); len(m) > 1 && strings.TrimSpace(m[1]) != "" {
		text := strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t", `\"`, `"`, `\\`, `\`).Replace(m[1])
		return Parsed{
			Narrative: SanitizeNarrative(text),
			Choices:   recoveredChoices(),
			Outcome:   OutcomeRecovered,
			Err:       cause,
		}
	}
	if cause == nil {
		cause = errMissingNarrative
	}
	return Parsed{
		Narrative: parseFallbackNarrative,
		Choices:   tryAgainChoices(),
		Outcome:   OutcomeFallback,
		Err:       cause,
	}
}

// validateChoices нумерует варианты 1..3 по позиции и заполняет пустые поля.
// Не-объекты пропускаются; если в итоге вариантов не три, возвращаются варианты по умолчанию.
func validateChoices(items []json.RawMessage) []models.Choice {
	choices := make([]models.Choice, 0, len(items))
	for _, item := range items {
		var rc rawChoice
		if err := json.Unmarshal(item, &rc); err != nil {
			continue
		}
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			text = emptyChoiceText
		}
		tone := strings.TrimSpace(rc.Tone)
		if tone == "" {
			tone = "neutral"
		}
		choices = append(choices, models.Choice{
			ID:              len(choices) + 1,
			Text:            text,
			Tone:            tone,
			ConsequenceHint: strings.TrimSpace(rc.ConsequenceHint),
		})
	}
	if len(choices) != expectedChoices {
		return defaultChoices()
	}
	return choices
}

// SanitizeNarrative убирает служебные метки битов и лишние пустые строки.
func SanitizeNarrative(narrative string) string {
	narrative = beatMarkerRegex.ReplaceAllString(narrative, "")
	if strings.Contains(narrative, `\n`) {
		narrative = strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t").Replace(narrative)
	}
	narrative = blankLinesRegex.ReplaceAllString(narrative, "\n\n")
	return strings.TrimSpace(narrative)
}

// SelectContinuation превращает ввод игрока в текст продолжения.
// Номер варианта выбирает его текст из предыдущего хода, остальное берётся как есть.
func SelectContinuation(input string, previous []models.Choice) string {
	input = strings.TrimSpace(input)
	if id, err := strconv.Atoi(input); err == nil {
		for _, c := range previous {
			if c.ID == id {
				return c.Text
			}
		}
	}
	return input
}

// MergeBible рекурсивно вливает update в base: словари сливаются, списки дописываются.
// base не изменяется.
func MergeBible(base, update map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		result[k] = v
	}
	for key, value := range update {
		existing, ok := result[key]
		if !ok {
			result[key] = value
			continue
		}
		switch ev := existing.(type) {
		case map[string]any:
			if uv, ok := value.(map[string]any); ok {
				result[key] = MergeBible(ev, uv)
				continue
			}
		case []any:
			if uv, ok := value.([]any); ok {
				merged := make([]any, 0, len(ev)+len(uv))
				merged = append(merged, ev...)
				result[key] = append(merged, uv...)
				continue
			}
		}
		result[key] = value
	}
	return result
}

// PruneBible ограничивает рост сгенерированной библии.
func PruneBible(bible map[string]any) map[string]any {
	if len(bible) == 0 {
		return bible
	}
	if events, ok := bible["key_events"].([]any); ok && len(events) > maxBibleKeyEvents {
		bible["key_events"] = utils.LastN(events, maxBibleKeyEvents)
	}
	switch chars := bible["supporting_characters"].(type) {
	case []any:
		if len(chars) > maxBibleSupportingChars {
			bible["supporting_characters"] = utils.LastN(chars, maxBibleSupportingChars)
		}
	case map[string]any:
		if len(chars) > maxBibleSupportingChars {
			bible["supporting_characters"] = firstKeys(chars, maxBibleSupportingChars, "")
		}
	}
	if locs, ok := bible["locations"].(map[string]any); ok && len(locs) > maxBibleLocations {
		bible["locations"] = firstKeys(locs, maxBibleLocations, "current_location")
	}
	return bible
}

// firstKeys оставляет не больше n ключей в лексикографическом порядке; keep сохраняется всегда.
func firstKeys(m map[string]any, n int, keep string) map[string]any {
	out := make(map[string]any, n)
	if v, ok := m[keep]; ok && keep != "" {
		out[keep] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != keep {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(out) >= n {
			break
		}
		out[k] = m[k]
	}
	return out
}
