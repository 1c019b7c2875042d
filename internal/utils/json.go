package utils

import (
	"regexp"
	"strings"
)

var (
	jsonFenceRegex = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFenceRegex  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	allFencesRegex = regexp.MustCompile("(?s)```(?:([a-zA-Z]*)[ \\t]*\\r?\\n)?\\s*(.*?)\\s*```")
)

// StripCodeFences снимает markdown-ограждение с ответа модели.
// Сначала ищется блок ```json, затем любой ```. Без ограждения строка возвращается обрезанной.
func StripCodeFences(rawText string) string {
	rawText = strings.TrimSpace(rawText)
	if m := jsonFenceRegex.FindStringSubmatch(rawText); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRegex.FindStringSubmatch(rawText); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return rawText
}

// FencedBlock - содержимое одного блока ```lang ... ```.
type FencedBlock struct {
	Lang string
	Body string
}

// FencedBlocks возвращает все блоки с ограждением в порядке появления.
// Язык берётся только из строки с открывающим ограждением.
func FencedBlocks(rawText string) []FencedBlock {
	matches := allFencesRegex.FindAllStringSubmatch(rawText, -1)
	blocks := make([]FencedBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, FencedBlock{Lang: strings.ToLower(m[1]), Body: m[2]})
	}
	return blocks
}

// OutsideFences возвращает текст вне блоков с ограждением.
// Незакрытое ограждение просто вырезается.
func OutsideFences(rawText string) string {
	rest := allFencesRegex.ReplaceAllString(rawText, "")
	return strings.TrimSpace(strings.ReplaceAll(rest, "```", ""))
}

// FirstJSONObject возвращает первый сбалансированный JSON-объект в тексте,
// отбрасывая всё, что идёт после закрывающей скобки.
// Скобки внутри строковых литералов не учитываются.
// Если объект не закрыт, возвращается хвост от первой '{'.
func FirstJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

// ExtractJSONObject комбинирует StripCodeFences и FirstJSONObject.
func ExtractJSONObject(rawText string) string {
	return FirstJSONObject(StripCodeFences(rawText))
}

// EscapeControlChars экранирует управляющие символы (переводы строк, табуляции)
// внутри строковых литералов JSON. Модели часто вставляют их без экранирования.
func EscapeControlChars(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) + 16)
	inString := false
	escape := false
	for _, r := range text {
		if escape {
			escape = false
			sb.WriteRune(r)
			continue
		}
		if r == '\\' && inString {
			escape = true
			sb.WriteRune(r)
			continue
		}
		if r == '"' {
			inString = !inString
			sb.WriteRune(r)
			continue
		}
		if inString && r < 0x20 {
			switch r {
			case '\n':
				sb.WriteString(`\n`)
			case '\r':
				sb.WriteString(`\r`)
			case '\t':
				sb.WriteString(`\t`)
			default:
				// остальные управляющие символы просто выбрасываем
			}
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// StringShort обрезает строку до указанной максимальной длины,
// добавляя многоточие, если строка была обрезана.
func StringShort(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// LastN возвращает не более n последних элементов среза (новый срез).
func LastN[T any](items []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return append([]T(nil), items...)
}
