package models

// RiskLevel - упорядоченная оценка риска противоречия: none < low < medium < high.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank возвращает порядковый номер уровня. Неизвестные значения считаются none.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// MaxRisk возвращает больший из двух уровней.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return RiskNone
	}
	return a
}

// CheckKind - категория проверяемой сущности.
type CheckKind string

const (
	CheckCharacter CheckKind = "character"
	CheckLocation  CheckKind = "location"
	CheckPlot      CheckKind = "plot"
)

// HistoryItem - найденный фрагмент прошлого повествования.
type HistoryItem struct {
	Text     string  `json:"text"`
	Chapter  int     `json:"chapter"`
	Distance float64 `json:"distance"`
}

// CheckResult - результат одного запроса к индексу.
type CheckResult struct {
	Kind            CheckKind     `json:"kind"`
	Query           string        `json:"query_used"`
	RelevantHistory []HistoryItem `json:"relevant_history"`
	RiskLevel       RiskLevel     `json:"risk_level"`
}

// ConsistencyGuidance - необязательные подсказки для генератора прозы.
type ConsistencyGuidance struct {
	GeneralGuidance string   `json:"general_guidance"`
	EmphasisPoints  []string `json:"emphasis_points"`
	Avoid           []string `json:"avoid"`
}

// ConsistencyReport собирается заново для каждой попытки генерации.
type ConsistencyReport struct {
	Status          string              `json:"status,omitempty"`
	ChecksPerformed []string            `json:"checks_performed"`
	RelevantHistory []HistoryItem       `json:"relevant_history"`
	RiskFlags       []string            `json:"risk_flags"`
	OverallRisk     RiskLevel           `json:"overall_risk"`
	TotalChecks     int                 `json:"total_checks"`
	Guidance        ConsistencyGuidance `json:"guidance_for_pa"`
}
