package beats

// DefaultMaxTurnsPerBeat - предел ходов в бите, если мир не задаёт свой.
const DefaultMaxTurnsPerBeat = 4

// Progress - позиция сессии в структуре истории. Номер бита абсолютный.
type Progress struct {
	Beat        int
	TurnsInBeat int
	Chapter     int
	Finished    bool
}

// Structure - размеры структуры: битов в главе и глав всего.
type Structure struct {
	BeatsPerChapter int
	TotalChapters   int
}

// TotalBeats - число битов во всей истории.
func (s Structure) TotalBeats() int {
	return s.normalized().BeatsPerChapter * s.normalized().TotalChapters
}

func (s Structure) normalized() Structure {
	if s.BeatsPerChapter <= 0 {
		s.BeatsPerChapter = 1
	}
	if s.TotalChapters <= 0 {
		s.TotalChapters = 1
	}
	return s
}

// ChapterOf возвращает номер главы для абсолютного бита, не больше TotalChapters.
func (s Structure) ChapterOf(beat int) int {
	n := s.normalized()
	if beat < 1 {
		return 1
	}
	chapter := (beat-1)/n.BeatsPerChapter + 1
	if chapter > n.TotalChapters {
		return n.TotalChapters
	}
	return chapter
}

// BeatInChapter возвращает номер бита внутри главы (1-based).
func (s Structure) BeatInChapter(beat int) int {
	n := s.normalized()
	if beat < 1 {
		return 1
	}
	return (beat-1)%n.BeatsPerChapter + 1
}

// Advance применяет итог хода к прогрессу.
// Бит продвигается, если генератор сообщил о завершении или ход исчерпал лимит maxTurns.
// При продвижении счётчик ходов сбрасывается в 0, иначе увеличивается.
// Завершение последнего бита последней главы помечает историю законченной.
func Advance(p Progress, beatComplete bool, maxTurns int, s Structure) (Progress, bool) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurnsPerBeat
	}
	if p.Finished {
		return p, false
	}
	if !beatComplete && p.TurnsInBeat+1 < maxTurns {
		p.TurnsInBeat++
		return p, false
	}

	finalBeat := p.Beat >= s.TotalBeats()
	p.Beat++
	p.TurnsInBeat = 0
	p.Chapter = s.ChapterOf(p.Beat)
	if finalBeat {
		p.Finished = true
	}
	return p, true
}
