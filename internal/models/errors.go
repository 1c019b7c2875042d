package models

import "errors"

// Таксономия ошибок движка. Адаптеры оборачивают их через fmt.Errorf("%w: ...").
var (
	// ErrGeneratorFailure - текстовый генератор не ответил (таймаут, авторизация, лимиты).
	ErrGeneratorFailure = errors.New("generator failure")
	// ErrParseFailure - ответ генератора не удалось разобрать. Всегда восстанавливается локально.
	ErrParseFailure = errors.New("parse failure")
	// ErrMediaFailure - сбой генерации изображения, аудио или видео. Никогда не фатален.
	ErrMediaFailure = errors.New("media failure")
	// ErrInsufficientCredits - кредитов не хватает на ход.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrCheckpointFailure - не удалось прочитать или записать чекпоинт.
	ErrCheckpointFailure = errors.New("checkpoint failure")
	// ErrConfiguration - нет шаблона мира, начального состояния и т.п.
	ErrConfiguration = errors.New("configuration error")

	ErrNotFound           = errors.New("not found")
	ErrCheckpointConflict = errors.New("checkpoint version conflict")
	ErrLockNotAcquired    = errors.New("session lock not acquired")
	// ErrSessionFinished - история уже завершена, новые ходы не принимаются.
	ErrSessionFinished = errors.New("session finished")
)

// ErrorCode возвращает короткий код ошибки для уведомлений о результате задачи.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrGeneratorFailure):
		return "generator_failure"
	case errors.Is(err, ErrCheckpointConflict), errors.Is(err, ErrLockNotAcquired):
		return "concurrent_turn"
	case errors.Is(err, ErrCheckpointFailure):
		return "checkpoint_failure"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrSessionFinished):
		return "session_finished"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrParseFailure):
		return "parse_failure"
	case errors.Is(err, ErrMediaFailure):
		return "media_failure"
	default:
		return "internal_error"
	}
}

// IsRetriable сообщает, имеет ли смысл повторить задачу позже.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrGeneratorFailure) ||
		errors.Is(err, ErrLockNotAcquired) ||
		errors.Is(err, ErrCheckpointConflict)
}
