package beats

import (
	"math/rand"

	"story-engine/internal/models"
)

const (
	cliffhangerWarmup = 4
	cliffhangerPeriod = 6
)

// ShouldUseCliffhanger - только бесплатный тариф: первые 4 истории всегда завершены,
// далее каждая шестая (индексы 4, 10, 16, ...) заканчивается клиффхэнгером.
func ShouldUseCliffhanger(storyCount int, tier models.Tier) bool {
	if tier != models.TierFree {
		return false
	}
	if storyCount < cliffhangerWarmup {
		return false
	}
	return (storyCount-cliffhangerWarmup)%cliffhangerPeriod == 0
}

// CameoProbability - вероятность появления камео для частоты.
var CameoProbability = map[models.CameoFrequency]float64{
	models.CameoRarely:    0.15,
	models.CameoSometimes: 0.3,
	models.CameoOften:     0.6,
}

// probabilityFor возвращает вероятность, неизвестная частота считается "sometimes".
func probabilityFor(f models.CameoFrequency) float64 {
	if p, ok := CameoProbability[f]; ok {
		return p
	}
	return CameoProbability[models.CameoSometimes]
}

// PickCameo по очереди разыгрывает каждое камео. Первое выпавшее выбирается,
// его счётчик появлений увеличивается. Возвращает индекс или -1.
func PickCameo(cameos []models.Cameo, rng *rand.Rand) int {
	for i := range cameos {
		if rng.Float64() < probabilityFor(cameos[i].Frequency) {
			cameos[i].Appearances++
			return i
		}
	}
	return -1
}
