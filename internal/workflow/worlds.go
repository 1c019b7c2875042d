package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"story-engine/internal/beats"
	"story-engine/internal/models"
)

// WorldLore - мир и темы.
type WorldLore struct {
	Setting string   `json:"setting" yaml:"setting"`
	Themes  []string `json:"themes" yaml:"themes"`
}

// NarrativeStyle - голос повествования.
type NarrativeStyle struct {
	POV  string `json:"pov" yaml:"pov"`
	Tone string `json:"tone" yaml:"tone"`
}

// ArcArchetype - архетип персонажа из шаблона мира.
type ArcArchetype struct {
	Archetype     string `json:"archetype" yaml:"archetype"`
	StartingState string `json:"starting_state" yaml:"starting_state"`
}

// CharacterArcTemplate - заготовки арок персонажей.
type CharacterArcTemplate struct {
	Protagonist  ArcArchetype `json:"protagonist" yaml:"protagonist"`
	LoveInterest ArcArchetype `json:"love_interest" yaml:"love_interest"`
}

// BeatInfo - бит главы из шаблона мира. Номера битов внутри главы начинаются с 1.
type BeatInfo struct {
	Beat              int      `json:"beat" yaml:"beat"`
	Name              string   `json:"name" yaml:"name"`
	Goal              string   `json:"goal" yaml:"goal"`
	EmotionalArc      string   `json:"emotional_arc" yaml:"emotional_arc"`
	Turns             int      `json:"turns" yaml:"turns"`
	SuccessCriteria   string   `json:"success_criteria" yaml:"success_criteria"`
	KeyMoments        []string `json:"key_moments" yaml:"key_moments"`
	DramaticQuestions []string `json:"dramatic_questions" yaml:"dramatic_questions"`
}

// WorldTemplate описывает мир интерактивной истории.
type WorldTemplate struct {
	ID                   string               `json:"id" yaml:"id"`
	Title                string               `json:"title" yaml:"title"`
	WorldLore            WorldLore            `json:"world_lore" yaml:"world_lore"`
	NarrativeStyle       NarrativeStyle       `json:"narrative_style" yaml:"narrative_style"`
	CharacterArc         CharacterArcTemplate `json:"character_arc_template" yaml:"character_arc_template"`
	BeatStructure        []BeatInfo           `json:"beat_structure" yaml:"beat_structure"`
	GenerationGuidelines map[string]any       `json:"generation_guidelines" yaml:"generation_guidelines"`
}

// BeatInfo возвращает бит главы по номеру или обобщённый бит, если мир его не описывает.
func (w *WorldTemplate) BeatInfo(beatInChapter int) BeatInfo {
	for _, b := range w.BeatStructure {
		if b.Beat == beatInChapter {
			return b
		}
	}
	return BeatInfo{
		Beat:         beatInChapter,
		Name:         fmt.Sprintf("Beat %d", beatInChapter),
		Goal:         "Advance the story",
		EmotionalArc: "Continue the journey",
		Turns:        beats.DefaultMaxTurnsPerBeat,
	}
}

// BeatsPerChapter - число битов в главе. Мир без структуры считается одним битом на главу.
func (w *WorldTemplate) BeatsPerChapter() int {
	if len(w.BeatStructure) == 0 {
		return 1
	}
	return len(w.BeatStructure)
}

// POV возвращает точку зрения, по умолчанию третье лицо прошедшего времени.
func (w *WorldTemplate) POV() string {
	if strings.TrimSpace(w.NarrativeStyle.POV) == "" {
		return "third person past tense"
	}
	return w.NarrativeStyle.POV
}

// WorldLoader отдаёт шаблоны миров по идентификатору.
type WorldLoader interface {
	Load(worldID string) (*WorldTemplate, error)
}

// WorldCatalog читает шаблоны миров из каталога и кэширует их.
// Поддерживаются <dir>/<id>.json|.yaml|.yml и <dir>/<id>/world_template.json.
type WorldCatalog struct {
	dir    string
	mu     sync.RWMutex
	cache  map[string]*WorldTemplate
	logger *zap.Logger
}

var _ WorldLoader = (*WorldCatalog)(nil)

// NewWorldCatalog создаёт каталог миров.
func NewWorldCatalog(dir string, logger *zap.Logger) *WorldCatalog {
	return &WorldCatalog{
		dir:    dir,
		cache:  make(map[string]*WorldTemplate),
		logger: logger.Named("WorldCatalog"),
	}
}

// Register добавляет шаблон в кэш без чтения файла.
func (c *WorldCatalog) Register(worldID string, tpl *WorldTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[worldID] = tpl
}

// Load возвращает шаблон мира. Отсутствующий или битый шаблон - ErrConfiguration.
func (c *WorldCatalog) Load(worldID string) (*WorldTemplate, error) {
	if worldID == "" || strings.ContainsAny(worldID, `/\`) || strings.Contains(worldID, "..") {
		return nil, fmt.Errorf("%w: invalid world id %q", models.ErrConfiguration, worldID)
	}

	c.mu.RLock()
	tpl, ok := c.cache[worldID]
	c.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	path, err := c.locate(worldID)
	if err != nil {
		return nil, err
	}

	var loaded WorldTemplate
	if err := cleanenv.ReadConfig(path, &loaded); err != nil {
		c.logger.Error("Failed to read world template", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: read world template %s: %v", models.ErrConfiguration, path, err)
	}
	if loaded.ID == "" {
		loaded.ID = worldID
	}

	c.mu.Lock()
	c.cache[worldID] = &loaded
	c.mu.Unlock()
	c.logger.Info("World template loaded",
		zap.String("world_id", worldID),
		zap.String("path", path),
		zap.Int("beats_per_chapter", loaded.BeatsPerChapter()))
	return &loaded, nil
}

func (c *WorldCatalog) locate(worldID string) (string, error) {
	candidates := []string{
		filepath.Join(c.dir, worldID+".json"),
		filepath.Join(c.dir, worldID+".yaml"),
		filepath.Join(c.dir, worldID+".yml"),
		filepath.Join(c.dir, worldID, "world_template.json"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: stat %s: %v", models.ErrConfiguration, p, err)
		}
	}
	return "", fmt.Errorf("%w: world template %q not found in %s", models.ErrConfiguration, worldID, c.dir)
}
