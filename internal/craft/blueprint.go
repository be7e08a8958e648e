package craft

import (
	"fmt"
	"sync"

	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/phase"
	"github.com/annel0/basecraft/internal/vec"
)

// Blueprint — привязанный к (ячейка, слой) трекер прогресса рецепта.
// Создается при загрузке уровня и никогда не уничтожается; единственный
// односторонний переход — incomplete → completed.
type Blueprint struct {
	mu sync.RWMutex

	id            string
	cell          vec.Vec2
	layer         grid.Layer
	recipe        *Recipe
	requiredPhase phase.Phase

	processed map[entity.MaterialType]int
	completed bool

	// Хендл результата после конверсии; пуст, пока чертеж не завершен
	resultID string

	// Хендл презентационной заготовки, конвертируемой на месте
	placeholderView string

	phases   phase.Source
	entities *entity.Manager
}

// BlueprintID реализует grid.BlueprintAnchor
func (b *Blueprint) BlueprintID() string {
	return b.id
}

// Cell возвращает ячейку и слой привязки
func (b *Blueprint) Cell() (vec.Vec2, grid.Layer) {
	return b.cell, b.layer
}

// Recipe возвращает рецепт чертежа
func (b *Blueprint) Recipe() *Recipe {
	return b.recipe
}

// RequiredPhase возвращает фазу, в которой чертеж принимает обработку
func (b *Blueprint) RequiredPhase() phase.Phase {
	return b.requiredPhase
}

// IsCompleted возвращает true, если рецепт выполнен
func (b *Blueprint) IsCompleted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.completed
}

// ResultID возвращает хендл результата конверсии (пустой до завершения)
func (b *Blueprint) ResultID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resultID
}

// resultDamaged возвращает true, если результат конверсии поврежден
func (b *Blueprint) resultDamaged() bool {
	b.mu.RLock()
	resultID := b.resultID
	b.mu.RUnlock()

	if resultID == "" {
		return false
	}
	result, ok := b.entities.Get(resultID)
	return ok && result.Refinement() == entity.RefinementDamaged
}

// IsActiveInCurrentPhase реализует grid.BlueprintAnchor.
// Чертеж активен в своей фазе, пока не завершен; в более поздних фазах
// он становится ремонтной станцией собственного результата.
func (b *Blueprint) IsActiveInCurrentPhase() bool {
	current := b.phases.Current()

	b.mu.RLock()
	completed := b.completed
	b.mu.RUnlock()

	if current == b.requiredPhase && !completed {
		return true
	}
	if current > b.requiredPhase && completed && b.resultDamaged() {
		return true
	}
	return false
}

// AcceptsTool возвращает true, если рецепт имеет требование,
// ключуемое этим типом инструмента.
func (b *Blueprint) AcceptsTool(tool entity.ToolType) bool {
	return b.recipe.AcceptsTool(tool)
}

// Outstanding возвращает, сколько единиц материала еще нужно переработать
func (b *Blueprint) Outstanding(mat entity.MaterialType) int {
	req, ok := b.recipe.RequirementFor(mat)
	if !ok {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.completed {
		return 0
	}
	remaining := req.Count - b.processed[mat]
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProcessedCounts возвращает копию счетчиков прогресса
func (b *Blueprint) ProcessedCounts() map[entity.MaterialType]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[entity.MaterialType]int, len(b.processed))
	for m, n := range b.processed {
		out[m] = n
	}
	return out
}

// ProcessMaterial учитывает одну переработанную единицу материала.
// Отклоняет, если чертеж завершен, не активен в текущей фазе, пара
// инструмент/материал не соответствует рецепту или квота уже выполнена.
// Возвращает true, если этот вызов завершил рецепт.
func (b *Blueprint) ProcessMaterial(tool entity.ToolType, mat entity.MaterialType) (bool, error) {
	if !b.IsActiveInCurrentPhase() {
		b.mu.RLock()
		completed := b.completed
		b.mu.RUnlock()
		if completed {
			return false, fmt.Errorf("чертеж %s: %w", b.id, ErrAlreadyCompleted)
		}
		return false, fmt.Errorf("чертеж %s: %w", b.id, ErrPhaseInactive)
	}

	req, ok := b.recipe.RequirementFor(mat)
	if !ok || req.Tool != tool {
		return false, fmt.Errorf("чертеж %s (%s/%s): %w", b.id, tool, mat, ErrRecipeMismatch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completed {
		return false, fmt.Errorf("чертеж %s: %w", b.id, ErrAlreadyCompleted)
	}
	if b.processed[mat] >= req.Count {
		return false, fmt.Errorf("чертеж %s (%s): %w", b.id, mat, ErrQuotaSatisfied)
	}

	b.processed[mat]++
	if b.recipe.Satisfied(b.processed) {
		b.completed = true
		return true, nil
	}
	return false, nil
}

// restore замещает счетчики прогресса состоянием из снимка
func (b *Blueprint) restore(processed map[entity.MaterialType]int, completed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processed = processed
	b.completed = completed
}

// setResult фиксирует хендл результата конверсии
func (b *Blueprint) setResult(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resultID = id
}
