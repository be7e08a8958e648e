package craft

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/phase"
	"github.com/annel0/basecraft/internal/vec"
	"github.com/google/uuid"
)

// ProgressEvent описывает изменение прогресса чертежа.
// Зеркала и презентация применяют события идемпотентно.
type ProgressEvent struct {
	BlueprintID string
	Processed   map[entity.MaterialType]int
	Completed   bool
	ResultID    string
}

// Notifier получает уведомления о прогрессе крафта
type Notifier interface {
	OnBlueprintProgress(ev ProgressEvent)
}

// NotifierFunc адаптирует функцию к интерфейсу Notifier
type NotifierFunc func(ev ProgressEvent)

// OnBlueprintProgress вызывает саму функцию
func (f NotifierFunc) OnBlueprintProgress(ev ProgressEvent) { f(ev) }

// Pipeline — конвейер крафта: владеет чертежами уровня, принимает
// обработку сырья инструментами и конвертирует завершенные чертежи
// в готовые размещенные сущности.
//
// Реализует entity.MaterialAcceptor: авто-определение слоя для сырья
// (§ размещение сырья коммитится только в нуждающийся чертеж).
type Pipeline struct {
	grid     *grid.Grid
	catalog  *Catalog
	entities *entity.Manager
	machine  *entity.Machine
	phases   phase.Source
	spawner  entity.Spawner
	metrics  *Metrics
	log      *logging.Logger

	mu        sync.RWMutex
	byID      map[string]*Blueprint
	notifiers []Notifier
}

// NewPipeline собирает конвейер крафта. Все коллабораторы передаются
// явно; глобальных синглтонов нет.
func NewPipeline(g *grid.Grid, cat *Catalog, mngr *entity.Manager, machine *entity.Machine,
	phases phase.Source, spawner entity.Spawner, metrics *Metrics) *Pipeline {

	if spawner == nil {
		spawner = entity.NoopSpawner{}
	}
	return &Pipeline{
		grid:     g,
		catalog:  cat,
		entities: mngr,
		machine:  machine,
		phases:   phases,
		spawner:  spawner,
		metrics:  metrics,
		log:      logging.GetCraftLogger(),
		byID:     make(map[string]*Blueprint),
	}
}

// AddNotifier регистрирует получателя событий прогресса
func (pl *Pipeline) AddNotifier(n Notifier) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.notifiers = append(pl.notifiers, n)
}

func (pl *Pipeline) notify(ev ProgressEvent) {
	pl.mu.RLock()
	notifiers := make([]Notifier, len(pl.notifiers))
	copy(notifiers, pl.notifiers)
	pl.mu.RUnlock()

	for _, n := range notifiers {
		n.OnBlueprintProgress(ev)
	}
}

// CreateBlueprint создает чертеж и привязывает его к (ячейка, слой рецепта).
// Спавнит презентационную заготовку со смещением и поворотом рецепта.
func (pl *Pipeline) CreateBlueprint(cell vec.Vec2, recipeID string, required phase.Phase) (*Blueprint, error) {
	recipe, ok := pl.catalog.Get(recipeID)
	if !ok {
		return nil, fmt.Errorf("чертеж на (%d,%d): %w: %s", cell.X, cell.Z, ErrUnknownRecipe, recipeID)
	}

	pos := pl.grid.WorldOf(cell).Add(recipe.Offset.Rotated(recipe.RotationDeg))
	view, err := pl.spawner.Spawn("blueprint_"+recipe.ID, pos, recipe.RotationDeg)
	if err != nil {
		return nil, fmt.Errorf("заготовка чертежа %s: %w", recipe.ID, err)
	}

	bp := &Blueprint{
		id:              uuid.NewString(),
		cell:            cell,
		layer:           recipe.Layer,
		recipe:          recipe,
		requiredPhase:   required,
		processed:       make(map[entity.MaterialType]int),
		placeholderView: view,
		phases:          pl.phases,
		entities:        pl.entities,
	}

	if err := pl.grid.RegisterBlueprint(cell, recipe.Layer, bp); err != nil {
		return nil, err
	}

	pl.mu.Lock()
	pl.byID[bp.id] = bp
	pl.mu.Unlock()

	pl.log.Debug("Чертеж %s (%s) привязан к (%d,%d) слой %s, фаза %d",
		bp.id, recipe.ID, cell.X, cell.Z, recipe.Layer, required)
	return bp, nil
}

// BlueprintByID возвращает чертеж по идентификатору
func (pl *Pipeline) BlueprintByID(id string) (*Blueprint, bool) {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	bp, ok := pl.byID[id]
	return bp, ok
}

// ForEachBlueprint обходит все чертежи уровня
func (pl *Pipeline) ForEachBlueprint(fn func(bp *Blueprint)) {
	pl.mu.RLock()
	snapshot := make([]*Blueprint, 0, len(pl.byID))
	for _, bp := range pl.byID {
		snapshot = append(snapshot, bp)
	}
	pl.mu.RUnlock()

	for _, bp := range snapshot {
		fn(bp)
	}
}

// ActiveBlueprintAt возвращает активный в текущей фазе чертеж ячейки
func (pl *Pipeline) ActiveBlueprintAt(cell vec.Vec2) (*Blueprint, bool) {
	anchor, ok := pl.grid.ActiveBlueprintAt(cell)
	if !ok {
		return nil, false
	}
	bp, ok := anchor.(*Blueprint)
	return bp, ok
}

// AcceptRawMaterial реализует entity.MaterialAcceptor: сырье коммитится
// в ячейку только если активный чертеж там все еще нуждается в этом
// типе материала. Целевой слой берется из рецепта.
func (pl *Pipeline) AcceptRawMaterial(cell vec.Vec2, mat entity.MaterialType) (grid.Layer, error) {
	// Перебираем чертежи всех слоев ячейки в порядке приоритета;
	// причину отказа запоминаем наиболее специфичную.
	cause := ErrRecipeMismatch
	for _, layer := range grid.InteractionPriority {
		anchor, ok := pl.grid.BlueprintAt(cell, layer)
		if !ok {
			continue
		}
		bp, ok := anchor.(*Blueprint)
		if !ok {
			continue
		}
		if _, needs := bp.recipe.RequirementFor(mat); !needs {
			continue
		}
		if !bp.IsActiveInCurrentPhase() {
			if errors.Is(cause, ErrRecipeMismatch) {
				cause = ErrPhaseInactive
			}
			continue
		}
		if bp.Outstanding(mat) == 0 {
			cause = ErrQuotaSatisfied
			continue
		}
		return bp.recipe.Layer, nil
	}

	pl.metrics.rejection("material_not_accepted")
	return 0, fmt.Errorf("сырье %s на (%d,%d): %w", mat, cell.X, cell.Z, cause)
}

// ProcessAt перерабатывает одну единицу сырья инструментом в ячейке:
// находит активный чертеж, невыполненное требование под этот инструмент
// и соответствующее сырье в стопке. Потребленное сырье деспавнится.
// Завершивший рецепт вызов конвертирует чертеж на месте.
func (pl *Pipeline) ProcessAt(cell vec.Vec2, tool entity.ToolType) error {
	bp, ok := pl.ActiveBlueprintAt(cell)
	if !ok {
		pl.metrics.rejection("no_active_blueprint")
		return fmt.Errorf("обработка на (%d,%d): %w", cell.X, cell.Z, ErrPhaseInactive)
	}
	if !bp.AcceptsTool(tool) {
		pl.metrics.rejection("tool_mismatch")
		return fmt.Errorf("инструмент %s на (%d,%d): %w", tool, cell.X, cell.Z, ErrRecipeMismatch)
	}

	for _, req := range bp.recipe.Requirements {
		if req.Tool != tool || bp.Outstanding(req.Material) == 0 {
			continue
		}

		raw, found := pl.findRawMaterial(cell, bp.recipe.Layer, req.Material)
		if !found {
			continue
		}

		justCompleted, err := bp.ProcessMaterial(tool, req.Material)
		if err != nil {
			pl.metrics.rejection("process_rejected")
			return err
		}

		// Потребленное сырье снимается со стопки и уничтожается
		pl.grid.UnregisterRawMaterial(cell, bp.recipe.Layer, raw)
		if err := pl.entities.Despawn(raw.HandleID()); err != nil {
			pl.log.Warn("Деспавн потребленного сырья %s: %v", raw.HandleID(), err)
		}

		pl.metrics.materialProcessed()
		pl.log.Debug("Чертеж %s: переработана единица %s (%s)", bp.id, req.Material, tool)

		if justCompleted {
			pl.convert(bp)
		} else {
			pl.notify(ProgressEvent{
				BlueprintID: bp.id,
				Processed:   bp.ProcessedCounts(),
				Completed:   false,
			})
		}
		return nil
	}

	pl.metrics.rejection("no_matching_material")
	return fmt.Errorf("инструмент %s на (%d,%d): нет подходящего сырья: %w", tool, cell.X, cell.Z, ErrRecipeMismatch)
}

// findRawMaterial ищет в стопке сырье нужного типа
func (pl *Pipeline) findRawMaterial(cell vec.Vec2, layer grid.Layer, mat entity.MaterialType) (*entity.Placeable, bool) {
	for _, occ := range pl.grid.RawStack(cell, layer) {
		p, ok := pl.entities.Get(occ.HandleID())
		if !ok {
			continue
		}
		if m, isRaw := p.MaterialTypeOf(); isRaw && m == mat {
			return p, true
		}
	}
	return nil, false
}

// convert превращает завершенный чертеж в готовую размещенную сущность.
// Дубликат не спавнится: заготовка принимается как презентация результата,
// смещение и поворот рецепта сохраняются.
func (pl *Pipeline) convert(bp *Blueprint) {
	recipe := bp.recipe
	pos := pl.grid.WorldOf(bp.cell).Add(recipe.Offset.Rotated(recipe.RotationDeg))

	result := pl.entities.AdoptResult(recipe.Layer, pos, bp.placeholderView)
	if err := pl.machine.ForcePlaceRefined(result, bp.cell, bp.layer, pos); err != nil {
		pl.log.Error("❌ Конверсия чертежа %s не удалась: %v", bp.id, err)
		return
	}
	bp.setResult(result.HandleID())

	pl.metrics.blueprintCompleted()
	pl.log.Info("🏗️  Чертеж %s (%s) завершен: %s на (%d,%d) слой %s",
		bp.id, recipe.ID, result.HandleID(), bp.cell.X, bp.cell.Z, bp.layer)

	pl.notify(ProgressEvent{
		BlueprintID: bp.id,
		Processed:   bp.ProcessedCounts(),
		Completed:   true,
		ResultID:    result.HandleID(),
	})
}

// RestoreProgress восстанавливает прогресс чертежа из снимка хранилища.
// Чертеж ищется по ячейке и рецепту: идентификаторы чертежей генерируются
// заново при каждом запуске, поэтому по ID искать нельзя.
func (pl *Pipeline) RestoreProgress(cell vec.Vec2, recipeID string, processed map[string]int, completed bool) error {
	recipe, ok := pl.catalog.Get(recipeID)
	if !ok {
		return fmt.Errorf("восстановление на (%d,%d): %w: %s", cell.X, cell.Z, ErrUnknownRecipe, recipeID)
	}

	anchor, ok := pl.grid.BlueprintAt(cell, recipe.Layer)
	if !ok {
		return fmt.Errorf("восстановление на (%d,%d): чертеж не найден", cell.X, cell.Z)
	}
	bp, ok := anchor.(*Blueprint)
	if !ok || bp.recipe.ID != recipeID {
		return fmt.Errorf("восстановление на (%d,%d): %w", cell.X, cell.Z, ErrRecipeMismatch)
	}

	counts := make(map[entity.MaterialType]int, len(processed))
	for mat, n := range processed {
		counts[entity.MaterialType(mat)] = n
	}
	bp.restore(counts, completed)

	if completed {
		pl.convert(bp)
	}
	return nil
}

// === Загрузка размещений уровня ===

// placementJSON — формат одной записи файла размещений
type placementJSON struct {
	Cell struct {
		X int `json:"x"`
		Z int `json:"z"`
	} `json:"cell"`
	Recipe string `json:"recipe"`
	Phase  int    `json:"phase"`
}

// LoadPlacements читает статические размещения чертежей уровня.
// Вызывается один раз при старте; ошибки формата фатальны.
func (pl *Pipeline) LoadPlacements(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("чтение размещений уровня: %w", err)
	}

	var raw []placementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("разбор размещений уровня: %w", err)
	}

	for _, pj := range raw {
		cell := vec.Vec2{X: pj.Cell.X, Z: pj.Cell.Z}
		if _, err := pl.CreateBlueprint(cell, pj.Recipe, phase.Phase(pj.Phase)); err != nil {
			return err
		}
	}

	pl.log.Info("🗺️  Размещения уровня загружены: %d чертежей из %s", len(raw), path)
	return nil
}
