package craft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/phase"
	"github.com/annel0/basecraft/internal/vec"
)

type testWorld struct {
	grid     *grid.Grid
	entities *entity.Manager
	machine  *entity.Machine
	phases   *phase.Counter
	pipeline *Pipeline
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()

	cat := NewCatalog()
	require.NoError(t, cat.Register(&Recipe{
		ID: "foundation_test",
		Requirements: []Requirement{
			{Material: "concrete", Count: 3, Tool: "trowel"},
		},
		Layer: grid.LayerFoundation,
	}))
	require.NoError(t, cat.Register(&Recipe{
		ID: "wall_test",
		Requirements: []Requirement{
			{Material: "steel", Count: 2, Tool: "welder"},
		},
		Layer: grid.LayerWall,
	}))
	require.NoError(t, cat.Register(&Recipe{
		ID: "turret_test",
		Requirements: []Requirement{
			{Material: "steel", Count: 1, Tool: "welder"},
			{Material: "circuits", Count: 1, Tool: "screwdriver"},
		},
		Layer: grid.LayerObject,
	}))

	g := grid.New(grid.Config{Width: 8, Height: 8, CellSize: 1.0}, nil)
	mngr := entity.NewManager(nil)
	machine := entity.NewMachine(g, nil, nil)
	phases := phase.NewCounter(0)
	pl := NewPipeline(g, cat, mngr, machine, phases, nil, nil)
	machine.SetAcceptor(pl)

	return &testWorld{grid: g, entities: mngr, machine: machine, phases: phases, pipeline: pl}
}

// placeRaw создает сырье и проносит его через руки в ячейку
func (w *testWorld) placeRaw(t *testing.T, mat entity.MaterialType, cell vec.Vec2) *entity.Placeable {
	t.Helper()
	p, err := w.entities.CreateRawMaterial(mat, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, w.machine.Grab(p, "player1"))
	require.NoError(t, w.machine.Place(p, cell))
	return p
}

func TestPipeline_FullCraftCycle(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 2, Z: 2}

	bp, err := w.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)

	var events []ProgressEvent
	w.pipeline.AddNotifier(NotifierFunc(func(ev ProgressEvent) {
		events = append(events, ev)
	}))

	// Сырье уходит в слой рецепта через авто-определение
	for i := 0; i < 3; i++ {
		w.placeRaw(t, "concrete", cell)
	}
	require.Len(t, w.grid.RawStack(cell, grid.LayerFoundation), 3)

	// Переработка: три прохода инструментом завершают рецепт
	require.NoError(t, w.pipeline.ProcessAt(cell, "trowel"))
	require.NoError(t, w.pipeline.ProcessAt(cell, "trowel"))
	require.NoError(t, w.pipeline.ProcessAt(cell, "trowel"))

	assert.True(t, bp.IsCompleted())
	require.NotEmpty(t, bp.ResultID(), "Конверсия фиксирует хендл результата")

	// Результат размещен укрепленным на слое рецепта
	occ, ok := w.grid.OccupantAt(cell, grid.LayerFoundation)
	require.True(t, ok)
	assert.Equal(t, bp.ResultID(), occ.HandleID())
	assert.True(t, occ.IsRefined())

	// Потребленное сырье уничтожено
	assert.Empty(t, w.grid.RawStack(cell, grid.LayerFoundation))
	assert.Equal(t, 1, w.entities.Count(), "Из сущностей остается только результат")

	// События прогресса: два промежуточных и одно завершающее
	require.Len(t, events, 3)
	assert.False(t, events[0].Completed)
	assert.False(t, events[1].Completed)
	assert.True(t, events[2].Completed)
	assert.Equal(t, bp.ResultID(), events[2].ResultID)

	// Завершенный чертеж сырье больше не принимает
	extra, err := w.entities.CreateRawMaterial("concrete", vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, w.machine.Grab(extra, "player1"))
	assert.ErrorIs(t, w.machine.Place(extra, cell), ErrPhaseInactive)
}

func TestPipeline_AcceptRawMaterial_QuotaPerRequirement(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 6, Z: 6}

	_, err := w.pipeline.CreateBlueprint(cell, "turret_test", 0)
	require.NoError(t, err)

	w.placeRaw(t, "steel", cell)
	require.NoError(t, w.pipeline.ProcessAt(cell, "welder"))

	// Квота по стали выполнена, но рецепт не завершен: сталь отклоняется,
	// схемы все еще принимаются.
	_, err = w.pipeline.AcceptRawMaterial(cell, "steel")
	assert.ErrorIs(t, err, ErrQuotaSatisfied, "Выполненное требование сырье не принимает")

	layer, err := w.pipeline.AcceptRawMaterial(cell, "circuits")
	require.NoError(t, err)
	assert.Equal(t, grid.LayerObject, layer)
}

func TestPipeline_ProcessAt_Rejections(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 3, Z: 3}

	// Без чертежа обработка невозможна
	assert.ErrorIs(t, w.pipeline.ProcessAt(cell, "trowel"), ErrPhaseInactive)

	_, err := w.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)

	// Инструмент вне рецепта
	assert.ErrorIs(t, w.pipeline.ProcessAt(cell, "welder"), ErrRecipeMismatch)

	// Инструмент рецепта, но сырья в стопке нет
	assert.ErrorIs(t, w.pipeline.ProcessAt(cell, "trowel"), ErrRecipeMismatch,
		"Без подходящего сырья обработка отклоняется")
}

func TestPipeline_AcceptRawMaterial_Strict(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 4, Z: 4}

	// Без чертежа сырье не принимается нигде
	_, err := w.pipeline.AcceptRawMaterial(cell, "concrete")
	assert.ErrorIs(t, err, ErrRecipeMismatch)

	_, err = w.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)

	// Материал вне рецепта
	_, err = w.pipeline.AcceptRawMaterial(cell, "timber")
	assert.ErrorIs(t, err, ErrRecipeMismatch)

	// Материал рецепта — в слой рецепта
	layer, err := w.pipeline.AcceptRawMaterial(cell, "concrete")
	require.NoError(t, err)
	assert.Equal(t, grid.LayerFoundation, layer)
}

func TestPipeline_AcceptRawMaterial_PhaseGated(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 5, Z: 5}

	_, err := w.pipeline.CreateBlueprint(cell, "foundation_test", 1)
	require.NoError(t, err)

	_, err = w.pipeline.AcceptRawMaterial(cell, "concrete")
	assert.ErrorIs(t, err, ErrPhaseInactive, "Чертеж будущей фазы сырье не принимает")

	w.phases.Advance()
	_, err = w.pipeline.AcceptRawMaterial(cell, "concrete")
	assert.NoError(t, err)
}

func TestPipeline_AcceptRawMaterial_LayerPriority(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 2, Z: 5}

	_, err := w.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)
	_, err = w.pipeline.CreateBlueprint(cell, "wall_test", 0)
	require.NoError(t, err)

	// Каждый материал находит свой чертеж независимо от приоритета слоев
	layer, err := w.pipeline.AcceptRawMaterial(cell, "steel")
	require.NoError(t, err)
	assert.Equal(t, grid.LayerWall, layer)

	layer, err = w.pipeline.AcceptRawMaterial(cell, "concrete")
	require.NoError(t, err)
	assert.Equal(t, grid.LayerFoundation, layer)
}

func TestPipeline_CreateBlueprint_Errors(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 1, Z: 1}

	_, err := w.pipeline.CreateBlueprint(cell, "no_such_recipe", 0)
	assert.ErrorIs(t, err, ErrUnknownRecipe)

	_, err = w.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)

	// Второй чертеж на той же паре (ячейка, слой) невозможен
	_, err = w.pipeline.CreateBlueprint(cell, "foundation_test", 1)
	assert.ErrorIs(t, err, grid.ErrBlueprintExists)
}

func TestPipeline_RestoreProgress(t *testing.T) {
	w := newTestWorld(t)
	cell := vec.Vec2{X: 6, Z: 2}

	bp, err := w.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)

	// Частичный прогресс
	require.NoError(t, w.pipeline.RestoreProgress(cell, "foundation_test",
		map[string]int{"concrete": 2}, false))
	assert.Equal(t, 1, bp.Outstanding("concrete"))
	assert.False(t, bp.IsCompleted())

	// Завершенный чертеж конвертируется при восстановлении
	require.NoError(t, w.pipeline.RestoreProgress(cell, "foundation_test",
		map[string]int{"concrete": 3}, true))
	assert.True(t, bp.IsCompleted())
	assert.NotEmpty(t, bp.ResultID())

	occ, ok := w.grid.OccupantAt(cell, grid.LayerFoundation)
	require.True(t, ok)
	assert.True(t, occ.IsRefined())

	// Неизвестный рецепт и пустая ячейка
	err = w.pipeline.RestoreProgress(cell, "no_such_recipe", nil, false)
	assert.ErrorIs(t, err, ErrUnknownRecipe)
	err = w.pipeline.RestoreProgress(vec.Vec2{X: 7, Z: 7}, "foundation_test", nil, false)
	assert.Error(t, err, "Восстановление без размещенного чертежа невозможно")
}
