package interact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/basecraft/internal/craft"
	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/phase"
	"github.com/annel0/basecraft/internal/vec"
)

type resolverFixture struct {
	grid     *grid.Grid
	entities *entity.Manager
	machine  *entity.Machine
	phases   *phase.Counter
	pipeline *craft.Pipeline
	resolver *Resolver
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	cat := craft.NewCatalog()
	require.NoError(t, cat.Register(&craft.Recipe{
		ID: "foundation_test",
		Requirements: []craft.Requirement{
			{Material: "concrete", Count: 2, Tool: "trowel"},
		},
		Layer: grid.LayerFoundation,
	}))

	g := grid.New(grid.Config{Width: 16, Height: 16, CellSize: 1.0}, nil)
	mngr := entity.NewManager(nil)
	machine := entity.NewMachine(g, nil, nil)
	phases := phase.NewCounter(0)
	pl := craft.NewPipeline(g, cat, mngr, machine, phases, nil, nil)
	machine.SetAcceptor(pl)
	r := NewResolver(DefaultConfig(), g, machine, pl, mngr)

	return &resolverFixture{grid: g, entities: mngr, machine: machine, phases: phases, pipeline: pl, resolver: r}
}

func TestResolver_TargetCell(t *testing.T) {
	f := newResolverFixture(t)

	// Взгляд на север (+Z): точка удержания впереди игрока
	cell := f.resolver.TargetCell(vec.Vec2Float{X: 3.5, Z: 3.5}, 0)
	assert.Equal(t, vec.Vec2{X: 3, Z: 4}, cell)

	// Поворот на 180°: точка удержания позади исходного направления
	cell = f.resolver.TargetCell(vec.Vec2Float{X: 3.5, Z: 3.5}, 180)
	assert.Equal(t, vec.Vec2{X: 3, Z: 2}, cell)
}

func TestResolver_NearestGrabbable_Range(t *testing.T) {
	f := newResolverFixture(t)

	near, err := f.entities.CreateTool("welder", entity.EffectProcess, vec.Vec2Float{X: 1, Z: 1})
	require.NoError(t, err)
	_, err = f.entities.CreateTool("trowel", entity.EffectProcess, vec.Vec2Float{X: 10, Z: 10})
	require.NoError(t, err)

	got, ok := f.resolver.NearestGrabbable(vec.Vec2Float{X: 1.5, Z: 1.5})
	require.True(t, ok)
	assert.Equal(t, near.HandleID(), got.HandleID(), "В радиус попадает только ближний инструмент")

	_, ok = f.resolver.NearestGrabbable(vec.Vec2Float{X: 5, Z: 5})
	assert.False(t, ok, "Вне радиуса целей нет")
}

func TestResolver_NearestGrabbable_TiePriority(t *testing.T) {
	f := newResolverFixture(t)
	cell := vec.Vec2{X: 2, Z: 2}

	// Фундамент и объект в одной ячейке: позиции совпадают
	foundation, err := f.entities.CreateComponent("foundation_concrete", grid.LayerFoundation, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(foundation, "p1"))
	require.NoError(t, f.machine.Place(foundation, cell))
	require.NoError(t, f.machine.Refine(foundation))

	object, err := f.entities.CreateComponent("crate", grid.LayerObject, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(object, "p1"))
	require.NoError(t, f.machine.Place(object, cell))

	// Фундамент укреплен и заблокирован; единственный кандидат — объект.
	// Проверяем и приоритет: поврежденный фундамент тоже доступен,
	// но объект выигрывает ничью по слою.
	require.NoError(t, f.machine.Damage(foundation))

	got, ok := f.resolver.NearestGrabbable(f.grid.WorldOf(cell))
	require.True(t, ok)
	assert.Equal(t, object.HandleID(), got.HandleID(),
		"При равном расстоянии объект приоритетнее фундамента")
}

func TestResolver_Grab_NoTarget(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Grab("p1", vec.Vec2Float{X: 8, Z: 8})
	assert.Error(t, err, "Захват без цели в радиусе отклоняется")
}

func TestResolver_PlacementValidity(t *testing.T) {
	f := newResolverFixture(t)
	cell := vec.Vec2{X: 4, Z: 4}

	// Фундамент на пустую ячейку — валидно
	assert.NoError(t, f.resolver.PlacementValidity(entity.BuildingComponent{Layer: grid.LayerFoundation}, cell))

	// Стена без укрепленного фундамента — нет
	assert.ErrorIs(t, f.resolver.PlacementValidity(entity.BuildingComponent{Layer: grid.LayerWall}, cell),
		grid.ErrMissingDependency)

	// Сырье без нуждающегося чертежа — нет
	assert.Error(t, f.resolver.PlacementValidity(entity.RawMaterial{Material: "concrete"}, cell))

	// Инструмент не размещается
	assert.ErrorIs(t, f.resolver.PlacementValidity(entity.Tool{}, cell), entity.ErrIllegalTransition)

	// Вне границ
	assert.ErrorIs(t, f.resolver.PlacementValidity(entity.BuildingComponent{Layer: grid.LayerFoundation},
		vec.Vec2{X: 100, Z: 100}), grid.ErrOutOfBounds)
}

func TestResolver_UseProcessTool_Order(t *testing.T) {
	f := newResolverFixture(t)
	cell := vec.Vec2{X: 5, Z: 5}

	trowel, err := f.entities.CreateTool("trowel", entity.EffectProcess, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(trowel, "p1"))

	// Размещенный сырой фундамент укрепляется инструментом
	foundation, err := f.entities.CreateComponent("foundation_concrete", grid.LayerFoundation, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(foundation, "p1"))
	require.NoError(t, f.machine.Place(foundation, cell))

	require.NoError(t, f.resolver.UseTool(trowel, cell))
	assert.Equal(t, entity.RefinementRefined, foundation.Refinement(),
		"Без другой цели инструмент укрепляет размещенное")

	// Поврежденная сущность чинится прежде всего
	require.NoError(t, f.machine.Damage(foundation))
	require.NoError(t, f.resolver.UseTool(trowel, cell))
	assert.Equal(t, entity.RefinementRefined, foundation.Refinement(), "Ремонт приоритетен")
}

func TestResolver_UseProcessTool_ProcessesBlueprint(t *testing.T) {
	f := newResolverFixture(t)
	cell := vec.Vec2{X: 6, Z: 6}

	bp, err := f.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		raw, err := f.entities.CreateRawMaterial("concrete", vec.Vec2Float{})
		require.NoError(t, err)
		require.NoError(t, f.machine.Grab(raw, "p1"))
		require.NoError(t, f.machine.Place(raw, cell))
	}

	trowel, err := f.entities.CreateTool("trowel", entity.EffectProcess, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(trowel, "p1"))

	require.NoError(t, f.resolver.UseTool(trowel, cell))
	require.NoError(t, f.resolver.UseTool(trowel, cell))
	assert.True(t, bp.IsCompleted(), "Два прохода инструментом завершают рецепт")
}

func TestResolver_UseWreckTool(t *testing.T) {
	f := newResolverFixture(t)
	cell := vec.Vec2{X: 7, Z: 7}

	foundation, err := f.entities.CreateComponent("foundation_concrete", grid.LayerFoundation, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(foundation, "p1"))
	require.NoError(t, f.machine.Place(foundation, cell))
	require.NoError(t, f.machine.Refine(foundation))

	crowbar, err := f.entities.CreateTool("crowbar", entity.EffectWreck, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(crowbar, "p1"))

	require.NoError(t, f.resolver.UseTool(crowbar, cell))
	assert.Equal(t, entity.RefinementDamaged, foundation.Refinement(),
		"Разрушающий инструмент повреждает укрепленное")

	// Повторное применение к уже поврежденному — тихий no-op
	require.NoError(t, f.resolver.UseTool(crowbar, cell))
	assert.Equal(t, entity.RefinementDamaged, foundation.Refinement())
}
