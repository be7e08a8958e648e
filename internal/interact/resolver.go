package interact

import (
	"fmt"

	"github.com/annel0/basecraft/internal/craft"
	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/vec"
)

// Config — настройки разрешения взаимодействий
type Config struct {
	// GrabRange — радиус захвата в мировых единицах.
	GrabRange float64 `yaml:"grab_range"`

	// TieTolerance — допуск расстояния, в пределах которого кандидаты
	// считаются равноудаленными и сравниваются по приоритету слоя.
	TieTolerance float64 `yaml:"tie_tolerance"`

	// HoldPointOffset — фиксированное смещение точки удержания перед
	// игроком. Целевая ячейка выводится из нее, а не из сырого
	// направления взгляда, чтобы не промахиваться на границе ячеек.
	HoldPointOffset float64 `yaml:"hold_point_offset"`
}

// DefaultConfig возвращает настройки взаимодействий по умолчанию
func DefaultConfig() Config {
	return Config{GrabRange: 2.5, TieTolerance: 0.05, HoldPointOffset: 1.2}
}

// Resolver решает, к какой сущности относится действие игрока:
// захват ближайшего доступного, проверка валидности размещения,
// выбор цели инструмента. Неоднозначность между слоями разрешается
// единым порядком grid.InteractionPriority.
type Resolver struct {
	cfg      Config
	grid     *grid.Grid
	machine  *entity.Machine
	pipeline *craft.Pipeline
	entities *entity.Manager
	log      *logging.Logger
}

// NewResolver собирает обработчик взаимодействий.
// Все коллабораторы передаются явно при конструировании.
func NewResolver(cfg Config, g *grid.Grid, m *entity.Machine, pl *craft.Pipeline, mngr *entity.Manager) *Resolver {
	if cfg.GrabRange <= 0 {
		cfg = DefaultConfig()
	}
	return &Resolver{
		cfg:      cfg,
		grid:     g,
		machine:  m,
		pipeline: pl,
		entities: mngr,
		log:      logging.GetInteractLogger(),
	}
}

// TargetCell выводит целевую ячейку из позиции игрока и его поворота:
// точка удержания на фиксированном расстоянии перед игроком.
func (r *Resolver) TargetCell(pos vec.Vec2Float, yawDeg float64) vec.Vec2 {
	forward := vec.Vec2Float{X: 0, Z: 1}.Rotated(yawDeg)
	holdPoint := pos.Add(forward.Mul(r.cfg.HoldPointOffset))
	return r.grid.CellOf(holdPoint)
}

// layerRank возвращает ранг слоя для разрешения ничьих:
// меньше — приоритетнее. Неразмещенные сущности ранжируются ниже всех.
func layerRank(p *entity.Placeable) int {
	_, layer, placed := p.Cell()
	if !placed {
		return len(grid.InteractionPriority)
	}
	for i, l := range grid.InteractionPriority {
		if l == layer {
			return i
		}
	}
	return len(grid.InteractionPriority)
}

// NearestGrabbable находит ближайшую доступную для захвата сущность
// в радиусе. Равноудаленные кандидаты сравниваются по приоритету слоя.
func (r *Resolver) NearestGrabbable(pos vec.Vec2Float) (*entity.Placeable, bool) {
	var best *entity.Placeable
	bestDist := r.cfg.GrabRange
	bestRank := len(grid.InteractionPriority) + 1

	r.entities.ForEach(func(p *entity.Placeable) {
		if !p.CanBeGrabbed() {
			return
		}
		dist := p.Position().DistanceTo(pos)
		if dist > r.cfg.GrabRange {
			return
		}

		rank := layerRank(p)
		switch {
		case best == nil:
		case dist < bestDist-r.cfg.TieTolerance:
			// строго ближе
		case dist <= bestDist+r.cfg.TieTolerance && rank < bestRank:
			// равноудален, но приоритетнее по слою
		default:
			return
		}
		best, bestDist, bestRank = p, dist, rank
	})

	return best, best != nil
}

// Grab захватывает ближайшую доступную сущность для держателя
func (r *Resolver) Grab(holder entity.HolderID, pos vec.Vec2Float) (*entity.Placeable, error) {
	target, ok := r.NearestGrabbable(pos)
	if !ok {
		return nil, fmt.Errorf("захват: нет доступной цели в радиусе %.1f", r.cfg.GrabRange)
	}
	if err := r.machine.Grab(target, holder); err != nil {
		return nil, err
	}
	return target, nil
}

// PlacementValidity — побочный сигнал валидности размещения для
// презентации (подсветка ячейки). Без побочных эффектов.
func (r *Resolver) PlacementValidity(item entity.HeldItem, cell vec.Vec2) error {
	switch it := item.(type) {
	case entity.BuildingComponent:
		if err := r.grid.CanPlace(cell, it.Layer); err != nil {
			return err
		}
		if it.Layer.RequiresFoundation() && !r.grid.DependencyHolds(cell, it.Layer) {
			return grid.ErrMissingDependency
		}
		return nil
	case entity.RawMaterial:
		_, err := r.pipeline.AcceptRawMaterial(cell, it.Material)
		return err
	default:
		return entity.ErrIllegalTransition
	}
}

// Place размещает удерживаемую сущность в целевой ячейке
func (r *Resolver) Place(p *entity.Placeable, cell vec.Vec2) error {
	return r.machine.Place(p, cell)
}

// Drop выпускает удерживаемую сущность
func (r *Resolver) Drop(p *entity.Placeable) error {
	return r.machine.Drop(p)
}

// UseTool применяет удерживаемый инструмент к целевой ячейке.
// Цель выбирается по приоритету: поврежденная сущность для ремонта,
// затем сырье под активный чертеж, затем размещенная сущность в порядке
// приоритета слоев. Отсутствие цели — тихий no-op.
func (r *Resolver) UseTool(p *entity.Placeable, cell vec.Vec2) error {
	tool, ok := p.Item().(entity.Tool)
	if !ok {
		return fmt.Errorf("использование %s: %w", p.HandleID(), entity.ErrIllegalTransition)
	}

	switch tool.Effect {
	case entity.EffectProcess:
		return r.useProcessTool(tool, cell)
	case entity.EffectWreck:
		return r.useWreckTool(cell)
	default:
		return nil
	}
}

// useProcessTool: ремонт поврежденного прежде всего, затем переработка
// сырья, затем укрепление размещенной необработанной сущности.
func (r *Resolver) useProcessTool(tool entity.Tool, cell vec.Vec2) error {
	// 1. Ремонт приоритетнее начала нового рецепта в той же ячейке
	for _, layer := range grid.InteractionPriority {
		occ, ok := r.grid.OccupantAt(cell, layer)
		if !ok {
			continue
		}
		p, ok := r.entities.Get(occ.HandleID())
		if !ok || p.Refinement() != entity.RefinementDamaged {
			continue
		}
		r.log.Debug("Инструмент %s: ремонт %s на (%d,%d)", tool.Type, p.HandleID(), cell.X, cell.Z)
		return r.machine.Repair(p)
	}

	// 2. Переработка сырья под активный чертеж
	if err := r.pipeline.ProcessAt(cell, tool.Type); err == nil {
		return nil
	}

	// 3. Укрепление размещенной необработанной сущности
	for _, layer := range grid.InteractionPriority {
		occ, ok := r.grid.OccupantAt(cell, layer)
		if !ok {
			continue
		}
		p, ok := r.entities.Get(occ.HandleID())
		if !ok || p.Refinement() != entity.RefinementRaw {
			continue
		}
		r.log.Debug("Инструмент %s: укрепление %s на (%d,%d)", tool.Type, p.HandleID(), cell.X, cell.Z)
		return r.machine.Refine(p)
	}

	// Нет цели — тихий no-op
	return nil
}

// useWreckTool повреждает укрепленную сущность, разблокируя ее для захвата
func (r *Resolver) useWreckTool(cell vec.Vec2) error {
	for _, layer := range grid.InteractionPriority {
		occ, ok := r.grid.OccupantAt(cell, layer)
		if !ok {
			continue
		}
		p, ok := r.entities.Get(occ.HandleID())
		if !ok || p.Refinement() != entity.RefinementRefined {
			continue
		}
		return r.machine.Damage(p)
	}
	return nil
}
