package entity

import (
	"fmt"

	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/vec"
)

// MaterialAcceptor определяет место назначения размещаемого сырья.
// Реализуется конвейером крафта: сырье коммитится в ячейку только если
// активный чертеж там все еще нуждается в этом типе материала.
type MaterialAcceptor interface {
	// AcceptRawMaterial возвращает целевой слой рецепта, если активный
	// чертеж в ячейке имеет невыполненное требование по материалу.
	// Иначе возвращает причину отказа.
	AcceptRawMaterial(cell vec.Vec2, mat MaterialType) (grid.Layer, error)
}

// Physics — внешний физический коллаборатор. Ядро физику не считает,
// оно лишь сообщает о смене режима движения и коллизий.
type Physics interface {
	SetKinematic(viewHandle string, kinematic bool)
	SetCollision(viewHandle string, enabled bool)
}

// NoopPhysics — заглушка физики для тестов и headless-запуска
type NoopPhysics struct{}

// SetKinematic ничего не делает
func (NoopPhysics) SetKinematic(string, bool) {}

// SetCollision ничего не делает
func (NoopPhysics) SetCollision(string, bool) {}

// ChangeEvent описывает один успешный переход автомата состояний.
// Зеркала применяют эти события детерминированно и идемпотентно.
type ChangeEvent struct {
	EntityID   string
	Transition string
	Lifecycle  LifecycleState
	Refinement RefinementState
	Holder     HolderID
	Cell       vec.Vec2
	Layer      grid.Layer
}

// Notifier получает уведомления о переходах состояния сущностей
type Notifier interface {
	OnEntityChanged(ev ChangeEvent)
}

// NotifierFunc адаптирует функцию к интерфейсу Notifier
type NotifierFunc func(ev ChangeEvent)

// OnEntityChanged вызывает саму функцию
func (f NotifierFunc) OnEntityChanged(ev ChangeEvent) { f(ev) }

// Machine выполняет переходы жизненного цикла размещаемых сущностей:
// Free/Held/Placed и укрепление Raw/Refined/Damaged.
//
// Все мутации идут через единственную авторитетную горутину (пакет
// interact), поэтому проверка условия и коммит перехода атомарны:
// запрос, пришедший между ними, не увидит устаревшее состояние.
type Machine struct {
	grid      *grid.Grid
	acceptor  MaterialAcceptor
	physics   Physics
	metrics   *Metrics
	notifiers []Notifier
	log       *logging.Logger
}

// NewMachine создает автомат состояний поверх реестра сетки.
// acceptor может быть nil до привязки конвейера крафта (SetAcceptor).
func NewMachine(g *grid.Grid, physics Physics, metrics *Metrics) *Machine {
	if physics == nil {
		physics = NoopPhysics{}
	}
	return &Machine{
		grid:    g,
		physics: physics,
		metrics: metrics,
		log:     logging.GetComponentLogger("entity"),
	}
}

// SetAcceptor привязывает конвейер крафта. Вызывается один раз при сборке.
func (m *Machine) SetAcceptor(a MaterialAcceptor) {
	m.acceptor = a
}

// AddNotifier регистрирует получателя событий переходов
func (m *Machine) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Machine) notify(ev ChangeEvent) {
	for _, n := range m.notifiers {
		n.OnEntityChanged(ev)
	}
}

// reject учитывает отклоненный переход и возвращает ошибку.
// Отклонение тихое: никакой паники, только метрика и debug-лог.
func (m *Machine) reject(p *Placeable, transition, reason string, err error) error {
	m.metrics.rejection(transition, reason)
	m.log.Debug("Переход %s отклонен для %s: %s", transition, p.id, reason)
	return err
}

// Grab переводит сущность в руки держателя.
// Разрешено, если сущность не в чьих-то руках и не заблокирована
// укреплением. Захват размещенной сущности снимает ее с реестра.
func (m *Machine) Grab(p *Placeable, holder HolderID) error {
	p.mu.Lock()
	if p.lifecycle == StateHeld {
		p.mu.Unlock()
		return m.reject(p, "grab", "already_held", fmt.Errorf("grab %s: %w", p.id, ErrIllegalTransition))
	}
	if locked := p.lifecycle == StatePlaced && p.refinement == RefinementRefined; locked {
		if _, isTool := p.item.(Tool); !isTool {
			if _, isRaw := p.item.(RawMaterial); !isRaw {
				p.mu.Unlock()
				return m.reject(p, "grab", "refinement_locked", fmt.Errorf("grab %s: %w", p.id, ErrIllegalTransition))
			}
		}
	}

	wasPlaced := p.lifecycle == StatePlaced
	cell, layer := p.cell, p.layer
	p.lifecycle = StateHeld
	p.holder = holder
	view := p.viewHandle
	p.mu.Unlock()

	if wasPlaced {
		if _, isRaw := p.item.(RawMaterial); isRaw {
			m.grid.UnregisterRawMaterial(cell, layer, p)
		} else {
			m.grid.Unregister(cell, layer)
		}
	}

	// Несомый предмет ведется держателем: кинематика без коллизий
	m.physics.SetKinematic(view, true)
	m.physics.SetCollision(view, false)

	m.metrics.transition("grab")
	m.notify(ChangeEvent{
		EntityID: p.id, Transition: "grab",
		Lifecycle: StateHeld, Refinement: p.Refinement(), Holder: holder,
	})
	return nil
}

// Drop выпускает сущность из рук. Записи в реестре не создается.
func (m *Machine) Drop(p *Placeable) error {
	p.mu.Lock()
	if p.lifecycle != StateHeld {
		p.mu.Unlock()
		return m.reject(p, "drop", "not_held", fmt.Errorf("drop %s: %w", p.id, ErrIllegalTransition))
	}
	p.lifecycle = StateFree
	p.holder = ""
	view := p.viewHandle
	p.mu.Unlock()

	// Свободный предмет отдается динамике
	m.physics.SetKinematic(view, false)
	m.physics.SetCollision(view, true)

	m.metrics.transition("drop")
	m.notify(ChangeEvent{
		EntityID: p.id, Transition: "drop",
		Lifecycle: StateFree, Refinement: p.Refinement(),
	})
	return nil
}

// Place размещает удерживаемую сущность в ячейке.
// Для компонентов слой фиксирован при создании; для сырья определяется
// активным чертежом в ячейке. Инструменты не размещаются.
// При любом отказе сущность остается в руках.
func (m *Machine) Place(p *Placeable, cell vec.Vec2) error {
	if p.Lifecycle() != StateHeld {
		return m.reject(p, "place", "not_held", fmt.Errorf("place %s: %w", p.id, ErrIllegalTransition))
	}

	var layer grid.Layer
	switch item := p.item.(type) {
	case Tool:
		return m.reject(p, "place", "tool_not_placeable", fmt.Errorf("place %s: %w", p.id, ErrIllegalTransition))

	case BuildingComponent:
		layer = item.Layer
		if layer.RequiresFoundation() && !m.grid.DependencyHolds(cell, layer) {
			return m.reject(p, "place", "missing_dependency", fmt.Errorf("place %s: %w", p.id, grid.ErrMissingDependency))
		}
		// Register атомарно повторяет проверку занятости под блокировкой
		if err := m.grid.Register(cell, layer, p); err != nil {
			return m.reject(p, "place", "registry_conflict", fmt.Errorf("place %s: %w", p.id, err))
		}

	case RawMaterial:
		if m.acceptor == nil {
			return m.reject(p, "place", "no_acceptor", fmt.Errorf("place %s: %w", p.id, ErrIllegalTransition))
		}
		target, err := m.acceptor.AcceptRawMaterial(cell, item.Material)
		if err != nil {
			return m.reject(p, "place", "material_not_needed", fmt.Errorf("place %s: %w", p.id, err))
		}
		layer = target
		if err := m.grid.RegisterRawMaterial(cell, layer, p); err != nil {
			return m.reject(p, "place", "registry_conflict", fmt.Errorf("place %s: %w", p.id, err))
		}
	}

	p.mu.Lock()
	p.lifecycle = StatePlaced
	p.refinement = RefinementRaw
	p.cell = cell
	p.layer = layer
	p.holder = ""
	p.pos = m.grid.WorldOf(cell)
	view := p.viewHandle
	p.mu.Unlock()

	// Размещенный предмет статичен и снова участвует в коллизиях
	m.physics.SetKinematic(view, true)
	m.physics.SetCollision(view, true)

	m.metrics.transition("place")
	m.notify(ChangeEvent{
		EntityID: p.id, Transition: "place",
		Lifecycle: StatePlaced, Refinement: RefinementRaw,
		Cell: cell, Layer: layer,
	})
	return nil
}

// Refine укрепляет размещенную необработанную сущность
func (m *Machine) Refine(p *Placeable) error {
	return m.setRefinement(p, "refine", RefinementRaw, RefinementRefined)
}

// Damage повреждает укрепленную сущность, разблокируя ее для захвата
func (m *Machine) Damage(p *Placeable) error {
	return m.setRefinement(p, "damage", RefinementRefined, RefinementDamaged)
}

// Repair возвращает поврежденную сущность в укрепленное состояние
func (m *Machine) Repair(p *Placeable) error {
	return m.setRefinement(p, "repair", RefinementDamaged, RefinementRefined)
}

// setRefinement выполняет переход укрепления с проверкой предусловия.
// Переходы укрепления определены только для размещенных сущностей.
func (m *Machine) setRefinement(p *Placeable, transition string, from, to RefinementState) error {
	p.mu.Lock()
	if p.lifecycle != StatePlaced {
		p.mu.Unlock()
		return m.reject(p, transition, "not_placed", fmt.Errorf("%s %s: %w", transition, p.id, ErrIllegalTransition))
	}
	if p.refinement != from {
		p.mu.Unlock()
		return m.reject(p, transition, "wrong_refinement", fmt.Errorf("%s %s: %w", transition, p.id, ErrIllegalTransition))
	}
	p.refinement = to
	cell, layer := p.cell, p.layer
	p.mu.Unlock()

	m.metrics.transition(transition)
	m.notify(ChangeEvent{
		EntityID: p.id, Transition: transition,
		Lifecycle: StatePlaced, Refinement: to,
		Cell: cell, Layer: layer,
	})
	return nil
}

// ForcePlaceRefined регистрирует сущность как уже размещенную и укрепленную.
// Используется конвейером крафта при конверсии завершенного чертежа:
// готовый результат не проходит обычный путь Held → Placed.
func (m *Machine) ForcePlaceRefined(p *Placeable, cell vec.Vec2, layer grid.Layer, pos vec.Vec2Float) error {
	// Состояние выставляется до регистрации, чтобы слушатели реестра
	// сразу видели укрепленный фундамент (межслойная зависимость).
	p.mu.Lock()
	p.lifecycle = StatePlaced
	p.refinement = RefinementRefined
	p.cell = cell
	p.layer = layer
	p.holder = ""
	p.pos = pos
	view := p.viewHandle
	p.mu.Unlock()

	if err := m.grid.Register(cell, layer, p); err != nil {
		p.mu.Lock()
		p.lifecycle = StateFree
		p.refinement = RefinementRaw
		p.mu.Unlock()
		return fmt.Errorf("конверсия %s: %w", p.id, err)
	}

	m.physics.SetKinematic(view, true)
	m.physics.SetCollision(view, true)

	m.metrics.transition("convert")
	m.notify(ChangeEvent{
		EntityID: p.id, Transition: "convert",
		Lifecycle: StatePlaced, Refinement: RefinementRefined,
		Cell: cell, Layer: layer,
	})
	return nil
}

// RestorePlaced регистрирует сущность как размещенную с заданным
// укреплением. Используется при восстановлении уровня из снимка
// хранилища; обычные гварды переходов здесь не применяются.
func (m *Machine) RestorePlaced(p *Placeable, cell vec.Vec2, layer grid.Layer, ref RefinementState) error {
	pos := m.grid.WorldOf(cell)

	p.mu.Lock()
	p.lifecycle = StatePlaced
	p.refinement = ref
	p.cell = cell
	p.layer = layer
	p.holder = ""
	p.pos = pos
	view := p.viewHandle
	_, isRaw := p.item.(RawMaterial)
	p.mu.Unlock()

	var err error
	if isRaw {
		err = m.grid.RegisterRawMaterial(cell, layer, p)
	} else {
		err = m.grid.Register(cell, layer, p)
	}
	if err != nil {
		p.mu.Lock()
		p.lifecycle = StateFree
		p.refinement = RefinementRaw
		p.mu.Unlock()
		return fmt.Errorf("восстановление %s: %w", p.id, err)
	}

	m.physics.SetKinematic(view, true)
	m.physics.SetCollision(view, true)
	return nil
}
