package entity

import (
	"sync"

	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/vec"
)

// Placeable — один физический предмет: сырье, строительный компонент
// или инструмент. Все мутации состояния идут через Machine.
type Placeable struct {
	mu sync.RWMutex

	id       string
	item     HeldItem
	template string

	lifecycle  LifecycleState
	refinement RefinementState
	holder     HolderID

	// Валидны только в StatePlaced
	cell  vec.Vec2
	layer grid.Layer

	// Позиция в мире, пока сущность не размещена
	pos vec.Vec2Float

	// Хендл презентационного объекта, выданный спавнером
	viewHandle string
}

// HandleID возвращает стабильный идентификатор сущности
func (p *Placeable) HandleID() string {
	return p.id
}

// Template возвращает шаблон спавна, из которого создана сущность
func (p *Placeable) Template() string {
	return p.template
}

// Item возвращает вариант предмета
func (p *Placeable) Item() HeldItem {
	return p.item
}

// Lifecycle возвращает текущее состояние жизненного цикла
func (p *Placeable) Lifecycle() LifecycleState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lifecycle
}

// Refinement возвращает подсостояние прочности
func (p *Placeable) Refinement() RefinementState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refinement
}

// IsRefined реализует grid.Occupant
func (p *Placeable) IsRefined() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lifecycle == StatePlaced && p.refinement == RefinementRefined
}

// Holder возвращает текущего держателя (пусто, если не в руках)
func (p *Placeable) Holder() HolderID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.holder
}

// Cell возвращает ячейку и слой размещения; ok == false, если не размещена
func (p *Placeable) Cell() (vec.Vec2, grid.Layer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cell, p.layer, p.lifecycle == StatePlaced
}

// Position возвращает мировую позицию сущности
func (p *Placeable) Position() vec.Vec2Float {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pos
}

// SetPosition обновляет мировую позицию (движение держателя, физика)
func (p *Placeable) SetPosition(pos vec.Vec2Float) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
}

// ViewHandle возвращает хендл презентационного объекта
func (p *Placeable) ViewHandle() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.viewHandle
}

// CanBeGrabbed возвращает true, если сущность может быть захвачена:
// не в чьих-то руках и не заблокирована укреплением. Инструменты и сырье
// не блокируются укреплением никогда.
func (p *Placeable) CanBeGrabbed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.lifecycle == StateHeld {
		return false
	}
	switch p.item.(type) {
	case Tool, RawMaterial:
		return true
	default:
		return !(p.lifecycle == StatePlaced && p.refinement == RefinementRefined)
	}
}

// MaterialTypeOf возвращает тип сырья, если сущность — сырье
func (p *Placeable) MaterialTypeOf() (MaterialType, bool) {
	if raw, ok := p.item.(RawMaterial); ok {
		return raw.Material, true
	}
	return "", false
}
