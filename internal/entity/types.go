package entity

import (
	"errors"

	"github.com/annel0/basecraft/internal/grid"
)

// LifecycleState — состояние жизненного цикла размещаемой сущности
type LifecycleState uint8

const (
	StateFree   LifecycleState = iota // Лежит в мире, никем не занята
	StateHeld                         // В руках у игрока
	StatePlaced                       // Размещена в ячейке сетки
)

// String возвращает строковое представление состояния
func (s LifecycleState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateHeld:
		return "held"
	case StatePlaced:
		return "placed"
	default:
		return "unknown"
	}
}

// RefinementState — подсостояние прочности размещенной сущности.
// Имеет смысл только в состоянии StatePlaced.
type RefinementState uint8

const (
	RefinementRaw     RefinementState = iota // Размещена, но не укреплена
	RefinementRefined                        // Укреплена: структурно заблокирована
	RefinementDamaged                        // Повреждена: требует ремонта
)

// String возвращает строковое представление подсостояния
func (r RefinementState) String() string {
	switch r {
	case RefinementRaw:
		return "raw"
	case RefinementRefined:
		return "refined"
	case RefinementDamaged:
		return "damaged"
	default:
		return "unknown"
	}
}

// MaterialType — тип сырья ("concrete", "timber", ...). Содержимое
// рецептов — данные, ядро трактует тип как непрозрачную строку.
type MaterialType string

// ToolType — тип инструмента, которым ключуются требования рецептов
type ToolType string

// ToolEffect определяет, что инструмент делает с целью
type ToolEffect uint8

const (
	// EffectProcess — обрабатывающий инструмент: чинит поврежденное,
	// перерабатывает сырье для чертежа, укрепляет размещенное.
	EffectProcess ToolEffect = iota

	// EffectWreck — разрушающий инструмент: повреждает укрепленное,
	// тем самым разблокируя его для захвата.
	EffectWreck
)

// HolderID идентифицирует игрока, держащего сущность
type HolderID string

// HeldItem — помеченное объединение вариантов предмета.
// Диспетчеризация по варианту выполняется type switch'ем,
// без инспекции типов времени выполнения за пределами вариантов.
type HeldItem interface {
	isHeldItem()
}

// Tool — инструмент. Не размещается в ячейках и никогда
// не блокируется укреплением.
type Tool struct {
	Type   ToolType
	Effect ToolEffect
}

func (Tool) isHeldItem() {}

// BuildingComponent — строительный компонент с фиксированным при
// создании целевым слоем.
type BuildingComponent struct {
	Layer grid.Layer
}

func (BuildingComponent) isHeldItem() {}

// RawMaterial — сырье. Целевой слой не фиксирован: при размещении
// определяется активным чертежом в целевой ячейке.
type RawMaterial struct {
	Material MaterialType
}

func (RawMaterial) isHeldItem() {}

// ErrIllegalTransition — запрошенный переход запрещен текущим состоянием.
// Отклонение тихое для вызывающего, но учитывается в метриках.
var ErrIllegalTransition = errors.New("недопустимый переход состояния")
