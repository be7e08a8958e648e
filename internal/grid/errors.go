package grid

import "errors"

// Ошибки реестра сетки. Все они ожидаемые и восстановимые:
// действие просто отклоняется, состояние не меняется.
var (
	// ErrOutOfBounds — координата вне настроенных границ сетки.
	ErrOutOfBounds = errors.New("координата вне границ сетки")

	// ErrCellOccupied — в ячейке на этом слое уже есть размещенная сущность.
	ErrCellOccupied = errors.New("ячейка уже занята на этом слое")

	// ErrMissingDependency — для Wall/Object нет укрепленного фундамента.
	ErrMissingDependency = errors.New("в ячейке нет укрепленного фундамента")

	// ErrBlueprintExists — на (ячейка, слой) уже привязан чертеж.
	ErrBlueprintExists = errors.New("чертеж уже привязан к ячейке и слою")
)
