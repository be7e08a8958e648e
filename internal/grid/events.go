package grid

import (
	"github.com/annel0/basecraft/internal/vec"
)

// ChangeKind определяет тип изменения занятости ячейки
type ChangeKind uint8

const (
	ChangePlaced     ChangeKind = iota // Размещена сущность
	ChangeRemoved                      // Сущность снята с ячейки
	ChangeRawAdded                     // Сырье добавлено в стопку
	ChangeRawRemoved                   // Сырье убрано из стопки
)

// String возвращает строковое представление типа изменения
func (k ChangeKind) String() string {
	switch k {
	case ChangePlaced:
		return "placed"
	case ChangeRemoved:
		return "removed"
	case ChangeRawAdded:
		return "raw_added"
	case ChangeRawRemoved:
		return "raw_removed"
	default:
		return "unknown"
	}
}

// ChangeEvent описывает одно изменение занятости (ячейка, слой).
// StackIndex заполняется только для событий сырья: позиция в стопке
// определяет вертикальное смещение при отрисовке.
type ChangeEvent struct {
	Cell       vec.Vec2
	Layer      Layer
	Kind       ChangeKind
	EntityID   string
	StackIndex int
}

// Listener получает уведомления об изменениях занятости.
// Вызывается синхронно внутри мутации — обработчики обязаны быть быстрыми
// и не вызывать методы реестра повторно.
type Listener interface {
	OnGridChanged(ev ChangeEvent)
}

// ListenerFunc адаптирует функцию к интерфейсу Listener
type ListenerFunc func(ev ChangeEvent)

// OnGridChanged вызывает саму функцию
func (f ListenerFunc) OnGridChanged(ev ChangeEvent) { f(ev) }
