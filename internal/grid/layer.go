package grid

import "fmt"

// Layer определяет логический слой ячейки сетки.
// В одной ячейке каждый слой занимается независимо,
// но Wall и Object взаимно исключают друг друга.
//
// 0 – LayerFoundation: фундаменты;
// 1 – LayerWall: стены, требуют укрепленный фундамент;
// 2 – LayerObject: объекты поверх фундамента.

type Layer uint8

const (
	LayerFoundation Layer = iota
	LayerWall
	LayerObject

	MaxLayers // всегда последний: количество слоев
)

// InteractionPriority — единый порядок перебора слоев при разрешении
// неоднозначных целей: Object > Wall > Foundation. Используется и при
// выборе цели захвата, и при выборе цели инструмента.
var InteractionPriority = [MaxLayers]Layer{LayerObject, LayerWall, LayerFoundation}

// String возвращает строковое представление слоя
func (l Layer) String() string {
	switch l {
	case LayerFoundation:
		return "foundation"
	case LayerWall:
		return "wall"
	case LayerObject:
		return "object"
	default:
		return fmt.Sprintf("layer(%d)", uint8(l))
	}
}

// ParseLayer разбирает имя слоя из конфигурации или JSON рецептов
func ParseLayer(s string) (Layer, error) {
	switch s {
	case "foundation":
		return LayerFoundation, nil
	case "wall":
		return LayerWall, nil
	case "object":
		return LayerObject, nil
	default:
		return 0, fmt.Errorf("неизвестный слой: %q", s)
	}
}

// RequiresFoundation возвращает true, если размещение на этом слое
// требует укрепленный фундамент в той же ячейке.
func (l Layer) RequiresFoundation() bool {
	return l == LayerWall || l == LayerObject
}

// excludes возвращает слой, взаимно исключающий данный в пределах ячейки.
// Foundation ни с кем не конфликтует.
func (l Layer) excludes() (Layer, bool) {
	switch l {
	case LayerWall:
		return LayerObject, true
	case LayerObject:
		return LayerWall, true
	default:
		return 0, false
	}
}
