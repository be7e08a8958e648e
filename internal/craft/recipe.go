package craft

import (
	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/vec"
)

// Requirement — одно требование рецепта: сколько материала какого типа
// нужно переработать и каким инструментом.
type Requirement struct {
	Material entity.MaterialType
	Count    int
	Tool     entity.ToolType
}

// Recipe — неизменяемое описание крафта: требования, целевой слой,
// шаблон результата и пространственное смещение/поворот результата.
// Содержимое рецептов — данные; ядро логики их не интерпретирует.
type Recipe struct {
	ID             string
	Requirements   []Requirement
	Layer          grid.Layer
	ResultTemplate string
	Offset         vec.Vec2Float
	RotationDeg    float64
}

// RequirementFor возвращает требование по типу материала
func (r *Recipe) RequirementFor(mat entity.MaterialType) (Requirement, bool) {
	for _, req := range r.Requirements {
		if req.Material == mat {
			return req, true
		}
	}
	return Requirement{}, false
}

// AcceptsTool возвращает true, если хотя бы одно требование рецепта
// ключуется этим типом инструмента.
func (r *Recipe) AcceptsTool(tool entity.ToolType) bool {
	for _, req := range r.Requirements {
		if req.Tool == tool {
			return true
		}
	}
	return false
}

// Satisfied проверяет выполненность рецепта по счетчикам прогресса
func (r *Recipe) Satisfied(processed map[entity.MaterialType]int) bool {
	for _, req := range r.Requirements {
		if processed[req.Material] < req.Count {
			return false
		}
	}
	return true
}
