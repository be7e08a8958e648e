package grid

import (
	"math"

	"github.com/annel0/basecraft/internal/vec"
)

// Config описывает геометрию сетки: прямоугольные границы в ячейках
// и размер ячейки в мировых единицах.
type Config struct {
	MinX     int     `yaml:"min_x"`
	MinZ     int     `yaml:"min_z"`
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	CellSize float64 `yaml:"cell_size"`
}

// DefaultConfig возвращает геометрию по умолчанию: сетка 64x64 с ячейкой 1.0.
func DefaultConfig() Config {
	return Config{MinX: 0, MinZ: 0, Width: 64, Height: 64, CellSize: 1.0}
}

// CellOf преобразует непрерывную мировую позицию в координату ячейки
// делением с округлением вниз. Детерминированно и чисто.
func (c Config) CellOf(pos vec.Vec2Float) vec.Vec2 {
	return vec.Vec2{
		X: int(math.Floor(pos.X / c.CellSize)),
		Z: int(math.Floor(pos.Z / c.CellSize)),
	}
}

// WorldOf возвращает каноническую мировую позицию центра ячейки.
// Обратна CellOf: CellOf(WorldOf(c)) == c для любой ячейки.
func (c Config) WorldOf(cell vec.Vec2) vec.Vec2Float {
	return vec.Vec2Float{
		X: (float64(cell.X) + 0.5) * c.CellSize,
		Z: (float64(cell.Z) + 0.5) * c.CellSize,
	}
}

// IsInBounds проверяет попадание координаты в прямоугольные границы сетки
func (c Config) IsInBounds(cell vec.Vec2) bool {
	return cell.X >= c.MinX && cell.X < c.MinX+c.Width &&
		cell.Z >= c.MinZ && cell.Z < c.MinZ+c.Height
}
