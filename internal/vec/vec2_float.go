package vec

import "math"

// Vec2Float представляет мировую позицию с плавающей точкой
// на той же горизонтальной плоскости, что и Vec2.
type Vec2Float struct {
	X, Z float64
}

// Add складывает два вектора
func (v Vec2Float) Add(other Vec2Float) Vec2Float {
	return Vec2Float{X: v.X + other.X, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec2Float) Sub(other Vec2Float) Vec2Float {
	return Vec2Float{X: v.X - other.X, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec2Float) Mul(scalar float64) Vec2Float {
	return Vec2Float{X: v.X * scalar, Z: v.Z * scalar}
}

// Rotated поворачивает вектор на угол в градусах вокруг начала координат.
// Положительный угол — против часовой стрелки, если смотреть сверху.
func (v Vec2Float) Rotated(deg float64) Vec2Float {
	rad := deg * math.Pi / 180.0
	sin, cos := math.Sin(rad), math.Cos(rad)
	return Vec2Float{
		X: v.X*cos - v.Z*sin,
		Z: v.X*sin + v.Z*cos,
	}
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2Float) DistanceTo(other Vec2Float) float64 {
	dx := v.X - other.X
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dz*dz)
}
