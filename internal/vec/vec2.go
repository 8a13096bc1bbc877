package vec

import "fmt"

// Vec2 представляет клетку мира (x, y).
// Координаты неотрицательны: короткий канал даёт 0..255, длинный 0..65535.
type Vec2 struct {
	X, Y int
}

// String возвращает "(x,y)"
func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

// InBounds проверяет, лежит ли клетка внутри мира width x height
func (v Vec2) InBounds(width, height int) bool {
	return v.X >= 0 && v.Y >= 0 && v.X < width && v.Y < height
}

// Less задаёт построчный порядок (сначала Y, потом X)
func (v Vec2) Less(other Vec2) bool {
	if v.Y != other.Y {
		return v.Y < other.Y
	}
	return v.X < other.X
}
