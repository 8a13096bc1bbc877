package world

import (
	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/vec"
	"github.com/atillabyte/World/internal/world/block"
)

// StructuralFields - поля записи, которые разбирает кодек. В исходящие сообщения
// как дополнительные свойства они не попадают.
var StructuralFields = []string{"type", "layer", "x", "y", "x1", "y1"}

// Tile представляет одну конфигурацию блока, размещённую в одной или нескольких клетках.
// Сервер группирует одинаковые тайлы (тип, слой, свойства) в одну запись worlddata.
type Tile struct {
	Type      block.BlockID  // Идентификатор типа блока
	Layer     BlockLayer     // Слой; 0 если поле отсутствует
	Positions []vec.Vec2     // Клетки: сначала короткий канал, затем длинный
	props     *object.Object // Все поля исходной записи, включая структурные
}

// Properties возвращает все поля исходной записи (копию).
func (t Tile) Properties() *object.Object {
	if t.props == nil {
		return object.New()
	}
	return t.props.Clone()
}

// Extras возвращает дополнительные свойства без структурных полей, в исходном порядке.
// Структурные поля сравниваются по точному имени: X или Layer остаются свойствами.
func (t Tile) Extras() *object.Object {
	return t.props.WithoutExact(StructuralFields...)
}

// Property возвращает поле записи по имени (без учёта регистра)
func (t Tile) Property(key string) (interface{}, bool) {
	_, v, ok := t.props.Find(key)
	return v, ok
}

// Удобные accessor'ы для часто используемых свойств.

func (t Tile) Rotation() int64 { return object.Int(t.props, "rotation", 0) }
func (t Tile) Goal() int64     { return object.Int(t.props, "goal", 0) }
func (t Tile) SignType() int64 { return object.Int(t.props, "signtype", 0) }
func (t Tile) Text() string    { return object.Get(t.props, "text", "") }

// ID возвращает идентификатор портала/двери, тип зависит от блока.
func (t Tile) ID() interface{} {
	v, _ := t.Property("id")
	return v
}

// Target возвращает цель портала, тип зависит от блока.
func (t Tile) Target() interface{} {
	v, _ := t.Property("target")
	return v
}

// Occupies проверяет, занимает ли тайл клетку pos.
func (t Tile) Occupies(pos vec.Vec2) bool {
	for _, p := range t.Positions {
		if p == pos {
			return true
		}
	}
	return false
}
