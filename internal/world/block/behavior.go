package block

import "github.com/atillabyte/World/internal/object"

// Normalizer дополняет свойства тайла перед отправкой на сервер.
// Получает копию свойств и может менять её свободно.
type Normalizer func(props *object.Object)

// BlockBehavior определяет серверные особенности блока, которые нужно учесть
// при построении исходящего сообщения.
type BlockBehavior interface {
	ID() BlockID
	Name() string
	Normalize(props *object.Object)
}

type funcBehavior struct {
	id   BlockID
	name string
	fn   Normalizer
}

func (b *funcBehavior) ID() BlockID                   { return b.id }
func (b *funcBehavior) Name() string                  { return b.name }
func (b *funcBehavior) Normalize(props *object.Object) { b.fn(props) }
