package implementations

import (
	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/world/block"
)

// SignBehavior - табличка. Сервер отклоняет установку таблички без поля signtype,
// поэтому при отсутствии поля оно получает значение 0. Заданное значение не меняется.
type SignBehavior struct{}

func (b *SignBehavior) ID() block.BlockID { return block.SignBlockID }
func (b *SignBehavior) Name() string      { return "Sign" }

func (b *SignBehavior) Normalize(props *object.Object) {
	if props.Has("signtype", false) {
		return
	}
	props.Set("signtype", int64(0))
}
