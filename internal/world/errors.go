package world

import "fmt"

// DecodeError сообщает о повреждённом буфере позиций или документе.
// Ошибка не повторяется локально: загрузка снимка целиком завершается неудачей.
type DecodeError struct {
	Index int    // индекс записи в worlddata, -1 для документа целиком
	Field string // имя поля (x, y, x1, y1, document)
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("decode worlddata[%d].%s: %v", e.Index, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
