package implementations

import "github.com/atillabyte/World/internal/world/block"

// Регистрируем особенности блоков при импорте пакета
func init() {
	RegisterAll(block.Default())
}

// RegisterAll добавляет все встроенные поведения в указанный реестр
func RegisterAll(r *block.Registry) {
	r.Register(&SignBehavior{})
}
