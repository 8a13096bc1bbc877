package block

import (
	"sync"

	"github.com/atillabyte/World/internal/object"
)

// BlockID представляет идентификатор типа тайла в том виде, в каком его хранит сервер
type BlockID uint32

// Константы ID блоков, которые нужны коду напрямую. Остальные ID приходят из данных.
const (
	EmptyBlockID BlockID = 0 // Пустая клетка

	// Базовые блоки переднего плана
	BasicGrayBlockID  BlockID = 9
	BasicBlueBlockID  BlockID = 10
	BasicGreenBlockID BlockID = 13

	// Интерактивные блоки
	CoinBlockID   BlockID = 100
	PortalBlockID BlockID = 242
	SpikeBlockID  BlockID = 361
	SignBlockID   BlockID = 385 // Табличка с текстом, требует signtype

	// Фоновые блоки (начиная с 500)
	BackgroundBasicGrayBlockID BlockID = 500
)

// Registry хранит поведения блоков по ID.
// Реестр безопасен для конкурентного чтения: несколько синхронизаций могут
// нормализовать полезную нагрузку одновременно.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[BlockID]BlockBehavior
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{behaviors: make(map[BlockID]BlockBehavior)}
}

// Register добавляет поведение блока в реестр, заменяя предыдущее
func (r *Registry) Register(behavior BlockBehavior) {
	r.mu.Lock()
	r.behaviors[behavior.ID()] = behavior
	r.mu.Unlock()
}

// RegisterFunc регистрирует нормализацию, заданную функцией
func (r *Registry) RegisterFunc(id BlockID, name string, fn Normalizer) {
	r.Register(&funcBehavior{id: id, name: name, fn: fn})
}

// Get возвращает поведение для указанного ID
func (r *Registry) Get(id BlockID) (BlockBehavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	behavior, exists := r.behaviors[id]
	return behavior, exists
}

// Len возвращает число зарегистрированных поведений
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.behaviors)
}

// Normalize возвращает свойства, готовые к отправке. Если для ID есть поведение,
// оно применяется к копии; исходный объект не меняется никогда.
func (r *Registry) Normalize(id BlockID, props *object.Object) *object.Object {
	behavior, exists := r.Get(id)
	if !exists {
		return props
	}
	out := props.Clone()
	behavior.Normalize(out)
	return out
}

var defaultRegistry = NewRegistry()

// Default возвращает глобальный реестр, который заполняют пакеты реализаций в init()
func Default() *Registry { return defaultRegistry }

// Register добавляет поведение блока в глобальный реестр
func Register(behavior BlockBehavior) { defaultRegistry.Register(behavior) }

// Get возвращает поведение из глобального реестра
func Get(id BlockID) (BlockBehavior, bool) { return defaultRegistry.Get(id) }
