package world

// BlockLayer определяет слой тайла.
//
// 0 – LayerForeground: блоки, с которыми взаимодействует игрок;
// 1 – LayerBackground: декоративный фон.
// Если поле layer отсутствует в записи, тайл относится к переднему плану.
type BlockLayer uint8

const (
	LayerForeground BlockLayer = iota
	LayerBackground
)

// String возвращает имя слоя для логов
func (l BlockLayer) String() string {
	switch l {
	case LayerForeground:
		return "foreground"
	case LayerBackground:
		return "background"
	default:
		return "layer?"
	}
}
