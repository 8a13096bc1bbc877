package world

import (
	"fmt"
	"math/rand"

	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/util"
	"github.com/atillabyte/World/internal/vec"
	"github.com/atillabyte/World/internal/world/block"
)

// Пороги высоты для генерации
const (
	LowlandMax  = 0.35 // Ниже - синие блоки
	HighlandMin = 0.65 // Выше - зелёные блоки
)

// Generator генерирует тестовые миры: рамка, фон, ландшафт по шуму Перлина,
// монеты и таблички. Один и тот же сид даёт один и тот же мир.
type Generator struct {
	Seed        int64   // Сид для шума и случайных объектов
	Width       int     // Ширина мира
	Height      int     // Высота мира
	NoiseScale  float64 // Масштаб шума высоты
	CoinDensity float64 // Доля пустых клеток с монетами
	SignCount   int     // Количество табличек
}

// NewGenerator создаёт генератор мира стандартного размера
func NewGenerator(seed int64) *Generator {
	return &Generator{
		Seed:        seed,
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		NoiseScale:  0.08,
		CoinDensity: 0.01,
		SignCount:   3,
	}
}

// tileKey группирует клетки одной конфигурации в одну запись
type tileKey struct {
	id    block.BlockID
	layer BlockLayer
}

// Generate строит снимок мира с заданным названием.
func (g *Generator) Generate(name string) (*Snapshot, error) {
	if g.Width < 3 || g.Height < 3 {
		return nil, fmt.Errorf("слишком маленький мир %dx%d", g.Width, g.Height)
	}

	noise := util.NewNoise(g.Seed)
	rng := rand.New(rand.NewSource(g.Seed))

	groups := make(map[tileKey][]vec.Vec2)
	var order []tileKey
	place := func(id block.BlockID, layer BlockLayer, pos vec.Vec2) {
		k := tileKey{id: id, layer: layer}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], pos)
	}

	var free []vec.Vec2
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			pos := vec.Vec2{X: x, Y: y}

			// Рамка мира
			if x == 0 || y == 0 || x == g.Width-1 || y == g.Height-1 {
				place(block.BasicGrayBlockID, LayerForeground, pos)
				continue
			}

			place(block.BackgroundBasicGrayBlockID, LayerBackground, pos)

			height := noise.At(float64(x)*g.NoiseScale, float64(y)*g.NoiseScale)
			switch {
			case height < LowlandMax:
				place(block.BasicBlueBlockID, LayerForeground, pos)
			case height > HighlandMin:
				place(block.BasicGreenBlockID, LayerForeground, pos)
			default:
				if rng.Float64() < g.CoinDensity {
					place(block.CoinBlockID, LayerForeground, pos)
				} else {
					free = append(free, pos)
				}
			}
		}
	}

	tiles := make([]Tile, 0, len(order)+g.SignCount)
	for _, k := range order {
		tile, err := NewTile(k.id, k.layer, nil, groups[k])
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, tile)
	}

	// Таблички - каждая отдельной записью со своим текстом
	for i := 0; i < g.SignCount && len(free) > 0; i++ {
		j := rng.Intn(len(free))
		pos := free[j]
		free = append(free[:j], free[j+1:]...)

		extras := object.New().
			Set("text", fmt.Sprintf("sign #%d", i+1)).
			Set("signtype", int64(i%4))
		tile, err := NewTile(block.SignBlockID, LayerForeground, extras, []vec.Vec2{pos})
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, tile)
	}

	meta := object.New().
		Set("name", name).
		Set("width", int64(g.Width)).
		Set("height", int64(g.Height)).
		Set("backgroundColor", int64(0x1f1f1f)).
		Set("visible", true)
	return NewSnapshot(meta, tiles), nil
}
