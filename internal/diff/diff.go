// Package diff вычисляет, каких размещений блоков не хватает целевому миру
// по сравнению с исходным, и строит команды для их восстановления.
package diff

import (
	"github.com/atillabyte/World/internal/protocol"
	"github.com/atillabyte/World/internal/vec"
	"github.com/atillabyte/World/internal/world"
	"github.com/atillabyte/World/internal/world/block"
	_ "github.com/atillabyte/World/internal/world/block/implementations"
)

// Entry - одно недостающее размещение: тайл источника и клетка.
type Entry struct {
	Tile     world.Tile
	Position vec.Vec2
}

// cellKey идентифицирует размещение; дополнительные свойства не участвуют
type cellKey struct {
	id    block.BlockID
	layer world.BlockLayer
	x, y  int
}

type options struct {
	registry *block.Registry
}

// Option настраивает вычисление разницы
type Option func(*options)

// WithRegistry задаёт реестр поведений для нормализации свойств.
func WithRegistry(r *block.Registry) Option {
	return func(o *options) { o.registry = r }
}

func buildOptions(opts []Option) options {
	o := options{registry: block.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Missing возвращает размещения источника, отсутствующие в цели, в порядке источника:
// по тайлам, внутри тайла - по позициям. Повторы одного размещения выдаются один раз.
// Лишние блоки цели не учитываются.
func Missing(source, target *world.Snapshot) []Entry {
	present := make(map[cellKey]struct{}, target.PositionCount())
	for _, t := range target.Tiles() {
		for _, p := range t.Positions {
			present[cellKey{t.Type, t.Layer, p.X, p.Y}] = struct{}{}
		}
	}

	var out []Entry
	seen := make(map[cellKey]struct{})
	for _, t := range source.Tiles() {
		for _, p := range t.Positions {
			k := cellKey{t.Type, t.Layer, p.X, p.Y}
			if _, ok := present[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, Entry{Tile: t, Position: p})
		}
	}
	return out
}

// Payload строит команду размещения: layer, x, y, type и затем дополнительные
// свойства тайла в исходном порядке после нормализации реестром.
func Payload(e Entry, registry *block.Registry) protocol.Message {
	if registry == nil {
		registry = block.Default()
	}

	extras := registry.Normalize(e.Tile.Type, e.Tile.Extras())

	args := make([]interface{}, 0, 4+extras.Len())
	args = append(args,
		int64(e.Tile.Layer),
		int64(e.Position.X),
		int64(e.Position.Y),
		int64(e.Tile.Type),
	)
	extras.Range(func(_ string, v interface{}) bool {
		args = append(args, v)
		return true
	})
	return protocol.Message{Type: protocol.TypeBlock, Args: args}
}

// Diff возвращает команды для всех недостающих размещений в порядке источника.
func Diff(source, target *world.Snapshot, opts ...Option) []protocol.Message {
	o := buildOptions(opts)

	entries := Missing(source, target)
	out := make([]protocol.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, Payload(e, o.registry))
	}
	return out
}
