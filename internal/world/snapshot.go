package world

import (
	"image/color"

	"github.com/atillabyte/World/internal/object"
)

// Значения по умолчанию для метаданных мира
const (
	DefaultWorldName = "Untitled World"
	DefaultWidth     = 200
	DefaultHeight    = 200
)

// Snapshot - неизменяемый снимок мира: упорядоченные тайлы и плоские метаданные.
// Снимок строится один раз при загрузке; обновление мира создаёт новый снимок.
// Слайсы позиций разделяются между копиями Tile и не должны изменяться вызывающим кодом.
type Snapshot struct {
	tiles []Tile
	meta  *object.Object
}

// NewSnapshot создаёт снимок из метаданных и тайлов (оба аргумента копируются).
func NewSnapshot(meta *object.Object, tiles []Tile) *Snapshot {
	s := &Snapshot{
		tiles: make([]Tile, len(tiles)),
		meta:  object.New(),
	}
	copy(s.tiles, tiles)
	if meta != nil {
		s.meta = meta.Clone()
	}
	return s
}

// Tiles возвращает копию списка тайлов в исходном порядке.
func (s *Snapshot) Tiles() []Tile {
	out := make([]Tile, len(s.tiles))
	copy(out, s.tiles)
	return out
}

// Len возвращает число тайлов.
func (s *Snapshot) Len() int { return len(s.tiles) }

// Tile возвращает тайл по индексу.
func (s *Snapshot) Tile(i int) Tile { return s.tiles[i] }

// PositionCount возвращает общее число занятых клеток (с учётом повторов).
func (s *Snapshot) PositionCount() int {
	total := 0
	for _, t := range s.tiles {
		total += len(t.Positions)
	}
	return total
}

// Metadata возвращает копию метаданных мира.
func (s *Snapshot) Metadata() *object.Object { return s.meta.Clone() }

// Property возвращает поле метаданных (без учёта регистра).
func (s *Snapshot) Property(key string) (interface{}, bool) {
	_, v, ok := s.meta.Find(key)
	return v, ok
}

// Name возвращает название мира или "Untitled World".
func (s *Snapshot) Name() string {
	return object.Get(s.meta, "name", DefaultWorldName)
}

func (s *Snapshot) Owner() string       { return object.Get(s.meta, "owner", "") }
func (s *Snapshot) Crew() string        { return object.Get(s.meta, "Crew", "") }
func (s *Snapshot) Description() string { return object.Get(s.meta, "worldDescription", "") }
func (s *Snapshot) Type() int64         { return object.Int(s.meta, "type", 0) }
func (s *Snapshot) Plays() int64        { return object.Int(s.meta, "plays", 0) }
func (s *Snapshot) Woots() int64        { return object.Int(s.meta, "woots", 0) }
func (s *Snapshot) TotalWoots() int64   { return object.Int(s.meta, "totalwoots", 0) }
func (s *Snapshot) Likes() int64        { return object.Int(s.meta, "Likes", 0) }
func (s *Snapshot) Favorites() int64    { return object.Int(s.meta, "Favorites", 0) }
func (s *Snapshot) Visible() bool       { return object.Get(s.meta, "visible", false) }
func (s *Snapshot) HideLobby() bool     { return object.Get(s.meta, "HideLobby", false) }

// Width возвращает ширину мира или 200, если поле не задано.
func (s *Snapshot) Width() int {
	return int(object.Int(s.meta, "width", DefaultWidth))
}

// Height возвращает высоту мира или 200, если поле не задано.
func (s *Snapshot) Height() int {
	return int(object.Int(s.meta, "height", DefaultHeight))
}

// BackgroundColor разбирает backgroundColor (0xRRGGBB) в непрозрачный цвет.
// Без поля фон чёрный.
func (s *Snapshot) BackgroundColor() color.NRGBA {
	v, ok := s.Property("backgroundColor")
	if !ok {
		return color.NRGBA{A: 255}
	}
	value, ok := v.(int64)
	if !ok {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{
		R: uint8(value >> 16),
		G: uint8(value >> 8),
		B: uint8(value),
		A: 255,
	}
}
