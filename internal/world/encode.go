package world

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/vec"
	"github.com/atillabyte/World/internal/world/block"
)

// maxLongCoordinate - предел 16-битного канала
const maxLongCoordinate = 0xFFFF

// NewTile собирает тайл из типа, слоя, дополнительных свойств и позиций.
// Позиции упаковываются в длинный канал x/y, поэтому тайл переживает
// сохранение в документ и повторную загрузку.
func NewTile(id block.BlockID, layer BlockLayer, extras *object.Object, positions []vec.Vec2) (Tile, error) {
	xs, ys, err := PackLongChannel(positions)
	if err != nil {
		return Tile{}, err
	}

	props := object.New().Set("type", int64(id))
	if layer != LayerForeground {
		props.Set("layer", int64(layer))
	}
	extras.WithoutExact(StructuralFields...).Range(func(k string, v interface{}) bool {
		props.Set(k, v)
		return true
	})
	if len(positions) > 0 {
		props.Set("x", xs).Set("y", ys)
	}

	tile := Tile{Type: id, Layer: layer, props: props}
	if len(positions) > 0 {
		tile.Positions = make([]vec.Vec2, len(positions))
		copy(tile.Positions, positions)
	}
	return tile, nil
}

// PackLongChannel упаковывает позиции в два буфера 16-битных big-endian координат.
func PackLongChannel(positions []vec.Vec2) (xs, ys []byte, err error) {
	xs = make([]byte, 0, 2*len(positions))
	ys = make([]byte, 0, 2*len(positions))
	for _, p := range positions {
		if p.X < 0 || p.Y < 0 || p.X > maxLongCoordinate || p.Y > maxLongCoordinate {
			return nil, nil, fmt.Errorf("позиция %v вне диапазона 0..%d", p, maxLongCoordinate)
		}
		xs = append(xs, byte(p.X>>8), byte(p.X))
		ys = append(ys, byte(p.Y>>8), byte(p.Y))
	}
	return xs, ys, nil
}

// Document собирает структурированный документ для локального хранения:
// метаданные в корне и массив worlddata с исходными записями тайлов.
func (s *Snapshot) Document() *object.Object {
	doc := s.meta.Clone()
	arr := object.NewArray()
	for _, t := range s.tiles {
		arr.Append(t.Properties())
	}
	doc.Set(WorldDataField, arr)
	return doc
}

// MarshalJSON сериализует снимок в формат локального файла мира.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return s.Document().MarshalJSON()
}

// MarshalIndent как MarshalJSON, но с отступами для человека.
func (s *Snapshot) MarshalIndent(indent string) ([]byte, error) {
	data, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", indent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
