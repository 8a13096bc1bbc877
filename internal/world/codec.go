package world

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/vec"
	"github.com/atillabyte/World/internal/world/block"
)

// WorldDataField - имя массива тайлов в документе мира
const WorldDataField = "worlddata"

// gzipMagic - первые два байта gzip-потока
var gzipMagic = []byte{0x1f, 0x8b}

// BuildSnapshot строит снимок из документа удалённого хранилища.
// Отсутствующий или некорректный массив worlddata даёт пустой мир, а не ошибку;
// повреждённые буферы позиций дают *DecodeError.
func BuildSnapshot(doc *object.Object) (*Snapshot, error) {
	if doc == nil {
		return NewSnapshot(nil, nil), nil
	}

	var tiles []Tile
	if arr, ok := object.ArrayField(doc, WorldDataField); ok {
		decoded, err := DecodeTiles(arr)
		if err != nil {
			return nil, err
		}
		tiles = decoded
	} else if doc.Has(WorldDataField, false) {
		logging.Warn("Поле %s имеет неожиданный тип, мир считается пустым", WorldDataField)
	}

	return NewSnapshot(doc.Without(WorldDataField), tiles), nil
}

// ParseJSON строит снимок из локального JSON-документа.
func ParseJSON(data []byte) (*Snapshot, error) {
	doc, err := object.ParseJSON(data)
	if err != nil {
		return nil, &DecodeError{Index: -1, Field: "document", Err: err}
	}
	return BuildSnapshot(doc)
}

// DecodeTiles разбирает массив записей worlddata. Пустые слоты и пустые записи пропускаются.
func DecodeTiles(arr *object.Array) ([]Tile, error) {
	tiles := make([]Tile, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		rec, ok := arr.Object(i)
		if !ok || rec.Len() == 0 {
			continue
		}

		tile, err := DecodeTile(rec)
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				de.Index = i
			}
			return nil, err
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}

// DecodeTile разбирает одну запись worlddata.
// Позиции короткого канала (x1/y1) идут раньше позиций длинного (x/y).
func DecodeTile(rec *object.Object) (Tile, error) {
	tile := Tile{
		Type:  block.BlockID(nonNegative(object.Int(rec, "type", 0))),
		Layer: BlockLayer(nonNegative(object.Int(rec, "layer", 0))),
		props: rec.Clone(),
	}

	x1, err := readChannel(rec, "x1")
	if err != nil {
		return Tile{}, err
	}
	y1, err := readChannel(rec, "y1")
	if err != nil {
		return Tile{}, err
	}
	x, err := readChannel(rec, "x")
	if err != nil {
		return Tile{}, err
	}
	y, err := readChannel(rec, "y")
	if err != nil {
		return Tile{}, err
	}

	short := DecodeShortChannel(x1, y1)
	long := DecodeLongChannel(x, y)

	if n := len(short) + len(long); n > 0 {
		tile.Positions = make([]vec.Vec2, 0, n)
		tile.Positions = append(tile.Positions, short...)
		tile.Positions = append(tile.Positions, long...)
	}
	return tile, nil
}

// DecodeShortChannel разбирает пары однобайтовых координат.
func DecodeShortChannel(xs, ys []byte) []vec.Vec2 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n == 0 {
		return nil
	}

	out := make([]vec.Vec2, n)
	for i := 0; i < n; i++ {
		out[i] = vec.Vec2{X: int(xs[i]), Y: int(ys[i])}
	}
	return out
}

// DecodeLongChannel разбирает пары 16-битных big-endian координат.
// Неполная последняя координата (нечётная длина буфера) отбрасывается.
func DecodeLongChannel(xs, ys []byte) []vec.Vec2 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	n /= 2
	if n == 0 {
		return nil
	}

	out := make([]vec.Vec2, n)
	for k := 0; k < n; k++ {
		out[k] = vec.Vec2{
			X: int(xs[2*k])<<8 | int(xs[2*k+1]),
			Y: int(ys[2*k])<<8 | int(ys[2*k+1]),
		}
	}
	return out
}

// readChannel извлекает буфер канала по точному имени поля и распаковывает gzip.
// Отсутствующее поле даёт пустой буфер.
func readChannel(rec *object.Object, field string) ([]byte, error) {
	data, found, err := object.Bytes(rec, field)
	if err != nil {
		return nil, &DecodeError{Field: field, Err: err}
	}
	if !found {
		return nil, nil
	}

	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}

	raw, err := gunzip(data)
	if err != nil {
		logging.LogDecodeError(field, err, data)
		return nil, &DecodeError{Field: field, Err: err}
	}
	return raw, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return raw, nil
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
