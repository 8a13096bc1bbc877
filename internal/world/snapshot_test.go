package world

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/vec"
	"github.com/atillabyte/World/internal/world/block"
)

func TestSnapshot_MetadataDefaults(t *testing.T) {
	snap := NewSnapshot(nil, nil)

	assert.Equal(t, DefaultWorldName, snap.Name())
	assert.Equal(t, 200, snap.Width())
	assert.Equal(t, 200, snap.Height())
	assert.Equal(t, color.NRGBA{A: 255}, snap.BackgroundColor())
	assert.False(t, snap.Visible())
}

func TestSnapshot_MetadataAccessors(t *testing.T) {
	meta := object.New().
		Set("name", "Arena").
		Set("owner", "someone").
		Set("width", int64(100)).
		Set("height", int64(400)).
		Set("plays", int64(12)).
		Set("Likes", int64(5)).
		Set("backgroundColor", int64(0x336699)).
		Set("HideLobby", true)
	snap := NewSnapshot(meta, nil)

	assert.Equal(t, "Arena", snap.Name())
	assert.Equal(t, "someone", snap.Owner())
	assert.Equal(t, 100, snap.Width())
	assert.Equal(t, 400, snap.Height(), "ширина и высота читаются из своих полей")
	assert.Equal(t, int64(12), snap.Plays())
	assert.Equal(t, int64(5), snap.Likes())
	assert.True(t, snap.HideLobby())
	assert.Equal(t, color.NRGBA{R: 0x33, G: 0x66, B: 0x99, A: 255}, snap.BackgroundColor())
}

func TestSnapshot_CopiesInputs(t *testing.T) {
	meta := object.New().Set("name", "Before")
	tiles := []Tile{{Type: block.BasicGrayBlockID}}
	snap := NewSnapshot(meta, tiles)

	meta.Set("name", "After")
	tiles[0].Type = block.CoinBlockID

	assert.Equal(t, "Before", snap.Name())
	assert.Equal(t, block.BasicGrayBlockID, snap.Tile(0).Type)

	got := snap.Tiles()
	got[0].Type = block.SpikeBlockID
	assert.Equal(t, block.BasicGrayBlockID, snap.Tile(0).Type)
}

func TestNewTile_RoundTripsThroughDocument(t *testing.T) {
	positions := []vec.Vec2{{X: 0, Y: 0}, {X: 300, Y: 2}, {X: 65535, Y: 1}}
	extras := object.New().Set("text", "hello").Set("x", "ignored")

	tile, err := NewTile(block.SignBlockID, LayerForeground, extras, positions)
	require.NoError(t, err)
	assert.Equal(t, "hello", tile.Text())
	assert.Equal(t, []string{"text"}, tile.Extras().Keys())

	snap := NewSnapshot(object.New().Set("name", "Round"), []Tile{tile})
	data, err := snap.MarshalJSON()
	require.NoError(t, err)

	back, err := ParseJSON(data)
	require.NoError(t, err)
	require.Equal(t, 1, back.Len())
	assert.Equal(t, positions, back.Tile(0).Positions)
	assert.Equal(t, block.SignBlockID, back.Tile(0).Type)
	assert.Equal(t, "Round", back.Name())
}

func TestNewTile_RejectsOutOfRange(t *testing.T) {
	_, err := NewTile(block.BasicGrayBlockID, LayerForeground, nil, []vec.Vec2{{X: 70000, Y: 0}})
	assert.Error(t, err)

	_, err = NewTile(block.BasicGrayBlockID, LayerForeground, nil, []vec.Vec2{{X: -1, Y: 0}})
	assert.Error(t, err)
}

func TestTile_Accessors(t *testing.T) {
	tile, err := DecodeTile(object.New().
		Set("type", int64(242)).
		Set("Rotation", int64(2)).
		Set("id", int64(7)).
		Set("target", int64(8)).
		Set("x1", []byte{3}).
		Set("y1", []byte{4}))
	require.NoError(t, err)

	assert.Equal(t, int64(2), tile.Rotation(), "свойства ищутся без учёта регистра")
	assert.Equal(t, int64(7), tile.ID())
	assert.Equal(t, int64(8), tile.Target())
	assert.True(t, tile.Occupies(vec.Vec2{X: 3, Y: 4}))
	assert.False(t, tile.Occupies(vec.Vec2{X: 4, Y: 3}))
}
