package object

import (
	"encoding/base64"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_PreservesInsertionOrder(t *testing.T) {
	o := New().Set("type", int64(385)).Set("text", "hi").Set("signtype", int64(2))
	o.Set("type", int64(1)) // перезапись не меняет позицию

	assert.Equal(t, []string{"type", "text", "signtype"}, o.Keys())
	assert.Equal(t, int64(1), Get(o, "type", int64(0)))

	o.Delete("text")
	assert.Equal(t, []string{"type", "signtype"}, o.Keys())
}

func TestGet_CaseInsensitiveAndTyped(t *testing.T) {
	o := New().Set("Rotation", int64(3)).Set("name", "world")

	assert.Equal(t, int64(3), Get(o, "rotation", int64(-1)))
	assert.True(t, o.Has("ROTATION", false))
	assert.False(t, o.Has("rotation", true))

	// Тип не совпадает - возвращается значение по умолчанию, без приведения
	assert.Equal(t, "fallback", Get(o, "rotation", "fallback"))
	assert.Equal(t, int64(7), Get(o, "name", int64(7)))
}

func TestInt_AcceptsIntegralFloats(t *testing.T) {
	o := New().Set("a", float64(12)).Set("b", 1.5).Set("c", "12")

	assert.Equal(t, int64(12), Int(o, "a", 0))
	assert.Equal(t, int64(-1), Int(o, "b", -1))
	assert.Equal(t, int64(-1), Int(o, "c", -1))
	assert.Equal(t, int64(9), Int(o, "missing", 9))
}

func TestBytes_DecodesBase64Strings(t *testing.T) {
	raw := []byte{0x00, 0x05, 0xff}
	o := New().
		Set("x", base64.StdEncoding.EncodeToString(raw)).
		Set("y", raw).
		Set("bad", "@@not base64@@").
		Set("num", int64(5))

	got, found, err := Bytes(o, "x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, raw, got)

	got, found, err = Bytes(o, "y")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, raw, got)

	_, found, err = Bytes(o, "bad")
	assert.True(t, found)
	assert.Error(t, err)

	_, found, err = Bytes(o, "num")
	assert.NoError(t, err)
	assert.False(t, found)

	// Буферы ищутся по точному имени
	_, found, _ = Bytes(o, "X")
	assert.False(t, found)
}

func TestParseJSON_OrderAndNumbers(t *testing.T) {
	doc, err := ParseJSON([]byte(`{"name":"Test","width":25,"ratio":0.5,"visible":true,
		"worlddata":[{"type":9,"layer":0,"x":"AAU="},null,{}]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "width", "ratio", "visible", "worlddata"}, doc.Keys())
	assert.Equal(t, int64(25), Get(doc, "width", int64(0)))
	assert.Equal(t, 0.5, Get(doc, "ratio", 0.0))
	assert.True(t, Get(doc, "visible", false))

	arr, ok := ArrayField(doc, "worlddata")
	require.True(t, ok)
	assert.Equal(t, 3, arr.Len())
	assert.Nil(t, arr.At(1))

	first, ok := arr.Object(0)
	require.True(t, ok)
	assert.Equal(t, int64(9), Get(first, "type", int64(0)))
}

func TestParseJSON_RejectsNonObject(t *testing.T) {
	_, err := ParseJSON([]byte(`[1,2,3]`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestMarshalJSON_RoundTrip(t *testing.T) {
	src := New().
		Set("z", int64(1)).
		Set("a", "text").
		Set("buf", []byte{1, 2, 3}).
		Set("nested", NewArray(New().Set("k", true), nil))

	data, err := src.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"text","buf":"AQID","nested":[{"k":true},null]}`, string(data))

	back, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, src.Keys(), back.Keys())

	buf, found, err := Bytes(back, "buf")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}

func TestNormalize_Map(t *testing.T) {
	o, err := FromMap(map[string]interface{}{
		"b":    uint32(4),
		"a":    float32(1.5),
		"list": []interface{}{1, "two"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "list"}, o.Keys())
	assert.Equal(t, int64(4), Get(o, "b", int64(0)))
	assert.Equal(t, 1.5, Get(o, "a", 0.0))

	list, ok := ArrayField(o, "list")
	require.True(t, ok)
	assert.Equal(t, int64(1), list.At(0))

	_, err = FromMap(map[string]interface{}{"bad": struct{}{}})
	assert.Error(t, err)
}

func TestWithout_FiltersCaseInsensitive(t *testing.T) {
	o := New().Set("Type", int64(1)).Set("layer", int64(0)).Set("text", "x").Set("X1", []byte{})
	rest := o.Without("type", "layer", "x1")
	assert.Equal(t, []string{"text"}, rest.Keys())
	// исходный объект не меняется
	assert.Equal(t, 4, o.Len())
}

func TestWithoutExact_KeepsOtherCase(t *testing.T) {
	o := New().Set("type", int64(1)).Set("X", int64(7)).Set("x", []byte{0, 1}).Set("Layer", int64(0))
	rest := o.WithoutExact("type", "layer", "x")
	assert.Equal(t, []string{"X", "Layer"}, rest.Keys())
}

func TestNormalize_LargeUnsignedBecomesFloat(t *testing.T) {
	v, err := Normalize(uint64(math.MaxUint64))
	require.NoError(t, err)
	assert.Equal(t, float64(math.MaxUint64), v)

	v, err = Normalize(uint64(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), v)

	v, err = Normalize(uint(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}
