package object

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Normalize приводит произвольное Go-значение к каноническому типу документа.
// Map-ключи упорядочиваются по алфавиту, так как Go не хранит порядок map.
func Normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *Object, *Array:
		return t, nil
	case bool, string, int64, float64:
		return t, nil
	case []byte:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return Normalize(uint64(t))
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("некорректное число %q: %w", t.String(), err)
		}
		return f, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o := New()
		for _, k := range keys {
			nv, err := Normalize(t[k])
			if err != nil {
				return nil, fmt.Errorf("поле %q: %w", k, err)
			}
			o.Set(k, nv)
		}
		return o, nil
	case []interface{}:
		a := &Array{items: make([]interface{}, 0, len(t))}
		for i, item := range t {
			nv, err := Normalize(item)
			if err != nil {
				return nil, fmt.Errorf("элемент %d: %w", i, err)
			}
			a.Append(nv)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("неподдерживаемый тип значения %T", v)
	}
}

// FromMap строит объект из map. Удобно для тестов и адаптеров хранилищ.
func FromMap(m map[string]interface{}) (*Object, error) {
	v, err := Normalize(m)
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}

// MustFromMap как FromMap, но паникует при ошибке.
func MustFromMap(m map[string]interface{}) *Object {
	o, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return o
}

// ToInterface разворачивает значение обратно в map[string]interface{} / []interface{}.
// Нужен драйверам, которые не знают про Object (Mongo, JSON-логи).
func ToInterface(v interface{}) interface{} {
	switch t := v.(type) {
	case *Object:
		if t == nil {
			return nil
		}
		m := make(map[string]interface{}, t.Len())
		t.Range(func(k string, val interface{}) bool {
			m[k] = ToInterface(val)
			return true
		})
		return m
	case *Array:
		if t == nil {
			return nil
		}
		out := make([]interface{}, 0, t.Len())
		for _, item := range t.items {
			out = append(out, ToInterface(item))
		}
		return out
	default:
		return t
	}
}
