package object

import (
	"encoding/base64"
	"fmt"
	"math"
)

// Lookup возвращает значение поля типа T. Поле ищется без учёта регистра;
// значение другого типа считается отсутствующим.
func Lookup[T any](o *Object, key string) (T, bool) {
	var zero T
	_, v, ok := o.Find(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Get возвращает значение поля типа T или def, если поля нет или тип не совпадает.
func Get[T any](o *Object, key string, def T) T {
	if v, ok := Lookup[T](o, key); ok {
		return v
	}
	return def
}

// Int возвращает целое поле. Допускаются только int64 и целочисленные float64
// (JSON без дробной части), прочие типы дают def.
func Int(o *Object, key string, def int64) int64 {
	_, v, ok := o.Find(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n)
		}
	}
	return def
}

// Bytes извлекает байтовый буфер по точному имени поля. Строки декодируются из base64.
// Возвращает found=false, если поля нет или оно другого типа.
func Bytes(o *Object, key string) (data []byte, found bool, err error) {
	v, ok := o.Value(key)
	if !ok {
		return nil, false, nil
	}
	switch b := v.(type) {
	case []byte:
		return b, true, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, true, fmt.Errorf("поле %q: некорректный base64: %w", key, err)
		}
		return decoded, true, nil
	default:
		return nil, false, nil
	}
}

// ArrayField возвращает вложенный массив по имени (без учёта регистра).
func ArrayField(o *Object, key string) (*Array, bool) {
	a, ok := Lookup[*Array](o, key)
	return a, ok && a != nil
}
