package object

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ParseJSON разбирает JSON-документ в Object с сохранением порядка полей.
func ParseJSON(data []byte) (*Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	o, ok := v.(*Object)
	if !ok || o == nil {
		return nil, fmt.Errorf("ожидался JSON-объект, получен %T", v)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("лишние данные после JSON-объекта")
	}
	return o, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			o := New()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("ожидался ключ объекта, получен %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, fmt.Errorf("поле %q: %w", key, err)
				}
				o.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return o, nil
		case '[':
			a := NewArray()
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				a.Append(val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return a, nil
		default:
			return nil, fmt.Errorf("неожиданный разделитель %v", t)
		}
	case json.Number:
		return Normalize(t)
	case string, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("неожиданный токен %v", tok)
	}
}

// MarshalJSON пишет поля в порядке вставки. Байтовые буферы кодируются в base64.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, fmt.Errorf("поле %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON позволяет встраивать Object в структуры.
func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// MarshalJSON пишет элементы массива; пустые слоты становятся null.
func (a *Array) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range a.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		vb, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("элемент %d: %w", i, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
