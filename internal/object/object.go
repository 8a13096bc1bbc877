// Package object описывает удалённый документ хранилища миров: упорядоченное дерево
// именованных полей, листья которого - скаляры, байтовые буферы, вложенные объекты и массивы.
//
// Значения хранятся в канонических типах: int64, float64, bool, string, []byte,
// *Object, *Array и nil. Источники (JSON, BSON, SQL) приводят свои числа к int64/float64
// при загрузке, поэтому типизированный доступ через Get[T] никогда не делает неявных
// преобразований.
package object

import (
	"strings"
)

// Object - упорядоченный набор полей. Порядок вставки сохраняется, он важен для
// порядка дополнительных свойств в исходящих сообщениях.
type Object struct {
	keys   []string
	values map[string]interface{}
}

// New создаёт пустой объект.
func New() *Object {
	return &Object{values: make(map[string]interface{})}
}

// Set записывает значение. Повторная запись существующего ключа сохраняет его позицию.
func (o *Object) Set(key string, value interface{}) *Object {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

// Value возвращает значение по точному имени.
func (o *Object) Value(key string) (interface{}, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Find ищет поле без учёта регистра. Точное совпадение имеет приоритет.
func (o *Object) Find(key string) (string, interface{}, bool) {
	if o == nil {
		return "", nil, false
	}
	if v, ok := o.values[key]; ok {
		return key, v, true
	}
	for _, k := range o.keys {
		if strings.EqualFold(k, key) {
			return k, o.values[k], true
		}
	}
	return "", nil, false
}

// Has проверяет наличие поля; sensitive управляет учётом регистра.
func (o *Object) Has(key string, sensitive bool) bool {
	if sensitive {
		_, ok := o.Value(key)
		return ok
	}
	_, _, ok := o.Find(key)
	return ok
}

// Delete удаляет поле, сохраняя порядок остальных.
func (o *Object) Delete(key string) {
	if _, exists := o.values[key]; !exists {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys возвращает имена полей в порядке вставки.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len возвращает количество полей.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Range обходит поля по порядку, пока fn возвращает true.
func (o *Object) Range(fn func(key string, value interface{}) bool) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}

// Clone делает поверхностную копию: вложенные объекты и массивы разделяются.
func (o *Object) Clone() *Object {
	c := New()
	o.Range(func(k string, v interface{}) bool {
		c.Set(k, v)
		return true
	})
	return c
}

// Without возвращает копию без перечисленных полей (сравнение без учёта регистра).
func (o *Object) Without(names ...string) *Object {
	return o.filter(names, strings.EqualFold)
}

// WithoutExact возвращает копию без полей с точно совпадающими именами.
func (o *Object) WithoutExact(names ...string) *Object {
	return o.filter(names, func(a, b string) bool { return a == b })
}

func (o *Object) filter(names []string, match func(a, b string) bool) *Object {
	c := New()
	o.Range(func(k string, v interface{}) bool {
		for _, n := range names {
			if match(k, n) {
				return true
			}
		}
		c.Set(k, v)
		return true
	})
	return c
}

// Array - упорядоченный список значений. nil-элементы соответствуют пустым слотам
// разреженного массива хранилища.
type Array struct {
	items []interface{}
}

// NewArray создаёт массив из значений.
func NewArray(items ...interface{}) *Array {
	return &Array{items: items}
}

// Append добавляет значение в конец.
func (a *Array) Append(v interface{}) *Array {
	a.items = append(a.items, v)
	return a
}

// Len возвращает длину массива (включая пустые слоты).
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

// At возвращает элемент по индексу; за пределами массива - nil.
func (a *Array) At(i int) interface{} {
	if a == nil || i < 0 || i >= len(a.items) {
		return nil
	}
	return a.items[i]
}

// Object возвращает элемент как *Object, если он им является.
func (a *Array) Object(i int) (*Object, bool) {
	o, ok := a.At(i).(*Object)
	return o, ok && o != nil
}

// Items возвращает копию элементов.
func (a *Array) Items() []interface{} {
	if a == nil {
		return nil
	}
	out := make([]interface{}, len(a.items))
	copy(out, a.items)
	return out
}
