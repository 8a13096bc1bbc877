package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/atillabyte/World/internal/object"
)

// Типы команд протокола игрового сервера
const (
	TypeInit  = "init"  // Запрос/ответ инициализации сессии
	TypeSave  = "save"  // Команда сохранения мира
	TypeSaved = "saved" // Подтверждение сохранения
	TypeBlock = "b"     // Размещение блока: layer, x, y, type, доп. свойства
)

// Message - команда протокола: строковый тип и упорядоченный список аргументов.
// Аргументы хранятся в канонических типах object: int64, float64, bool, string,
// []byte, *object.Object, *object.Array и nil.
type Message struct {
	Type string        `json:"type"`
	Args []interface{} `json:"args"`
}

// NewMessage создаёт сообщение, приводя аргументы к каноническим типам.
// Неподдерживаемые типы аргументов - ошибка программиста, поэтому здесь паника.
func NewMessage(msgType string, args ...interface{}) Message {
	msg := Message{Type: msgType, Args: make([]interface{}, 0, len(args))}
	for i, a := range args {
		v, err := object.Normalize(a)
		if err != nil {
			panic(fmt.Sprintf("protocol: аргумент %d сообщения %q: %v", i, msgType, err))
		}
		msg.Args = append(msg.Args, v)
	}
	return msg
}

// Is сравнивает тип сообщения без учёта регистра.
func (m Message) Is(msgType string) bool {
	return strings.EqualFold(m.Type, msgType)
}

// Int возвращает целый аргумент по индексу.
func (m Message) Int(i int) (int64, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	switch n := m.Args[i].(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	}
	return 0, false
}

// String возвращает строковый аргумент по индексу.
func (m Message) String(i int) (string, bool) {
	if i < 0 || i >= len(m.Args) {
		return "", false
	}
	s, ok := m.Args[i].(string)
	return s, ok
}

// Summary - короткое описание сообщения для логов.
func (m Message) Summary() string {
	return fmt.Sprintf("%s%v", m.Type, m.Args)
}

// MarshalJSON кодирует сообщение как {"type": ..., "args": [...]}; nil-аргументы
// дают пустой массив, а не null.
func (m Message) MarshalJSON() ([]byte, error) {
	args := m.Args
	if args == nil {
		args = []interface{}{}
	}
	return json.Marshal(struct {
		Type string        `json:"type"`
		Args []interface{} `json:"args"`
	}{m.Type, args})
}

// UnmarshalJSON декодирует сообщение, сохраняя целые числа как int64.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string        `json:"type"`
		Args []interface{} `json:"args"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	m.Type = raw.Type
	m.Args = make([]interface{}, 0, len(raw.Args))
	for i, a := range raw.Args {
		v, err := object.Normalize(a)
		if err != nil {
			return fmt.Errorf("аргумент %d: %w", i, err)
		}
		m.Args = append(m.Args, v)
	}
	return nil
}
