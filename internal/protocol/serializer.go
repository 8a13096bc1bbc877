package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atillabyte/World/internal/object"
)

// MaxFrameSize ограничивает размер одного кадра бинарного транспорта
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge возвращается при попытке прочитать или записать слишком большой кадр
var ErrFrameTooLarge = errors.New("кадр превышает допустимый размер")

// MessageSerializer кодирует сообщения в Protocol Buffers (google.protobuf.ListValue):
// первый элемент - тип, далее аргументы.
type MessageSerializer struct{}

// NewMessageSerializer создает новый сериализатор сообщений
func NewMessageSerializer() *MessageSerializer {
	return &MessageSerializer{}
}

// SerializeMessage сериализует сообщение в формат Protocol Buffers
func (ms *MessageSerializer) SerializeMessage(msg Message) ([]byte, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(msg.Args)+1)}
	list.Values = append(list.Values, structpb.NewStringValue(msg.Type))

	for i, a := range msg.Args {
		v, err := toValue(a)
		if err != nil {
			return nil, fmt.Errorf("аргумент %d: %w", i, err)
		}
		list.Values = append(list.Values, v)
	}

	data, err := proto.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сообщения: %w", err)
	}
	return data, nil
}

// DeserializeMessage десериализует сообщение. Целые числа возвращаются как int64.
func (ms *MessageSerializer) DeserializeMessage(data []byte) (Message, error) {
	list := &structpb.ListValue{}
	if err := proto.Unmarshal(data, list); err != nil {
		return Message{}, fmt.Errorf("ошибка десериализации сообщения: %w", err)
	}
	if len(list.Values) == 0 {
		return Message{}, errors.New("пустое сообщение")
	}

	msgType, ok := list.Values[0].Kind.(*structpb.Value_StringValue)
	if !ok {
		return Message{}, errors.New("тип сообщения должен быть строкой")
	}

	msg := Message{Type: msgType.StringValue, Args: make([]interface{}, 0, len(list.Values)-1)}
	for _, v := range list.Values[1:] {
		msg.Args = append(msg.Args, fromValue(v))
	}
	return msg, nil
}

// WriteFrame записывает кадр: 4 байта длины (big-endian) и данные.
func (ms *MessageSerializer) WriteFrame(w io.Writer, msg Message) error {
	payload, err := ms.SerializeMessage(msg)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, 0, 4+len(payload))
	frame = append(frame, WriteUint32(uint32(len(payload)))...)
	frame = append(frame, payload...)
	_, err = w.Write(frame)
	return err
}

// ReadFrame читает один кадр и декодирует сообщение.
func (ms *MessageSerializer) ReadFrame(r io.Reader) (Message, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}

	size := ReadUint32(header)
	if size > MaxFrameSize {
		return Message{}, ErrFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}
	return ms.DeserializeMessage(payload)
}

func toValue(v interface{}) (*structpb.Value, error) {
	switch t := v.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case bool:
		return structpb.NewBoolValue(t), nil
	case string:
		return structpb.NewStringValue(t), nil
	case int64:
		return structpb.NewNumberValue(float64(t)), nil
	case float64:
		return structpb.NewNumberValue(t), nil
	case []byte:
		return structpb.NewStringValue(base64.StdEncoding.EncodeToString(t)), nil
	case *object.Object:
		fields := make(map[string]*structpb.Value, t.Len())
		var err error
		t.Range(func(k string, item interface{}) bool {
			var fv *structpb.Value
			fv, err = toValue(item)
			if err != nil {
				err = fmt.Errorf("поле %q: %w", k, err)
				return false
			}
			fields[k] = fv
			return true
		})
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: fields}), nil
	case *object.Array:
		list := &structpb.ListValue{}
		for i, item := range t.Items() {
			iv, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("элемент %d: %w", i, err)
			}
			list.Values = append(list.Values, iv)
		}
		return structpb.NewListValue(list), nil
	default:
		nv, err := object.Normalize(v)
		if err != nil {
			return nil, err
		}
		return toValue(nv)
	}
}

func fromValue(v *structpb.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case *structpb.Value_StructValue:
		// Порядок полей Struct не сохраняется, поэтому используем алфавитный
		m := make(map[string]interface{}, len(k.StructValue.GetFields()))
		for name, fv := range k.StructValue.GetFields() {
			m[name] = fromValue(fv)
		}
		o, _ := object.FromMap(m)
		return o
	case *structpb.Value_ListValue:
		a := object.NewArray()
		for _, item := range k.ListValue.GetValues() {
			a.Append(fromValue(item))
		}
		return a
	default:
		return nil
	}
}

// Вспомогательные функции для работы с бинарными данными

// WriteUint32 записывает uint32 в big-endian формате
func WriteUint32(val uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, val)
	return b
}

// ReadUint32 читает uint32 из big-endian формата
func ReadUint32(data []byte) uint32 {
	return binary.BigEndian.Uint32(data)
}
