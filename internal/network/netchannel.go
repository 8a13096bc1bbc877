// Package network предоставляет сессии с игровым сервером: единый интерфейс
// поверх WebSocket и KCP, а также тестовую сессию в памяти.
package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atillabyte/World/internal/protocol"
)

// ErrNotConnected возвращается при отправке в закрытую сессию
var ErrNotConnected = errors.New("сессия не подключена")

// ChannelType определяет тип канала связи
type ChannelType int

const (
	ChannelWebSocket ChannelType = iota
	ChannelKCP
)

// String возвращает имя транспорта в том виде, в каком оно пишется в конфигурации
func (t ChannelType) String() string {
	switch t {
	case ChannelWebSocket:
		return "ws"
	case ChannelKCP:
		return "kcp"
	default:
		return "unknown"
	}
}

// ParseChannelType разбирает имя транспорта из конфигурации
func ParseChannelType(name string) (ChannelType, error) {
	switch name {
	case "ws", "websocket", "":
		return ChannelWebSocket, nil
	case "kcp":
		return ChannelKCP, nil
	default:
		return 0, errors.New("неизвестный транспорт: " + name)
	}
}

// ConnectionStats содержит статистику соединения
type ConnectionStats struct {
	MessagesSent     uint64    // Отправлено сообщений
	MessagesReceived uint64    // Получено сообщений
	Reconnects       uint64    // Количество повторных подключений
	LastActivity     time.Time // Последняя активность
	Connected        bool      // Статус соединения
	RemoteAddr       string    // Адрес удалённого узла
}

// Session - подключение к игровому серверу от имени целевого мира.
//
// Обработчики вызываются из горутины чтения сессии и не должны блокироваться надолго.
// OnDisconnect вызывается один раз на каждое потерянное соединение, в том числе
// после явного Disconnect. Send не ждёт ответа сервера.
type Session interface {
	Connect(ctx context.Context) error
	Send(msg protocol.Message) error
	OnMessage(handler func(protocol.Message))
	OnDisconnect(handler func(error))
	Connected() bool
	Disconnect() error
	Stats() ConnectionStats
}

// ChannelConfig содержит конфигурацию канала
type ChannelConfig struct {
	Type         ChannelType
	Address      string        // ws://host/path или host:port для KCP
	Timeout      time.Duration // Таймаут подключения и записи
	KeepAlive    time.Duration // Интервал ping для WebSocket
	ReadLimit    int64         // Максимальный размер входящего сообщения
	Compression  bool          // permessage-deflate для WebSocket
	DataShards   int           // FEC для KCP
	ParityShards int
}

// DefaultChannelConfig возвращает конфигурацию канала по умолчанию
func DefaultChannelConfig(channelType ChannelType) *ChannelConfig {
	return &ChannelConfig{
		Type:         channelType,
		Timeout:      30 * time.Second,
		KeepAlive:    10 * time.Second,
		ReadLimit:    protocol.MaxFrameSize,
		DataShards:   10,
		ParityShards: 3,
	}
}

// handlers хранит обработчики событий и статистику, общие для всех сессий
type handlers struct {
	mu           sync.RWMutex
	onMessage    func(protocol.Message)
	onDisconnect func(error)

	sent       uint64
	received   uint64
	reconnects uint64
	lastActive atomic.Int64
}

// OnMessage устанавливает обработчик сообщений
func (h *handlers) OnMessage(handler func(protocol.Message)) {
	h.mu.Lock()
	h.onMessage = handler
	h.mu.Unlock()
}

// OnDisconnect устанавливает обработчик отключения
func (h *handlers) OnDisconnect(handler func(error)) {
	h.mu.Lock()
	h.onDisconnect = handler
	h.mu.Unlock()
}

func (h *handlers) emitMessage(msg protocol.Message) {
	atomic.AddUint64(&h.received, 1)
	h.lastActive.Store(time.Now().UnixNano())

	h.mu.RLock()
	fn := h.onMessage
	h.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (h *handlers) emitDisconnect(err error) {
	h.mu.RLock()
	fn := h.onDisconnect
	h.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (h *handlers) markSent() {
	atomic.AddUint64(&h.sent, 1)
	h.lastActive.Store(time.Now().UnixNano())
}

func (h *handlers) stats(connected bool, addr string) ConnectionStats {
	s := ConnectionStats{
		MessagesSent:     atomic.LoadUint64(&h.sent),
		MessagesReceived: atomic.LoadUint64(&h.received),
		Reconnects:       atomic.LoadUint64(&h.reconnects),
		Connected:        connected,
		RemoteAddr:       addr,
	}
	if ts := h.lastActive.Load(); ts != 0 {
		s.LastActivity = time.Unix(0, ts)
	}
	return s
}
