package network

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/atillabyte/World/internal/protocol"
)

// Responder возвращает ответы сервера на отправленное сообщение
type Responder func(msg protocol.Message) []protocol.Message

// DefaultResponder отвечает на init и save так, как это делает игровой сервер
func DefaultResponder(msg protocol.Message) []protocol.Message {
	switch {
	case msg.Is(protocol.TypeInit):
		return []protocol.Message{protocol.NewMessage(protocol.TypeInit)}
	case msg.Is(protocol.TypeSave):
		return []protocol.Message{protocol.NewMessage(protocol.TypeSaved)}
	}
	return nil
}

// MockSession - сессия в памяти для тестов и демонстраций.
// Все отправленные сообщения записываются; ответы Responder доставляются асинхронно,
// как их доставил бы сетевой транспорт.
type MockSession struct {
	handlers

	mu          sync.Mutex
	connected   bool
	sent        []protocol.Message
	connects    int
	disconnects int

	responder Responder
	onSend    func(s *MockSession, msg protocol.Message)
	pending   sync.WaitGroup
}

// NewMockSession создаёт подключённую сессию с DefaultResponder
func NewMockSession() *MockSession {
	return &MockSession{
		connected: true,
		responder: DefaultResponder,
	}
}

// SetResponder заменяет генератор ответов; nil отключает ответы
func (m *MockSession) SetResponder(r Responder) *MockSession {
	m.mu.Lock()
	m.responder = r
	m.mu.Unlock()
	return m
}

// SetOnSend задаёт хук, вызываемый синхронно при каждой отправке
func (m *MockSession) SetOnSend(fn func(s *MockSession, msg protocol.Message)) *MockSession {
	m.mu.Lock()
	m.onSend = fn
	m.mu.Unlock()
	return m
}

// Connect помечает сессию подключённой
func (m *MockSession) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.connected = true
	m.connects++
	again := m.connects > 1
	m.mu.Unlock()
	if again {
		atomic.AddUint64(&m.reconnects, 1)
	}
	return nil
}

// Send записывает сообщение и планирует ответы
func (m *MockSession) Send(msg protocol.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	hook := m.onSend
	responder := m.responder
	m.mu.Unlock()

	m.markSent()
	if hook != nil {
		hook(m, msg)
	}
	if responder == nil {
		return nil
	}

	if replies := responder(msg); len(replies) > 0 {
		m.pending.Add(1)
		go func() {
			defer m.pending.Done()
			for _, r := range replies {
				m.emitMessage(r)
			}
		}()
	}
	return nil
}

// Deliver передаёт сообщение обработчику, как если бы его прислал сервер
func (m *MockSession) Deliver(msg protocol.Message) {
	m.emitMessage(msg)
}

// Connected возвращает флаг подключения
func (m *MockSession) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetConnected меняет флаг подключения без уведомления обработчиков
func (m *MockSession) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// Disconnect закрывает сессию и уведомляет обработчик
func (m *MockSession) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.disconnects++
	m.mu.Unlock()
	m.emitDisconnect(nil)
	return nil
}

// Drop имитирует потерю соединения со стороны сервера
func (m *MockSession) Drop(cause error) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.emitDisconnect(cause)
}

// Sent возвращает копию отправленных сообщений
func (m *MockSession) Sent() []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// Count возвращает число отправленных сообщений указанного типа
func (m *MockSession) Count(msgType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sent {
		if msg.Is(msgType) {
			n++
		}
	}
	return n
}

// Connects возвращает число вызовов Connect
func (m *MockSession) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Disconnects возвращает число вызовов Disconnect
func (m *MockSession) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// Wait дожидается доставки всех запланированных ответов
func (m *MockSession) Wait() {
	m.pending.Wait()
}

// Stats возвращает статистику сессии
func (m *MockSession) Stats() ConnectionStats {
	return m.stats(m.Connected(), "mock")
}
