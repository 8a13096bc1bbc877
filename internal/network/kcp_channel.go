package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/protocol"
)

// KCPSession реализует Session поверх KCP (надёжный UDP).
// Сообщения передаются кадрами: 4 байта длины и protobuf-представление сообщения.
type KCPSession struct {
	handlers

	config     *ChannelConfig
	logger     *logging.Logger
	serializer *protocol.MessageSerializer

	mu            sync.RWMutex
	conn          *kcp.UDPSession
	everConnected bool

	writeMu sync.Mutex
}

// NewKCPSession создаёт новую KCP-сессию
func NewKCPSession(config *ChannelConfig, logger *logging.Logger) *KCPSession {
	return &KCPSession{
		config:     config,
		logger:     logger,
		serializer: protocol.NewMessageSerializer(),
	}
}

// Connect устанавливает соединение с сервером
func (ks *KCPSession) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.conn != nil {
		return nil
	}

	conn, err := kcp.DialWithOptions(ks.config.Address, nil, ks.config.DataShards, ks.config.ParityShards)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", ks.config.Address, err)
	}

	// Потоковый режим: кадры собираются из байтового потока
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)

	ks.conn = conn
	if ks.everConnected {
		atomic.AddUint64(&ks.reconnects, 1)
	}
	ks.everConnected = true

	go ks.receiveLoop(conn)

	ks.logger.Info("KCP session connected: addr=%s", ks.config.Address)
	return nil
}

// Send отправляет сообщение, не дожидаясь ответа
func (ks *KCPSession) Send(msg protocol.Message) error {
	ks.mu.RLock()
	conn := ks.conn
	ks.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	ks.writeMu.Lock()
	if ks.config.Timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(ks.config.Timeout))
	}
	err := ks.serializer.WriteFrame(conn, msg)
	ks.writeMu.Unlock()

	if err != nil {
		ks.drop(conn, err)
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	ks.markSent()
	return nil
}

// Connected проверяет состояние соединения
func (ks *KCPSession) Connected() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.conn != nil
}

// Disconnect закрывает соединение
func (ks *KCPSession) Disconnect() error {
	ks.mu.Lock()
	conn := ks.conn
	ks.conn = nil
	ks.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	ks.emitDisconnect(nil)
	ks.logger.Info("KCP session closed")
	return err
}

// Stats возвращает статистику соединения
func (ks *KCPSession) Stats() ConnectionStats {
	return ks.stats(ks.Connected(), ks.config.Address)
}

// receiveLoop читает кадры до закрытия соединения
func (ks *KCPSession) receiveLoop(conn *kcp.UDPSession) {
	for {
		msg, err := ks.serializer.ReadFrame(conn)
		if err != nil {
			ks.drop(conn, err)
			return
		}
		ks.emitMessage(msg)
	}
}

// drop закрывает соединение после ошибки; повторные вызовы для старого соединения игнорируются
func (ks *KCPSession) drop(conn *kcp.UDPSession, cause error) {
	ks.mu.Lock()
	if ks.conn != conn {
		ks.mu.Unlock()
		return
	}
	ks.conn = nil
	ks.mu.Unlock()

	_ = conn.Close()
	ks.logger.Warn("KCP session lost: %v", cause)
	ks.emitDisconnect(cause)
}
