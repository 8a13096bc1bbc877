package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/protocol"
)

// WSSession реализует Session поверх WebSocket: одно JSON-сообщение на кадр.
type WSSession struct {
	handlers

	config *ChannelConfig
	logger *logging.Logger
	header http.Header

	mu            sync.RWMutex
	conn          *websocket.Conn
	stop          chan struct{}
	everConnected bool

	writeMu sync.Mutex
}

// NewWSSession создаёт новую WebSocket-сессию
func NewWSSession(config *ChannelConfig, logger *logging.Logger) *WSSession {
	return &WSSession{
		config: config,
		logger: logger,
		header: http.Header{},
	}
}

// SetHeader задаёт заголовок, отправляемый при рукопожатии
func (ws *WSSession) SetHeader(key, value string) {
	ws.header.Set(key, value)
}

// Connect устанавливает соединение с сервером
func (ws *WSSession) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  ws.config.Timeout,
		EnableCompression: ws.config.Compression,
	}
	conn, _, err := dialer.DialContext(ctx, ws.config.Address, ws.header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", ws.config.Address, err)
	}
	if ws.config.ReadLimit > 0 {
		conn.SetReadLimit(ws.config.ReadLimit)
	}

	ws.conn = conn
	ws.stop = make(chan struct{})
	if ws.everConnected {
		atomic.AddUint64(&ws.reconnects, 1)
	}
	ws.everConnected = true

	go ws.receiveLoop(conn)
	if ws.config.KeepAlive > 0 {
		go ws.keepAliveLoop(conn, ws.stop)
	}

	ws.logger.Info("WebSocket session connected: url=%s", ws.config.Address)
	return nil
}

// Send отправляет сообщение, не дожидаясь ответа
func (ws *WSSession) Send(msg protocol.Message) error {
	ws.mu.RLock()
	conn := ws.conn
	ws.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	ws.writeMu.Lock()
	if ws.config.Timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(ws.config.Timeout))
	}
	err = conn.WriteMessage(websocket.TextMessage, data)
	ws.writeMu.Unlock()

	if err != nil {
		ws.drop(conn, err)
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	ws.markSent()
	return nil
}

// Connected проверяет состояние соединения
func (ws *WSSession) Connected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.conn != nil
}

// Disconnect закрывает соединение
func (ws *WSSession) Disconnect() error {
	ws.mu.Lock()
	conn := ws.conn
	ws.conn = nil
	if ws.stop != nil {
		close(ws.stop)
		ws.stop = nil
	}
	ws.mu.Unlock()

	if conn == nil {
		return nil
	}

	ws.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ws.writeMu.Unlock()

	err := conn.Close()
	ws.emitDisconnect(nil)
	ws.logger.Info("WebSocket session closed")
	return err
}

// Stats возвращает статистику соединения
func (ws *WSSession) Stats() ConnectionStats {
	return ws.stats(ws.Connected(), ws.config.Address)
}

func (ws *WSSession) receiveLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			ws.drop(conn, err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.logger.Warn("Failed to decode message: %v", err)
			continue
		}
		ws.emitMessage(msg)
	}
}

func (ws *WSSession) keepAliveLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(ws.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ws.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.config.KeepAlive))
			ws.writeMu.Unlock()
			if err != nil {
				ws.drop(conn, err)
				return
			}
		}
	}
}

// drop закрывает соединение после ошибки; повторные вызовы для старого соединения игнорируются
func (ws *WSSession) drop(conn *websocket.Conn, cause error) {
	ws.mu.Lock()
	if ws.conn != conn {
		ws.mu.Unlock()
		return
	}
	ws.conn = nil
	if ws.stop != nil {
		close(ws.stop)
		ws.stop = nil
	}
	ws.mu.Unlock()

	_ = conn.Close()
	ws.logger.Warn("WebSocket session lost: %v", cause)
	ws.emitDisconnect(cause)
}
