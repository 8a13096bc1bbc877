package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/atillabyte/World/internal/logging"
)

const (
	defaultInvalidateSubject = "worldsync.cache.invalidate"

	// тело сообщения - сам ключ, узел-отправитель передаётся заголовком
	headerNode = "Worldsync-Node"
)

// InvalidatorConfig - настройки рассылки инвалидаций через NATS.
type InvalidatorConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	// Повторы одного ключа внутри окна не рассылаются и не обрабатываются
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

func (c *InvalidatorConfig) applyDefaults() {
	if c.Subject == "" {
		c.Subject = defaultInvalidateSubject
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = time.Second
	}
}

// InvalidatorStats - счётчики рассылки
type InvalidatorStats struct {
	Published int64 `json:"published"`
	Received  int64 `json:"received"`
	Errors    int64 `json:"errors"`
	Connected bool  `json:"connected"`
}

// NATSInvalidator рассылает ключи сброшенных документов между узлами.
// Узел, перечитавший мир после save, сбрасывает его копии в кешах остальных узлов.
type NATSInvalidator struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	recent  *recentKeys

	mu      sync.Mutex
	sub     *nats.Subscription
	handler InvalidationHandler

	published atomic.Int64
	received  atomic.Int64
	errors    atomic.Int64
}

// NewNATSInvalidator подключается к NATS. Пустой nodeID заменяется случайным UUID.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	config.applyDefaults()
	log := logging.GetStoreLogger()

	conn, err := nats.Connect(config.NATSURL,
		nats.Name("worldsync-cache"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS: соединение потеряно: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS: переподключено к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", config.NATSURL, err)
	}

	inv := newInvalidator(conn, config, nodeID)
	log.Info("📡 Инвалидации кеша: %s, subject %s, узел %s", config.NATSURL, inv.subject, inv.nodeID)
	return inv, nil
}

func newInvalidator(conn *nats.Conn, config *InvalidatorConfig, nodeID string) *NATSInvalidator {
	config.applyDefaults()
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &NATSInvalidator{
		conn:    conn,
		subject: config.Subject,
		nodeID:  nodeID,
		recent:  newRecentKeys(config.DedupeWindow),
	}
}

func (n *NATSInvalidator) NodeID() string { return n.nodeID }

// PublishInvalidation рассылает ключ остальным узлам.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.recent.add(key, time.Now()) {
		return nil
	}

	if err := n.conn.PublishMsg(n.message(key)); err != nil {
		n.errors.Add(1)
		return fmt.Errorf("publish invalidation %s: %w", key, err)
	}
	n.published.Add(1)
	return nil
}

// SubscribeInvalidations вызывает handler для ключей, сброшенных другими узлами.
// Подписка снимается при отмене ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub != nil {
		return errors.New("cache: already subscribed to invalidations")
	}

	sub, err := n.conn.Subscribe(n.subject, n.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subject, err)
	}
	n.sub, n.handler = sub, handler

	context.AfterFunc(ctx, n.unsubscribe)
	return nil
}

func (n *NATSInvalidator) Close() error {
	n.unsubscribe()
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

func (n *NATSInvalidator) Stats() InvalidatorStats {
	s := InvalidatorStats{
		Published: n.published.Load(),
		Received:  n.received.Load(),
		Errors:    n.errors.Load(),
	}
	if n.conn != nil {
		s.Connected = n.conn.IsConnected()
	}
	return s
}

func (n *NATSInvalidator) message(key string) *nats.Msg {
	msg := nats.NewMsg(n.subject)
	msg.Data = []byte(key)
	msg.Header.Set(headerNode, n.nodeID)
	return msg
}

// handle пропускает собственные сообщения и повторы внутри окна
func (n *NATSInvalidator) handle(msg *nats.Msg) {
	n.received.Add(1)

	key := string(msg.Data)
	if key == "" {
		n.errors.Add(1)
		return
	}
	if msg.Header.Get(headerNode) == n.nodeID || !n.recent.add(key, time.Now()) {
		return
	}

	n.mu.Lock()
	handler := n.handler
	n.mu.Unlock()
	if handler == nil {
		return
	}
	if err := handler(key); err != nil {
		n.errors.Add(1)
		logging.GetStoreLogger().Warn("Инвалидация %s не применена: %v", key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub == nil {
		return
	}
	if err := n.sub.Unsubscribe(); err != nil {
		logging.GetStoreLogger().Warn("Отписка от %s: %v", n.subject, err)
	}
	n.sub = nil
}

// recentKeys помнит ключи на время окна; устаревшие записи вычищаются при вставке
type recentKeys struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	pruned time.Time
}

func newRecentKeys(window time.Duration) *recentKeys {
	return &recentKeys{window: window, seen: make(map[string]time.Time)}
}

// add возвращает false, если ключ уже встречался внутри окна
func (r *recentKeys) add(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.pruned) > r.window {
		for k, ts := range r.seen {
			if now.Sub(ts) >= r.window {
				delete(r.seen, k)
			}
		}
		r.pruned = now
	}

	if ts, ok := r.seen[key]; ok && now.Sub(ts) < r.window {
		return false
	}
	r.seen[key] = now
	return true
}
