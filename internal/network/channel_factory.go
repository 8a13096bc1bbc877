package network

import (
	"fmt"

	"github.com/atillabyte/World/internal/logging"
)

// StandardChannelFactory создаёт сессии по типу транспорта
type StandardChannelFactory struct {
	logger *logging.Logger
}

// NewStandardChannelFactory создаёт новую фабрику сессий
func NewStandardChannelFactory(logger *logging.Logger) *StandardChannelFactory {
	if logger == nil {
		logger = logging.GetNetworkLogger()
	}
	return &StandardChannelFactory{
		logger: logger,
	}
}

// CreateSession создаёт сессию указанного типа с заданной конфигурацией.
// Соединение не устанавливается: это делает Connect.
func (f *StandardChannelFactory) CreateSession(config *ChannelConfig) (Session, error) {
	if config == nil || config.Address == "" {
		return nil, fmt.Errorf("не задан адрес сервера")
	}

	switch config.Type {
	case ChannelKCP:
		return NewKCPSession(config, f.logger), nil
	case ChannelWebSocket:
		return NewWSSession(config, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported channel type: %v", config.Type)
	}
}

// SupportedTypes возвращает список поддерживаемых типов каналов
func (f *StandardChannelFactory) SupportedTypes() []ChannelType {
	return []ChannelType{
		ChannelWebSocket,
		ChannelKCP,
	}
}
