package logging

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Компоненты worldsync с собственными логгерами
const (
	ComponentSync    = "sync"
	ComponentStore   = "store"
	ComponentNetwork = "network"
	ComponentAPI     = "api"
)

// LoggerManager хранит логгеры компонентов; уровень задаётся сразу для всех
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	console LogLevel
	file    LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager()
	})
	return globalManager
}

func newLoggerManager() *LoggerManager {
	return &LoggerManager{
		loggers: make(map[string]*Logger),
		console: INFO,
		file:    DEBUG,
	}
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, ok := lm.loggers[component]; ok {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, ok := lm.loggers[component]; ok {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", component, err)
	}
	logger.SetLevels(lm.console, lm.file)
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger при ошибке (например, недоступна директория логов) пишет только в stdout
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		lm.mu.RLock()
		console := lm.console
		lm.mu.RUnlock()
		return &Logger{
			component:       component,
			consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
			minConsoleLevel: console,
			minFileLevel:    ERROR,
		}
	}
	return logger
}

// SetLevels меняет пороги у существующих и будущих логгеров
func (lm *LoggerManager) SetLevels(console, file LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.console, lm.file = console, file
	for _, logger := range lm.loggers {
		logger.SetLevels(console, file)
	}
}

// Components возвращает имена созданных логгеров по алфавиту
func (lm *LoggerManager) Components() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		out = append(out, component)
	}
	sort.Strings(out)
	return out
}

// CloseAll закрывает файлы всех логгеров и забывает их
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetSyncLogger() *Logger    { return GetComponentLogger(ComponentSync) }
func GetStoreLogger() *Logger   { return GetComponentLogger(ComponentStore) }
func GetNetworkLogger() *Logger { return GetComponentLogger(ComponentNetwork) }
func GetAPILogger() *Logger     { return GetComponentLogger(ComponentAPI) }
