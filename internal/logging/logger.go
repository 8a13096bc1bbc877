package logging

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает имя уровня из конфигурации. Неизвестные имена дают INFO.
func ParseLevel(name string) LogLevel {
	switch name {
	case "trace", "TRACE":
		return TRACE
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN", "warning":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger пишет сообщения компонента в консоль и (опционально) в файл.
type Logger struct {
	component     string
	consoleLogger *log.Logger
	fileLogger    *log.Logger
	file          *os.File

	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

var (
	// defaultLogger используется функциями пакета (Info, Debug, ...).
	// До InitDefaultLogger все вызовы молча игнорируются.
	defaultLogger *Logger

	logDirMu sync.RWMutex
	logDir   string
)

// SetLogDir включает запись логов в файлы внутри dir. Пустая строка отключает файлы.
func SetLogDir(dir string) {
	logDirMu.Lock()
	logDir = dir
	logDirMu.Unlock()
}

func currentLogDir() string {
	logDirMu.RLock()
	defer logDirMu.RUnlock()
	return logDir
}

// NewLogger создаёт логгер компонента. Файл создаётся только если задан SetLogDir.
func NewLogger(component string) (*Logger, error) {
	l := &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		minConsoleLevel: INFO,
		minFileLevel:    DEBUG,
	}

	dir := currentLogDir()
	if dir == "" {
		return l, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	l.file = file
	l.fileLogger = log.New(file, "", log.LstdFlags)
	return l, nil
}

// Close закрывает файл логгера, если он открыт.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

// SetLevels меняет пороги для консоли и файла.
func (l *Logger) SetLevels(console, file LogLevel) {
	l.minConsoleLevel = console
	l.minFileLevel = file
}

func (l *Logger) Trace(format string, args ...interface{}) { l.write(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.write(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.write(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.write(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.write(ERROR, format, args...) }

func (l *Logger) write(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}

	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))

	if l.fileLogger != nil && level >= l.minFileLevel {
		l.fileLogger.Println(message)
	}
	if l.consoleLogger != nil && level >= l.minConsoleLevel {
		l.consoleLogger.Println(message)
	}
}

// InitDefaultLogger инициализирует логгер по умолчанию для функций пакета
func InitDefaultLogger(component string) error {
	l, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// CloseDefaultLogger закрывает логгер по умолчанию
func CloseDefaultLogger() {
	if defaultLogger != nil {
		defaultLogger.Close()
	}
}

// SetDefaultLevel меняет консольный порог логгера по умолчанию.
func SetDefaultLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.minConsoleLevel = level
	}
}

func Trace(format string, args ...interface{}) { defaultLogger.write(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { defaultLogger.write(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { defaultLogger.write(INFO, format, args...) }
func Warn(format string, args ...interface{})  { defaultLogger.write(WARN, format, args...) }
func Error(format string, args ...interface{}) { defaultLogger.write(ERROR, format, args...) }

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogDecodeError логирует ошибку разбора буфера позиций вместе с его началом
func LogDecodeError(source string, err error, data []byte) {
	Error("Decode error in %s: %v", source, err)
	if len(data) > 0 {
		Debug("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}
