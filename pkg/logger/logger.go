package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Глобальный экземпляр логгера
var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Options настройки логгера
type Options struct {
	Dir     string // каталог для app.log и app.json.log
	Level   string // debug, info, warn, error
	Console bool   // дублировать вывод в stdout
}

// JSONLogFile имя файла JSON-лога внутри каталога логов
const JSONLogFile = "app.json.log"

// Init инициализирует глобальный логгер. Повторные вызовы игнорируются.
func Init(opts Options) {
	once.Do(func() {
		l, err := newLogger(opts)
		if err != nil {
			// Без файлов логов продолжаем работать в stdout
			l = zap.NewExample()
			l.Warn("Не удалось открыть файлы логов", zap.Error(err))
		}
		globalLogger = l
	})
}

// GetLogger возвращает глобальный экземпляр логгера
func GetLogger() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// Named возвращает именованный дочерний логгер для компонента
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

// Вспомогательные функции для удобства использования
func skipped() *zap.Logger {
	return GetLogger().WithOptions(zap.AddCallerSkip(1))
}

func Info(msg string, fields ...zap.Field) {
	skipped().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	skipped().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	skipped().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	skipped().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	skipped().Fatal(msg, fields...)
}

// newLogger создает логгер: читаемый файл + JSON файл (+ консоль)
func newLogger(opts Options) (*zap.Logger, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}

	// Конфигурация энкодера
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("02.01.2006 - 15:04:05.000000000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	readableFileEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	jsonFileEncoder := zapcore.NewJSONEncoder(encoderConfig)

	// Файлы только дописываются, журнал операций не очищается при перезапуске
	readableFile, err := os.OpenFile(filepath.Join(opts.Dir, "app.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	jsonFile, err := os.OpenFile(filepath.Join(opts.Dir, JSONLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	level := zapcore.DebugLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			level = zapcore.InfoLevel
		}
	}

	cores := []zapcore.Core{
		zapcore.NewCore(readableFileEncoder, zapcore.AddSync(readableFile), level),
		zapcore.NewCore(jsonFileEncoder, zapcore.AddSync(jsonFile), level),
	}
	if opts.Console {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(os.Stdout), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
