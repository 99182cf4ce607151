// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать обработку событий. Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	asyncBufferSize = 8192
	slowThreshold   = 100 * time.Millisecond
)

var (
	prefix   atomic.Value
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
	dropped  atomic.Int64
)

type level int32

const (
	levelDebug level = iota
	levelInfo
)

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	default:
		return levelInfo
	}
}

func initWorker() {
	logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон — не блокируем, теряем лог
		dropped.Add(1)
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "push").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переопределяет LOG_LEVEL значением из конфига.
func SetLevel(s string) {
	once.Do(initWorker)
	logLevel.Store(int32(parseLevel(s)))
}

// Dropped возвращает число сообщений, потерянных из-за переполнения буфера.
func Dropped() int64 { return dropped.Load() }

func isDebug() bool {
	once.Do(initWorker)
	return level(logLevel.Load()) == levelDebug
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if !isDebug() {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

// Warnf — ожидаемые отказы (NotFound, невалидный payload, переполнение очереди).
func Warnf(format string, v ...any) {
	enqueue(tag() + "WARN: " + fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if isDebug() || elapsed >= slowThreshold {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
