// Package logger: логирование с префиксом процесса и асинхронной записью.
// Запись идёт через буферизованный канал, горячий путь доставки событий не ждёт stdout.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

// slowCall: порог, после которого DeferLogDuration пишет и на уровне info.
const slowCall = 100 * time.Millisecond

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

var (
	prefix  atomic.Value
	level   atomic.Int32
	dropped atomic.Int64
	ch      chan string
	done    chan struct{}
	once    sync.Once
)

func init() {
	level.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
}

// ParseLevel: "debug"/"trace", "error"; всё остальное: info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel переопределяет уровень, прочитанный из LOG_LEVEL (значение из конфига приоритетнее).
func SetLevel(l Level) { level.Store(int32(l)) }

// SetPrefix задаёт префикс для всех последующих логов (например "chatcore").
func SetPrefix(p string) { prefix.Store(p) }

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	done = make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(l Level, msg string) {
	if l < Level(level.Load()) {
		return
	}
	once.Do(initWorker)
	select {
	case ch <- tag() + msg:
	default:
		// буфер полон: не блокируем вызывающего
		dropped.Add(1)
	}
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

// Flush дописывает буфер при остановке процесса. После Flush логгер не используется.
func Flush(timeout time.Duration) {
	once.Do(initWorker)
	if n := dropped.Load(); n > 0 {
		select {
		case ch <- fmt.Sprintf("%slogger: dropped %d lines", tag(), n):
		default:
		}
	}
	close(ch)
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func Debugf(format string, v ...any) {
	enqueue(LevelDebug, "DEBUG: "+fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(LevelInfo, fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(LevelInfo, fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(LevelError, "ERROR: "+fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(LevelError, "ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше slowCall; на debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := LevelDebug
	if elapsed >= slowCall {
		l = LevelInfo
	}
	enqueue(l, fmt.Sprintf("fn=%s duration_ms=%d", fn, elapsed.Milliseconds()))
}

// DeferLogDuration возвращает функцию для defer: defer logger.DeferLogDuration("service.CreateMessage", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
