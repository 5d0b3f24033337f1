// Package logger пишет логи асинхронно через буферизованный канал, чтобы вызовы из
// обработчиков ленты и обновлений списка не блокировались на выводе.
// Уровень задаётся LOG_LEVEL (debug|info) или SetLevel; префикс сервиса — SetPrefix.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

type level int32

const (
	levelDebug level = iota
	levelInfo
)

var (
	prefix   atomic.Value
	minLevel atomic.Int32
	ch       chan string
	flushCh  chan chan struct{}
	once     sync.Once
)

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	default:
		return levelInfo
	}
}

func start() {
	minLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
	ch = make(chan string, asyncBufferSize)
	flushCh = make(chan chan struct{})
	go func() {
		for {
			select {
			case msg := <-ch:
				log.Print(msg)
			case done := <-flushCh:
				for n := len(ch); n > 0; n-- {
					log.Print(<-ch)
				}
				close(done)
			}
		}
	}()
}

func enqueue(msg string) {
	once.Do(start)
	select {
	case ch <- msg:
	default:
		// буфер полон, сообщение теряется
	}
}

// SetPrefix задаёт префикс всех последующих строк ("chat", "realtime").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переопределяет LOG_LEVEL (значение из конфига).
func SetLevel(s string) {
	once.Do(start)
	minLevel.Store(int32(parseLevel(s)))
}

// Flush дожидается записи уже поставленных в очередь сообщений. Вызывается перед выходом.
func Flush() {
	once.Do(start)
	done := make(chan struct{})
	flushCh <- done
	<-done
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func debugEnabled() bool {
	once.Do(start)
	return level(minLevel.Load()) == levelDebug
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf пишет только при уровне debug.
func Debugf(format string, v ...any) {
	if !debugEnabled() {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и длительность. На уровне info — только вызовы дольше 100ms.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if debugEnabled() || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration для defer: defer logger.DeferLogDuration("msg.Insert", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
