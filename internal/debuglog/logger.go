// Package debuglog is the node's logging collaborator: env-gated verbose
// logging backed by a buffered channel so a slow write to stderr never
// blocks a session's read loop.
package debuglog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const queueSize = 2048

type logger struct {
	once sync.Once
	ch   chan string
}

var (
	global  logger
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

func enabled() bool {
	return os.Getenv("RELAY_DEBUG") == "1"
}

func (l *logger) start() {
	l.once.Do(func() {
		l.ch = make(chan string, queueSize)
		go func() {
			for msg := range l.ch {
				_, _ = os.Stderr.WriteString(msg)
			}
		}()
	})
}

// Logf always logs, regardless of RELAY_DEBUG: straight to stderr when
// debug mode is off, through the buffered channel when it's on.
func Logf(format string, args ...any) {
	msg := fmt.Sprintf(format+"\n", args...)
	if !enabled() {
		_, _ = os.Stderr.WriteString(msg)
		return
	}
	global.start()
	select {
	case global.ch <- msg:
	default:
		// Drop when saturated to keep network goroutines non-blocking in debug mode.
	}
}

// Debugf logs only when RELAY_DEBUG=1.
func Debugf(format string, args ...any) {
	if !enabled() {
		return
	}
	Logf(format, args...)
}

// RateLimitedf logs at most once per interval per key, used for noisy
// per-session events like repeated dial failures.
func RateLimitedf(key string, interval time.Duration, format string, args ...any) {
	if !enabled() || key == "" {
		return
	}
	now := time.Now()
	rlMu.Lock()
	last := rlLast[key]
	if now.Sub(last) < interval {
		rlMu.Unlock()
		return
	}
	rlLast[key] = now
	if now.Sub(rlSweep) > 2*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 4*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	rlMu.Unlock()
	Logf(format, args...)
}

// Logger adapts this package's free functions to the small logging
// interfaces (handshake.Logger, location.Logger, ...) that core
// components accept, so they depend on an interface rather than this
// package directly.
type Logger struct{}

func (Logger) Debugf(format string, args ...any) { Debugf(format, args...) }
func (Logger) Logf(format string, args ...any)   { Logf(format, args...) }

