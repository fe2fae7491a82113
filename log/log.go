// Package log provides the small structured, leveled logger used
// throughout devmproofgen: a message followed by alternating key/value
// pairs (log.Warn("msg", "key", val), log.Error(...)).
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log record.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "???"
	}
}

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	minLvl           = LevelInfo
)

// SetOutput redirects where log records are written. Tests use this to
// capture output instead of polluting stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level that is actually emitted. Records below
// this level are dropped cheaply before formatting.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLvl = l
}

// Debug logs at debug level, only emitted with --debug (see cmd/devmproofgen).
func Debug(msg string, ctx ...interface{}) { logf(LevelDebug, msg, ctx) }

// Warn logs a recoverable condition, such as partial CFG construction or
// an unresolved or invalid branch target.
func Warn(msg string, ctx ...interface{}) { logf(LevelWarn, msg, ctx) }

// Error logs a fatal or near-fatal condition on the way out of the driver.
func Error(msg string, ctx ...interface{}) { logf(LevelError, msg, ctx) }

// Info logs routine progress (block counts, group counts, file names written).
func Info(msg string, ctx ...interface{}) { logf(LevelInfo, msg, ctx) }

func logf(lvl Level, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl < minLvl {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(lvl.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(&b, " %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		fmt.Fprintf(&b, " %v=MISSING", ctx[len(ctx)-1])
	}
	b.WriteByte('\n')
	io.WriteString(out, b.String())
}
