package coro

import (
	"os"
	"sync"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the minimal structured-logging surface the runtime needs:
// diagnostics for poll errors and panicking routines. It exists so a
// caller can plug in their own logiface-backed logger (or any other
// implementation) via [RunWithLogger] instead of the package default.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

var (
	defaultLoggerOnce sync.Once
	defaultLoggerInst Logger
)

// defaultLogger lazily builds the package's out-of-the-box logger: a
// logiface.Logger[*izerolog.Event] writing to stderr, the same pairing
// logiface-zerolog exists to provide.
func defaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		z := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		l := izerolog.L.New(
			izerolog.L.WithZerolog(z),
			logiface.WithLevel[*izerolog.Event](logiface.LevelInfo),
		)
		defaultLoggerInst = &logifaceLogger{l: l}
	})
	return defaultLoggerInst
}

// logifaceLogger adapts a logiface.Logger[*izerolog.Event] to the
// package's minimal [Logger] interface.
type logifaceLogger struct {
	l *logiface.Logger[*izerolog.Event]
}

func (g *logifaceLogger) Debugf(format string, args ...any) {
	g.l.Debug().Logf(format, args...)
}

func (g *logifaceLogger) Errorf(format string, args ...any) {
	g.l.Err().Logf(format, args...)
}
