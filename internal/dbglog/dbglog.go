// Package dbglog configures the per-subsystem loggers shared by every
// package in this module. It mirrors the shape of delve's pkg/logflags:
// one named *logrus.Entry per subsystem, a shared formatter, and a level
// that can be raised at runtime without touching call sites.
package dbglog

import (
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Subsystem names, one per engine component area.
const (
	Proc       = "proc"
	DWARF      = "dwarf"
	Breakpoint = "bp"
	Stack      = "stack"
	Engine     = "engine"
	Core       = "core"
)

var (
	mu      sync.Mutex
	root    = logrus.New()
	loggers = map[string]*logrus.Entry{}
)

func init() {
	root.Out = colorable.NewColorable(os.Stderr)
	root.Formatter = &logrus.TextFormatter{
		ForceColors:   isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp: false,
	}
	root.SetLevel(logrus.WarnLevel)
}

// SetLevel changes the verbosity of every subsystem logger at once. Pass
// logrus.DebugLevel to get per-frame/per-opcode tracing.
func SetLevel(level logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	root.SetLevel(level)
}

// For returns the shared logger for a subsystem, creating it on first use.
func For(subsystem string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()
	if e, ok := loggers[subsystem]; ok {
		return e
	}
	e := root.WithField("subsystem", subsystem)
	loggers[subsystem] = e
	return e
}
