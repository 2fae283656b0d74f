// Package log provides the process-wide structured logger shared by the
// event loop, the key space, and the command binary.
package log

import (
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the package-wide logger. Every component logs through it rather
// than fmt.Println so output stays structured and level-filterable.
var Logger = newLogger()

var mu sync.Mutex

func newLogger() log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = level.NewFilter(l, level.AllowInfo())
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5))
	return l
}

// SetLevel swaps the minimum level allowed through Logger. Valid names are
// "debug", "info", "warn", and "error"; an unrecognized name is treated as
// "info".
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()

	var opt level.Option
	switch name {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}

	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	Logger = log.With(level.NewFilter(base, opt), "ts", log.DefaultTimestampUTC, "caller", log.Caller(5))
}
