package exception

import (
	"fmt"
	"runtime/debug"

	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/monitoring"
)

// Capture runs fn and converts a panic into an error tagged with name
func Capture(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.IncreasePanicCount()
			logx.Error("PANIC", "in ", name, ": ", r, "\n", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// SafeGo runs fn in a goroutine and logs a panic instead of crashing the node
func SafeGo(name string, fn func()) {
	go func() {
		_ = Capture(name, func() error {
			fn()
			return nil
		})
	}()
}
