package observability

import (
	"fmt"
	"runtime/debug"
)

// Go runs fn on its own goroutine. A panic in fn is logged with its stack
// and does not take the process down.
func Go(logger *Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.With(
					"goroutine", name,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				).Error("recovered panic in background goroutine")
			}
		}()
		fn()
	}()
}
