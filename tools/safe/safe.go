package safe

import (
	"runtime/debug"

	"ChatSync/logger"
)

// Go starts a goroutine that recovers from panic, so a broken handler does
// not take the whole process down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v\n%s", r, debug.Stack())
			}
		}()
		f()
	}()
}
