package common

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/ternarybob/arbor"
)

// PanicError carries a recovered panic value and the stack it was raised on
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// CallSafely runs fn and converts a panic into a *PanicError
func CallSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			err = &PanicError{Value: r, Stack: string(buf[:n])}
		}
	}()
	return fn()
}

// SafeGo runs fn on its own goroutine; a panic is logged under name and swallowed
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		err := CallSafely(func() error {
			fn()
			return nil
		})

		var panicErr *PanicError
		if !errors.As(err, &panicErr) || logger == nil {
			return
		}
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", panicErr.Value)).
			Str("stack", panicErr.Stack).
			Msg("Recovered panic in background goroutine")
	}()
}
