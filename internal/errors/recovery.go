package errors

import (
	"fmt"
	"log"
	"runtime/debug"
)

// RecoveryHandler provides panic recovery functionality
type RecoveryHandler struct {
	Logger       func(format string, args ...interface{})
	OnPanic      func(recovered interface{}, stack []byte)
	IncludeStack bool
}

// NewRecoveryHandler creates a new recovery handler with default settings
func NewRecoveryHandler() *RecoveryHandler {
	return &RecoveryHandler{
		Logger:       log.Printf,
		IncludeStack: true,
	}
}

// Recover recovers from panics and converts them to errors
func (r *RecoveryHandler) Recover(context string) error {
	if recovered := recover(); recovered != nil {
		stack := debug.Stack()
		r.logPanic(context, recovered, stack)

		// Convert panic to error
		err := New(CodeInternalError, "unexpected panic occurred")
		err.WithDetail("context", context)

		// Only include panic details in development mode
		if r.IncludeStack {
			err.WithDetail("panic", fmt.Sprintf("%v", recovered))
		}

		return err
	}
	return nil
}

// logPanic is the shared tail of every Recover* method in this file: log through
// the configured Logger (or the standard logger if none was set) and invoke
// OnPanic if the caller registered one.
func (r *RecoveryHandler) logPanic(label string, recovered interface{}, stack []byte) {
	if r.Logger != nil {
		r.Logger("PANIC in %s: %v\n%s", label, recovered, stack)
	} else {
		log.Printf("PANIC in %s: %v\n%s", label, recovered, stack)
	}

	if r.OnPanic != nil {
		r.OnPanic(recovered, stack)
	}
}

// RecoverMiddleware returns a function that can be used to wrap handlers
func (r *RecoveryHandler) RecoverMiddleware(handler func() error) func() error {
	return func() error {
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logPanic("handler", recovered, debug.Stack())
			}
		}()

		return handler()
	}
}

// RecoverWebSocket wraps a WebSocket session's connection loop with panic
// recovery, so a crash there ends that session instead of the process.
func (r *RecoveryHandler) RecoverWebSocket(sessionID string, handler func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logPanic(fmt.Sprintf("WebSocket session %s", sessionID), recovered, debug.Stack())
		}
	}()

	handler()
}

// RecoverGoroutine wraps goroutine execution with panic recovery
func (r *RecoveryHandler) RecoverGoroutine(name string, fn func()) {
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logPanic(fmt.Sprintf("goroutine %s", name), recovered, debug.Stack())
			}
		}()

		fn()
	}()
}
