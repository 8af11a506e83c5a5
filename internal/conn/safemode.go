package conn

import (
	"fmt"

	"github.com/loomhttp/loom/http/status"
)

// panicError wraps a recovered panic value as an error, so downstream code
// (access logging, OnClose) sees an ordinary error rather than having to
// special-case recover().
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.value)
}

// guardedCode is the internal status recorded against a request whose
// handler panicked under safe mode, per spec.md §4.6's 598.
const guardedCode = status.StatusHandlerPanicked

// guard runs fn, and under safe mode converts any panic into a returned
// error instead of letting it unwind into the control loop. It is called at
// exactly the four boundaries spec.md §4.5 names: OnHeaders, OnData,
// OnClose, and the destructor-time OnClose fired when a connection is torn
// down mid-request. Outside safe mode, fn's panics propagate unchanged —
// the operator asked to see them.
func (c *Connection) guard(fn func()) (err error) {
	if !c.safeMode {
		fn()
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	fn()
	return nil
}
