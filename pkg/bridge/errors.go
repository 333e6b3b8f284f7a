package bridge

import "fmt"

// ProtocolError reports misuse of the bridge that indicates a wiring bug,
// such as executing tasks before an executor is registered. Protocol errors
// are raised with panic and are not meant to be recovered.
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation in %s: %s", e.Op, e.Message)
}

func violation(op, format string, args ...any) {
	panic(&ProtocolError{Op: op, Message: fmt.Sprintf(format, args...)})
}
