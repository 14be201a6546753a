package engine

import (
	"github.com/statechan/scnode/protocol"
)

// Error is the JSON-serializable shape every engine method returns in
// place of a bare Go error, wrapping a *protocol.Error's classification
// so an RPC or CLI caller can branch on Code without depending on the
// protocol package directly.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// fromProtocolError adapts a *protocol.Error as returned by Runner.Drive
// into the engine's own error shape.
func fromProtocolError(err *protocol.Error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: err.Code.String(), Message: err.Error()}
}
