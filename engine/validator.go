package engine

import (
	"fmt"

	"github.com/statechan/scnode/wire"
)

// Middleware validates a protocol-specific payload before the responder
// countersigns it, the hook point application code uses to reject a
// proposed app, state, or action it doesn't like.
type Middleware func(protocol wire.ProtocolType, middlewareCtx interface{}) error

// MiddlewareChain runs a sequence of Middleware in order, failing closed
// on the first rejection.
type MiddlewareChain struct {
	hooks []Middleware
}

// NewMiddlewareChain builds a MiddlewareChain running hooks in order.
func NewMiddlewareChain(hooks ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{hooks: hooks}
}

// Validate implements protocol.Validator.
func (c *MiddlewareChain) Validate(protocolType wire.ProtocolType, middlewareCtx interface{}) error {
	for _, hook := range c.hooks {
		if err := hook(protocolType, middlewareCtx); err != nil {
			return fmt.Errorf("engine: %v rejected: %w", protocolType, err)
		}
	}
	return nil
}
