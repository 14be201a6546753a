package peertransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/engine"
	"github.com/statechan/scnode/wire"
)

// Router is the glue between one or more Conns and a single Engine. It
// implements engine.Transport for outbound sends and Dispatcher for
// inbound reads, tracking which multisig each peer's messages belong
// to the way server.go's peer registry tracks which channels belong to
// which peer — except this daemon runs one active multisig per
// counterparty at a time, so the mapping is peer identifier to a
// single address rather than a list.
type Router struct {
	eng *engine.Engine

	dial func(peerIdentifier string) (*Conn, error)

	mu         sync.Mutex
	conns      map[string]*Conn
	multisigOf map[string]common.Address
}

// NewRouter constructs a Router. eng may be nil at construction time and
// filled in later via SetEngine, since an Engine needs a Transport to
// build its PeerBus and a Router needs an Engine to dispatch into —
// breaking that cycle means one side starts nil. dial is called the
// first time an outbound send targets a peer identifier this Router
// hasn't seen a connection from yet (i.e. this node is the one opening
// the TCP connection rather than accepting it).
func NewRouter(eng *engine.Engine, dial func(peerIdentifier string) (*Conn, error)) *Router {
	return &Router{
		eng:        eng,
		dial:       dial,
		conns:      make(map[string]*Conn),
		multisigOf: make(map[string]common.Address),
	}
}

// SetEngine wires the Engine this Router dispatches inbound envelopes
// into, once it has been constructed over this Router's PeerBus.
func (r *Router) SetEngine(eng *engine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eng = eng
}

// RegisterConn adopts an already-connected Conn so later sends to
// peerIdentifier reuse it instead of dialing. Listener does not call it;
// it keeps accepted Conns in its own map (see Listener.ConnFor).
func (r *Router) RegisterConn(peerIdentifier string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[peerIdentifier] = c
}

// SendEnvelope implements engine.Transport.
func (r *Router) SendEnvelope(ctx context.Context, to string, env *wire.Envelope) error {
	c, err := r.connFor(to)
	if err != nil {
		return err
	}
	return c.SendEnvelope(ctx, to, env)
}

func (r *Router) connFor(peerIdentifier string) (*Conn, error) {
	r.mu.Lock()
	c, ok := r.conns[peerIdentifier]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	if r.dial == nil {
		return nil, fmt.Errorf("peertransport: no connection to %s and no dialer configured", peerIdentifier)
	}
	c, err := r.dial(peerIdentifier)
	if err != nil {
		return nil, err
	}
	c.Start(r)

	r.mu.Lock()
	r.conns[peerIdentifier] = c
	r.mu.Unlock()
	return c, nil
}

// Dispatch implements Dispatcher: resolve which multisig the envelope
// belongs to and hand it to the engine. A SetupParams envelope names
// its multisig directly; every later round reuses whatever multisig
// this Router already associated with the peer during Setup.
func (r *Router) Dispatch(peerIdentifier string, env *wire.Envelope) {
	if env == nil {
		return
	}

	multisig, err := r.resolveMultisig(peerIdentifier, env)
	if err != nil {
		return
	}

	r.mu.Lock()
	eng := r.eng
	r.mu.Unlock()
	if eng == nil {
		return
	}

	ctx := context.Background()
	if perr := eng.HandleEnvelope(ctx, multisig, env); perr != nil {
		r.mu.Lock()
		delete(r.multisigOf, peerIdentifier)
		r.mu.Unlock()
	}
}

func (r *Router) resolveMultisig(peerIdentifier string, env *wire.Envelope) (common.Address, error) {
	params, err := env.DecodeParams()
	if err == nil {
		if sp, ok := params.(*wire.SetupParams); ok {
			r.mu.Lock()
			r.multisigOf[peerIdentifier] = sp.Multisig
			r.mu.Unlock()
			return sp.Multisig, nil
		}
	}

	r.mu.Lock()
	multisig, ok := r.multisigOf[peerIdentifier]
	r.mu.Unlock()
	if !ok {
		return common.Address{}, fmt.Errorf("peertransport: no multisig known for peer %s", peerIdentifier)
	}
	return multisig, nil
}
