package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/queue"

	"github.com/statechan/scnode/wire"
)

// Transport hands a fully framed Envelope to whatever carries it to the
// named peer; PeerBus doesn't know or care if that's a TCP connection, an
// in-process channel in a test, or something else entirely.
type Transport interface {
	SendEnvelope(ctx context.Context, to string, env *wire.Envelope) error
}

// PeerBus implements protocol.MessageBus over a Transport. Outbound
// traffic is buffered through a queue.ConcurrentQueue exactly the way
// peer.go buffers outgoinMsg through its outgoingQueue channel ahead of
// the wire; what peer.go expresses with a doneChan signaling "this
// message has been written to the socket" this bus generalizes into a
// ProcessID-keyed reply registry, since a protocol round's SendAndWait
// needs to wait for an actual peer response, not just local flush
// confirmation.
type PeerBus struct {
	transport Transport
	outbound  *queue.ConcurrentQueue

	mu      sync.Mutex
	pending map[string]chan *wire.Envelope

	quit chan struct{}
	wg   sync.WaitGroup
}

type outboundSend struct {
	to  string
	env *wire.Envelope
}

// NewPeerBus constructs a PeerBus over transport with an outbound queue
// of the given buffer size (peer.go's outgoingQueueLen plays the same
// role there).
func NewPeerBus(transport Transport, bufferSize int) *PeerBus {
	b := &PeerBus{
		transport: transport,
		outbound:  queue.NewConcurrentQueue(bufferSize),
		pending:   make(map[string]chan *wire.Envelope),
		quit:      make(chan struct{}),
	}
	b.outbound.Start()
	b.wg.Add(1)
	go b.writeHandler()
	return b
}

// writeHandler drains the outbound queue and hands each envelope to the
// transport, mirroring peer.go's queueHandler loop over p.outgoingQueue.
func (b *PeerBus) writeHandler() {
	defer b.wg.Done()

	for {
		select {
		case elem, ok := <-b.outbound.ChanOut():
			if !ok {
				return
			}
			send := elem.(outboundSend)
			// Best effort: a transport error here has no caller left to
			// report to, since Send already returned once the envelope
			// was queued. SendAndWait callers still time out normally
			// because no reply will ever arrive.
			_ = b.transport.SendEnvelope(context.Background(), send.to, send.env)

		case <-b.quit:
			return
		}
	}
}

// Send implements protocol.MessageBus: queue the envelope and return
// without waiting for delivery.
func (b *PeerBus) Send(ctx context.Context, to string, msg *wire.Envelope) error {
	select {
	case b.outbound.ChanIn() <- outboundSend{to: to, env: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.quit:
		return fmt.Errorf("engine: bus stopped")
	}
}

// SendAndWait implements protocol.MessageBus: queue the envelope, then
// block until Deliver is called with a reply sharing its ProcessID, or
// ctx is done.
func (b *PeerBus) SendAndWait(ctx context.Context, to string, msg *wire.Envelope) (*wire.Envelope, error) {
	reply := make(chan *wire.Envelope, 1)

	b.mu.Lock()
	b.pending[msg.ProcessID] = reply
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ProcessID)
		b.mu.Unlock()
	}()

	if err := b.Send(ctx, to, msg); err != nil {
		return nil, err
	}

	select {
	case env := <-reply:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.quit:
		return nil, fmt.Errorf("engine: bus stopped")
	}
}

// Deliver routes an inbound envelope to whichever local SendAndWait is
// blocked on its ProcessID, or to the dispatch callback for unsolicited
// protocol messages (a responder's first-round envelope). Transports
// call this from their read loop.
func (b *PeerBus) Deliver(env *wire.Envelope, onUnsolicited func(*wire.Envelope)) {
	b.mu.Lock()
	reply, waiting := b.pending[env.ProcessID]
	b.mu.Unlock()

	if waiting {
		reply <- env
		return
	}

	if onUnsolicited != nil {
		onUnsolicited(env)
	}
}

// Stop shuts down the outbound queue and write handler.
func (b *PeerBus) Stop() {
	close(b.quit)
	b.outbound.Stop()
	b.wg.Wait()
}
