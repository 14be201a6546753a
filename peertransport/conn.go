// Package peertransport carries wire.Envelopes between two scnoded
// instances over a plain TCP connection, the way peer.go carries
// lnwire.Messages over a brontide-encrypted connection: one goroutine
// draining a read loop and a mutex-serialized write path, both keyed
// off a single net.Conn. There is no noise handshake here — channel messages
// are already individually signed, so the transport's only job is
// reliable framing, not confidentiality or peer authentication.
package peertransport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statechan/scnode/wire"
)

// maxEnvelopeSize caps a single framed message the same way
// lnwire.MaxMessagePayload bounds a Lightning wire message: a
// generous ceiling against a misbehaving or confused peer, not a
// throughput target.
const maxEnvelopeSize = 1 << 20

// lengthHeaderSize is the width of the frame-length prefix, mirroring
// lnwire's own 2-byte-type-plus-length framing, widened to 4 bytes
// since a commitment's InterpreterParams/EncodedOutcome payloads can
// comfortably exceed 65KB.
const lengthHeaderSize = 4

// Conn wraps a single net.Conn to one named peer. It implements
// engine.Transport's SendEnvelope for outbound traffic and drives a
// read loop that hands every inbound envelope to a Dispatcher.
type Conn struct {
	peerIdentifier string
	conn           net.Conn

	writeMu sync.Mutex

	started int32
	stopped int32
	quit    chan struct{}
	wg      sync.WaitGroup
}

// Dispatcher receives every envelope this Conn reads off the wire.
// Implemented by Router in router.go.
type Dispatcher interface {
	Dispatch(peerIdentifier string, env *wire.Envelope)
}

// NewConn wraps an already-established connection. peerIdentifier is
// the logical name the rest of the engine addresses this peer by;
// dialers and listeners both resolve it before constructing a Conn.
func NewConn(peerIdentifier string, conn net.Conn) *Conn {
	return &Conn{
		peerIdentifier: peerIdentifier,
		conn:           conn,
		quit:           make(chan struct{}),
	}
}

// Dial opens a new outbound connection and wraps it in a Conn.
func Dial(ctx context.Context, peerIdentifier, addr string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peertransport: dial %s: %w", addr, err)
	}
	return NewConn(peerIdentifier, conn), nil
}

// Start launches the read loop, handing every decoded envelope to
// dispatcher, mirroring peer.Start's split into a readHandler and a
// writeHandler goroutine — this type's write side has no queue of its
// own since engine.PeerBus already buffers outbound sends upstream of
// SendEnvelope.
func (c *Conn) Start(dispatcher Dispatcher) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("peertransport: already started")
	}
	c.wg.Add(1)
	go c.readLoop(dispatcher)
	return nil
}

func (c *Conn) readLoop(dispatcher Dispatcher) {
	defer c.wg.Done()
	for {
		env, err := c.readEnvelope()
		if err != nil {
			if atomic.LoadInt32(&c.stopped) == 0 {
				log.Errorf("connection to %s closed: %v", c.peerIdentifier, err)
				dispatcher.Dispatch(c.peerIdentifier, nil)
			}
			return
		}
		dispatcher.Dispatch(c.peerIdentifier, env)
	}
}

func (c *Conn) readEnvelope() (*wire.Envelope, error) {
	var header [lengthHeaderSize]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 || n > maxEnvelopeSize {
		return nil, fmt.Errorf("peertransport: invalid frame length %d", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, err
	}

	var env wire.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("peertransport: decode envelope: %w", err)
	}
	return &env, nil
}

// SendEnvelope implements engine.Transport. Framing is serialized by
// writeMu since engine.PeerBus already serializes logical sends per
// bus but multiple Conns can share a dial pool in the future.
func (c *Conn) SendEnvelope(ctx context.Context, to string, env *wire.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("peertransport: encode envelope: %w", err)
	}
	if len(payload) > maxEnvelopeSize {
		return fmt.Errorf("peertransport: envelope too large (%d bytes)", len(payload))
	}

	var header [lengthHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("peertransport: write frame header: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("peertransport: write frame payload: %w", err)
	}
	return nil
}

// Close shuts the underlying connection down and waits for the read
// loop to exit, mirroring peer.Stop's close-then-wait shape.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return nil
	}
	close(c.quit)
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
