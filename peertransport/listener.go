package peertransport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Listener accepts inbound connections and wraps each in a Conn, the
// same shape as server.listener's Accept loop minus the brontide
// handshake and peer registry — a Dispatcher here plays the role
// server.addPeer plays there.
type Listener struct {
	ln net.Listener

	identify func(conn net.Conn) (string, error)

	dispatcher Dispatcher

	mu    sync.Mutex
	conns map[string]*Conn

	shutdown int32
	wg       sync.WaitGroup
}

// Identify resolves the logical peer identifier a freshly accepted
// connection belongs to. scnoded's wiring uses the connection's remote
// address; tests can hardcode a fixed identifier.
type Identify func(conn net.Conn) (string, error)

// Listen starts accepting connections on addr. identify is called once
// per accepted connection before its read loop starts.
func Listen(addr string, identify Identify, dispatcher Dispatcher) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peertransport: listen %s: %w", addr, err)
	}
	l := &Listener{
		ln:         ln,
		identify:   identify,
		dispatcher: dispatcher,
		conns:      make(map[string]*Conn),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&l.shutdown) == 0 {
				continue
			}
			return
		}

		peerIdentifier, err := l.identify(conn)
		if err != nil {
			conn.Close()
			continue
		}

		c := NewConn(peerIdentifier, conn)
		l.mu.Lock()
		l.conns[peerIdentifier] = c
		l.mu.Unlock()

		c.Start(l.dispatcher)
	}
}

// ConnFor returns the inbound connection registered for peerIdentifier,
// if one has been accepted, so a caller's Transport can reuse it for
// outbound sends instead of dialing a second connection to the same
// peer.
func (l *Listener) ConnFor(peerIdentifier string) (*Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[peerIdentifier]
	return c, ok
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections and closes every connection
// accepted so far.
func (l *Listener) Close() error {
	atomic.StoreInt32(&l.shutdown, 1)
	err := l.ln.Close()
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conns {
		c.Close()
	}
	return err
}
