// Package lockmanager serializes protocol execution per multisig
// address. lnwallet.LightningChannel embeds a sync.RWMutex directly on
// the channel value and every mutating method takes it before touching
// state; this engine's channel value is an immutable snapshot reloaded
// from the store on every protocol round, so the lock has to live
// outside the value it protects. Manager is that external lock, keyed
// by multisig address instead of embedded in the struct.
package lockmanager

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Manager hands out one *sync.Mutex per multisig address, creating it on
// first use and never removing it — channels are long-lived for the
// life of the process, so the map's size is bounded by the number of
// channels ever touched, not by request volume.
type Manager struct {
	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{locks: make(map[common.Address]*sync.Mutex)}
}

func (m *Manager) lockFor(addr common.Address) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		m.locks[addr] = l
	}
	return l
}

// Acquire blocks until the lock for multisig is held, and returns a
// function that releases it. Every protocol round — initiator and
// responder alike — must hold this for the full load-run-persist cycle,
// so two concurrent rounds on the same channel can never interleave
// their reads and writes of the stored snapshot.
func (m *Manager) Acquire(multisig common.Address) (release func()) {
	l := m.lockFor(multisig)
	l.Lock()
	return l.Unlock
}

// AcquireAll locks a set of multisig addresses for a batch operation
// that spans more than one channel (a bulk sweep sizing pass, for
// example). Addresses are sorted ascending before locking — the same
// fixed, deterministic order every caller uses — so two AcquireAll
// calls over overlapping sets can never deadlock waiting on each other.
func (m *Manager) AcquireAll(multisigs []common.Address) (release func()) {
	sorted := make([]common.Address, len(multisigs))
	copy(sorted, multisigs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Bytes(), sorted[j].Bytes()) < 0
	})

	releases := make([]func(), 0, len(sorted))
	for _, addr := range sorted {
		releases = append(releases, m.Acquire(addr))
	}

	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
