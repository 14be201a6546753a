package lockmanager

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestAcquireSerializesSameMultisig(t *testing.T) {
	m := New()
	addr := common.HexToAddress("0x00000000000000000000000000000000000001")

	release := m.Acquire(addr)

	acquired := make(chan struct{})
	go func() {
		release2 := m.Acquire(addr)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should have blocked while the first is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	<-acquired
}

func TestAcquireDifferentMultisigsDoNotBlock(t *testing.T) {
	m := New()
	a := common.HexToAddress("0x00000000000000000000000000000000000001")
	b := common.HexToAddress("0x00000000000000000000000000000000000002")

	releaseA := m.Acquire(a)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := m.Acquire(b)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire on a different multisig should not block")
	}
}

func TestAcquireAllLocksAndReleasesEverything(t *testing.T) {
	m := New()
	addrs := []common.Address{
		common.HexToAddress("0x00000000000000000000000000000000000003"),
		common.HexToAddress("0x00000000000000000000000000000000000001"),
		common.HexToAddress("0x00000000000000000000000000000000000002"),
	}

	release := m.AcquireAll(addrs)

	var wg sync.WaitGroup
	for _, addr := range addrs {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := m.Acquire(addr)
			r()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
		t.Fatal("locks should still be held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	<-done
}
