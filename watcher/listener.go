package watcher

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"

	"github.com/statechan/scnode/evmchain"
	"github.com/statechan/scnode/metrics"
)

// reconnectBackoff paces resubscription attempts after a live
// subscription dies, the same role ticker.Ticker plays in lnd's peer
// reconnection loop.
const reconnectBackoff = 5 * time.Second

// replayChunkSize bounds how many blocks a single eth_getLogs call spans
// during historical replay. Several RPC providers cap getLogs result
// windows; chunking keeps every call well inside common provider limits
// regardless of how far behind the watcher has fallen.
const replayChunkSize = 30

// ErrStartPastHead is returned by Start when fromBlock lies beyond the
// current chain head.
var ErrStartPastHead = fmt.Errorf("watcher: start block is past chain head")

// Listener watches a ChallengeRegistry contract for ChallengeUpdated and
// StateProgressed events, replaying history from a starting block before
// switching to a live subscription. Both event kinds arrive on buffered
// channels; callers that fall behind will stall the watcher rather than
// silently drop events.
type Listener struct {
	provider          evmchain.LogFilterer
	challengeRegistry common.Address

	ChallengeUpdated chan *ChallengeUpdatedEvent
	StateProgressed  chan *StateProgressedEvent
	Errors           chan error

	started uint32
	stopped uint32
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewListener constructs a Listener. Start's fromBlock is the first
// block to replay; callers track their own last-processed height (typically the
// block a channel's Setup commitment confirmed in) and resume from
// there rather than from the chain's genesis.
func NewListener(provider evmchain.LogFilterer, challengeRegistry common.Address) *Listener {
	return &Listener{
		provider:          provider,
		challengeRegistry: challengeRegistry,
		ChallengeUpdated:  make(chan *ChallengeUpdatedEvent, 64),
		StateProgressed:   make(chan *StateProgressedEvent, 64),
		Errors:            make(chan error, 16),
		quit:              make(chan struct{}),
	}
}

// Start replays history from fromBlock through the current head, then
// subscribes for new logs. It returns once the historical replay is
// complete; the live subscription runs in the background until Stop is
// called. If fromBlock is past the current head, Start fails with
// ErrStartPastHead before fetching any logs.
func (l *Listener) Start(ctx context.Context, fromBlock uint64) error {
	if !atomic.CompareAndSwapUint32(&l.started, 0, 1) {
		return fmt.Errorf("watcher: already started")
	}

	head, err := l.provider.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("watcher: fetch chain head: %w", err)
	}
	if fromBlock > head {
		return fmt.Errorf("%w: %d > %d", ErrStartPastHead, fromBlock, head)
	}
	log.Infof("replaying ChallengeRegistry logs from block %d to %d", fromBlock, head)

	if err := l.replay(ctx, fromBlock, head); err != nil {
		return fmt.Errorf("watcher: replay history: %w", err)
	}

	sub, liveLogs, err := l.subscribe(ctx, head+1)
	if err != nil {
		return fmt.Errorf("watcher: subscribe: %w", err)
	}

	l.wg.Add(1)
	go l.run(ctx, sub, liveLogs, head+1)

	return nil
}

// subscribe opens a live SubscribeFilterLogs subscription starting from
// fromBlock.
func (l *Listener) subscribe(ctx context.Context, fromBlock uint64) (ethereumSubscription, chan types.Log, error) {
	liveLogs := make(chan types.Log, 64)
	query := FilterQuery(l.challengeRegistry, new(big.Int).SetUint64(fromBlock), nil)
	sub, err := l.provider.SubscribeFilterLogs(ctx, query, liveLogs)
	if err != nil {
		return nil, nil, err
	}
	return sub, liveLogs, nil
}

// replay fetches and dispatches every matching log between fromBlock
// and toBlock inclusive, in fixed-size chunks processed concurrently
// via errgroup — order across chunks doesn't matter since every event
// carries its own block number and the consumers key state by
// identityHash, not by arrival order.
func (l *Listener) replay(ctx context.Context, fromBlock, toBlock uint64) error {
	if fromBlock > toBlock {
		return nil
	}
	metrics.ChainListenerLagBlocks.Set(float64(toBlock - fromBlock))

	type chunk struct{ from, to uint64 }
	var chunks []chunk
	for start := fromBlock; start <= toBlock; start += replayChunkSize {
		end := start + replayChunkSize - 1
		if end > toBlock {
			end = toBlock
		}
		chunks = append(chunks, chunk{start, end})
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]types.Log, len(chunks))
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			query := FilterQuery(l.challengeRegistry,
				new(big.Int).SetUint64(c.from), new(big.Int).SetUint64(c.to))
			logs, err := l.provider.FilterLogs(gctx, query)
			if err != nil {
				return fmt.Errorf("fetch logs [%d,%d]: %w", c.from, c.to, err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, logs := range results {
		for _, log := range logs {
			if err := l.dispatch(log); err != nil {
				l.Errors <- err
			}
		}
	}
	metrics.ChainListenerLagBlocks.Set(0)
	return nil
}

// run drains the live subscription until it dies or the listener is
// stopped. A dead subscription is resubscribed from the current head
// after a backoff paced by a ticker.Ticker, rather than treated as
// fatal — EVM RPC providers drop long-lived subscriptions routinely,
// and losing events from the gap isn't an option for a dispute watcher.
// Before resubscribing, the blocks from resumeFrom (the last block the
// live stream delivered, or where it started) through the head are
// replayed, so logs of that last block may be delivered twice.
func (l *Listener) run(ctx context.Context, sub ethereumSubscription, logs chan types.Log, resumeFrom uint64) {
	defer l.wg.Done()

	backoff := ticker.New(reconnectBackoff)
	backoff.Pause()
	defer backoff.Stop()

	var subErr <-chan error
	if sub != nil {
		subErr = sub.Err()
	}

	for {
		select {
		case logEntry := <-logs:
			if logEntry.BlockNumber > resumeFrom {
				resumeFrom = logEntry.BlockNumber
			}
			if err := l.dispatch(logEntry); err != nil {
				l.Errors <- err
			}

		case err := <-subErr:
			log.Errorf("live subscription ended: %v", err)
			sub.Unsubscribe()
			sub, logs, subErr = nil, nil, nil
			backoff.Resume()

		case <-backoff.Ticks():
			head, err := l.provider.BlockNumber(ctx)
			if err != nil {
				log.Errorf("resubscribe: fetch chain head: %v", err)
				continue
			}
			if err := l.replay(ctx, resumeFrom, head); err != nil {
				log.Errorf("resubscribe: replay missed blocks: %v", err)
				continue
			}
			newSub, newLogs, err := l.subscribe(ctx, head+1)
			if err != nil {
				log.Errorf("resubscribe failed, retrying: %v", err)
				continue
			}
			resumeFrom = head + 1
			log.Infof("live subscription restored from block %d", head+1)
			sub, logs, subErr = newSub, newLogs, newSub.Err()
			backoff.Pause()

		case <-l.quit:
			if sub != nil {
				sub.Unsubscribe()
			}
			return
		}
	}
}

func (l *Listener) dispatch(log types.Log) error {
	decoded, err := decodeLog(log)
	if err != nil {
		return err
	}

	switch ev := decoded.(type) {
	case *ChallengeUpdatedEvent:
		select {
		case l.ChallengeUpdated <- ev:
		case <-l.quit:
		}
	case *StateProgressedEvent:
		select {
		case l.StateProgressed <- ev:
		case <-l.quit:
		}
	}
	return nil
}

// Stop shuts the listener down. Safe to call once.
func (l *Listener) Stop() {
	if !atomic.CompareAndSwapUint32(&l.stopped, 0, 1) {
		return
	}
	close(l.quit)
	l.wg.Wait()
}

// ethereumSubscription is the minimal ethereum.Subscription surface this
// package consumes, broken out as an interface so tests can fake it
// without standing up a real subscription transport.
type ethereumSubscription interface {
	Err() <-chan error
	Unsubscribe()
}
