// scnoded is the long-running node process: it opens the channel
// store, wires the protocol engine to a peer transport and an EVM
// provider, starts the chain watcher and its automatic dispute
// responder, and serves Prometheus metrics, the daemon-shaped
// counterpart to lnd.go's lndMain — minus the gRPC/REST surface lnd.go
// builds there, since this engine's method surface is a Go API, not a
// network-exposed RPC.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statechan/scnode/channeldb"
	"github.com/statechan/scnode/channeldb/boltstore"
	"github.com/statechan/scnode/channeldb/sqlstore"
	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/engine"
	"github.com/statechan/scnode/evmchain"
	"github.com/statechan/scnode/healthmon"
	"github.com/statechan/scnode/metrics"
	"github.com/statechan/scnode/peertransport"
	"github.com/statechan/scnode/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := engine.DefaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("scnoded: create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return fmt.Errorf("scnoded: create log dir: %w", err)
	}

	// engine, watcher and peertransport subsystem loggers stay at their
	// btclog.Disabled default here; see DESIGN.md for why this daemon
	// doesn't wire up a rotating file backend.

	nodeKey, err := loadOrCreateNodeKey(cfg.NodeKeyPath)
	if err != nil {
		return fmt.Errorf("scnoded: node key: %w", err)
	}
	localIdentifier := crypto.PubkeyToAddress(nodeKey.PublicKey).Hex()
	if cfg.LocalIdentifier != "" {
		localIdentifier = cfg.LocalIdentifier
	}
	fmt.Printf("scnoded starting, identifier=%s\n", localIdentifier)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("scnoded: open store: %w", err)
	}
	defer store.Close()

	provider, err := ethclient.Dial(cfg.ChainRPCURL)
	if err != nil {
		return fmt.Errorf("scnoded: dial chain RPC: %w", err)
	}

	keys := engine.NewKeyRing(nodeKey)

	params := engine.Params{
		FreeBalanceAppDefinition: common.HexToAddress(cfg.FreeBalanceApp),
		ChallengeRegistry:        common.HexToAddress(cfg.ChallengeRegistry),
		DefaultTimeoutBlocks:     cfg.DefaultTimeoutBlocks,
		SendAndWaitTimeout:       cfg.SendAndWaitTimeout,
	}

	router := peertransport.NewRouter(nil, func(peerIdentifier string) (*peertransport.Conn, error) {
		return peertransport.Dial(context.Background(), peerIdentifier, peerIdentifier)
	})
	bus := engine.NewPeerBus(router, 64)
	defer bus.Stop()

	eng := engine.New(localIdentifier, store, keys, bus, provider, nil, params)
	router.SetEngine(eng)

	identify := func(conn net.Conn) (string, error) {
		return conn.RemoteAddr().String(), nil
	}
	peerListener, err := peertransport.Listen(cfg.PeerListen, identify, router)
	if err != nil {
		return fmt.Errorf("scnoded: start peer listener: %w", err)
	}
	defer peerListener.Close()
	fmt.Printf("peer transport listening on %s\n", peerListener.Addr())

	watch := watcher.NewListener(provider, params.ChallengeRegistry)
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err := watch.Start(watchCtx, 0); err != nil {
		return fmt.Errorf("scnoded: start chain watcher: %w", err)
	}
	defer watch.Stop()

	responder := watcher.NewResponder(store, chainBroadcaster{provider: provider, key: nodeKey})
	go responder.Watch(watchCtx, watch, latestLocalCommitmentLookup(store), func(err error) {
		fmt.Fprintf(os.Stderr, "dispute responder: %v\n", err)
	})

	monitor := healthmon.New(provider, healthmon.DefaultConfig(), func() {
		fmt.Fprintln(os.Stderr, "scnoded: EVM provider unhealthy, shutting down")
		syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	})
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("scnoded: start health monitor: %w", err)
	}
	defer monitor.Stop()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsListen,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	defer metricsSrv.Close()

	waitForShutdown()
	fmt.Println("scnoded: shutdown complete")
	return nil
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func openStore(cfg engine.Config) (channeldb.Store, error) {
	if cfg.Postgres != nil && cfg.Postgres.DSN != "" {
		return sqlstore.Open(context.Background(), cfg.Postgres.DSN)
	}
	dir := cfg.Bolt.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.DataDir, dir)
	}
	return boltstore.Open(dir)
}

func loadOrCreateNodeKey(path string) (*ecdsa.PrivateKey, error) {
	if key, err := crypto.LoadECDSA(path); err == nil {
		return key, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("save identity key: %w", err)
	}
	return key, nil
}

// chainBroadcaster signs a MinimalTransaction with the node's own key
// and submits it, the EVM-side equivalent of breacharbiter.go handing
// a justice transaction to the chain notifier for broadcast — except
// here the node signs for itself rather than sweeping a counterparty's
// breach output.
type chainBroadcaster struct {
	provider *ethclient.Client
	key      *ecdsa.PrivateKey
}

func (b chainBroadcaster) Broadcast(ctx context.Context, tx evmchain.MinimalTransaction) error {
	chainID, err := b.provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	from := crypto.PubkeyToAddress(b.key.PublicKey)
	nonce, err := b.provider.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	gasTipCap, err := b.provider.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas tip: %w", err)
	}
	gasFeeCap, err := b.provider.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := b.provider.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &tx.To, Value: tx.Value, Data: tx.Data})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &tx.To,
		Value:     tx.Value,
		Data:      tx.Data,
	})

	signed, err := types.SignTx(unsigned, types.NewLondonSigner(chainID), b.key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}

	return b.provider.SendTransaction(ctx, signed)
}

// latestLocalCommitmentLookup adapts a Store into the watcher.Responder's
// lookup hook. channeldb only archives the resulting channel snapshot
// after each protocol round, not the double-signed SetState commitment
// itself, so a responder that needs to rebroadcast against a stale
// dispute has nothing to resubmit yet — this returns nil, which
// Responder.HandleChallengeUpdated already treats as "no local
// commitment to defend with" rather than an error. Closing this gap
// needs a signed-commitment archive alongside the snapshot store.
func latestLocalCommitmentLookup(store channeldb.Store) watcher.LatestLocalCommitment {
	return func(identityHash common.Hash) (*commitment.SetStateCommitment, error) {
		return nil, nil
	}
}
