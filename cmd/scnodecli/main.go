// scnodecli is a read-only inspector for a node's channel store. There
// is no gRPC server to dial the way lncli dials lnd — this engine's
// method surface is a Go API, not a network-exposed RPC (per the
// explicit non-goal excluding a JSON-RPC façade) — so this tool opens
// the same boltstore or sqlstore file scnoded writes to and prints what
// it finds, the same "speak the daemon's own storage format" approach
// lncli's listchaintxns takes for data lnd already has on disk, just
// without a running process to ask.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"

	"github.com/statechan/scnode/channeldb"
	"github.com/statechan/scnode/channeldb/boltstore"
	"github.com/statechan/scnode/channeldb/sqlstore"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[scnodecli] %v\n", err)
	os.Exit(1)
}

func openStore(ctx *cli.Context) (channeldb.Store, error) {
	if dsn := ctx.GlobalString("postgres"); dsn != "" {
		return sqlstore.Open(context.Background(), dsn)
	}
	return boltstore.Open(ctx.GlobalString("boltdir"))
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

var listChannelsCommand = cli.Command{
	Name:  "listchannels",
	Usage: "list every channel snapshot in the store",
	Action: func(ctx *cli.Context) error {
		store, err := openStore(ctx)
		if err != nil {
			fatal(err)
		}
		defer store.Close()

		channels, err := store.ListChannels()
		if err != nil {
			fatal(err)
		}
		printJSON(channels)
		return nil
	},
}

var channelStateCommand = cli.Command{
	Name:      "channelstate",
	Usage:     "print the stored snapshot for one channel",
	ArgsUsage: "<multisig address>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "channelstate")
		}
		multisig := common.HexToAddress(ctx.Args().Get(0))

		store, err := openStore(ctx)
		if err != nil {
			fatal(err)
		}
		defer store.Close()

		channel, err := store.LoadChannel(multisig)
		if err != nil {
			fatal(err)
		}
		printJSON(channel)
		return nil
	},
}

var appInstanceCommand = cli.Command{
	Name:      "appinstance",
	Usage:     "print one app instance within a channel",
	ArgsUsage: "<multisig address> <identity hash>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "appinstance")
		}
		multisig := common.HexToAddress(ctx.Args().Get(0))
		identityHash := common.HexToHash(ctx.Args().Get(1))

		store, err := openStore(ctx)
		if err != nil {
			fatal(err)
		}
		defer store.Close()

		channel, err := store.LoadChannel(multisig)
		if err != nil {
			fatal(err)
		}
		app, ok := channel.App(identityHash)
		if !ok {
			fatal(fmt.Errorf("no app instance %s in channel %s", identityHash.Hex(), multisig.Hex()))
		}
		printJSON(app)
		return nil
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "scnodecli"
	app.Version = "0.1"
	app.Usage = "inspect a scnoded node's channel store"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "boltdir",
			Value: "scnode/channel.db",
			Usage: "directory holding the boltstore database file (scnode.db)",
		},
		cli.StringFlag{
			Name:  "postgres",
			Usage: "Postgres connection string; overrides --boltdir when set",
		},
	}
	app.Commands = []cli.Command{
		listChannelsCommand,
		channelStateCommand,
		appInstanceCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
