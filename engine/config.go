package engine

import "time"

// Config is the full set of daemon-level settings scnoded parses from
// flags and an ini file, mirroring lnd's Config struct: every field maps
// onto a jessevdk/go-flags long name, and group headers become ini
// sections.
type Config struct {
	DataDir string `long:"datadir" description:"directory to store channel state in"`
	LogDir  string `long:"logdir" description:"directory to log output to"`

	LocalIdentifier string `long:"identifier" description:"this node's peer identifier, as carried in every envelope's fromIdentifier"`

	PeerListen    string `long:"peerlisten" description:"host:port the peer transport listens on for inbound channel messages"`
	MetricsListen string `long:"metricslisten" description:"host:port the Prometheus /metrics endpoint listens on"`

	ChainRPCURL string `long:"chainrpcurl" description:"JSON-RPC endpoint of the EVM node to use as chain backend"`

	ChallengeRegistry string `long:"challengeregistry" description:"address of the on-chain ChallengeRegistry contract"`
	FreeBalanceApp    string `long:"freebalanceapp" description:"address of the free balance app definition contract"`

	NodeKeyPath string `long:"nodekeypath" description:"file holding this node's hex-encoded secp256k1 identity key; generated on first run if absent"`

	DefaultTimeoutBlocks uint64 `long:"defaulttimeout" description:"default dispute challenge period, in blocks" default:"100"`

	SendAndWaitTimeout time.Duration `long:"sendandwaittimeout" description:"how long a protocol round waits for a peer's reply before failing" default:"30s"`

	Postgres *PostgresConfig `group:"postgres" namespace:"postgres"`

	Bolt *BoltConfig `group:"bolt" namespace:"bolt"`
}

// PostgresConfig configures the sqlstore backend. Left with an empty DSN,
// the daemon falls back to BoltConfig.
type PostgresConfig struct {
	DSN string `long:"dsn" description:"Postgres connection string"`
}

// BoltConfig configures the boltstore backend.
type BoltConfig struct {
	Dir string `long:"dir" description:"directory holding the bbolt database file" default:"channel.db"`
}

// DefaultConfig returns the zero-value Config pre-filled the way lnd's
// loadConfig seeds defaultCfg before flags.Parse overlays the user's
// choices onto it.
func DefaultConfig() Config {
	return Config{
		DataDir:              "scnode",
		LogDir:               "scnode/logs",
		PeerListen:           "localhost:9735",
		MetricsListen:        "localhost:9736",
		DefaultTimeoutBlocks: 100,
		SendAndWaitTimeout:   30 * time.Second,
		Bolt:                 &BoltConfig{Dir: "channel.db"},
		Postgres:             &PostgresConfig{},
		NodeKeyPath:          "scnode/identity.key",
	}
}
