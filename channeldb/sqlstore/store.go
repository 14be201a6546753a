// Package sqlstore is the Postgres channeldb.Store backend: schema
// migrations run through golang-migrate against database/sql (the
// lib/pq driver), while runtime reads and writes go straight over a pgx
// connection. Splitting the two is deliberate — migrate only knows how
// to drive database/sql drivers, while the rest of this engine's chain
// and protocol code already commits to pgx's richer type support for
// the JSONB channel snapshots.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	_ "github.com/lib/pq"

	"github.com/statechan/scnode/channeldb"
	"github.com/statechan/scnode/statechannel"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a Postgres-backed channeldb.Store.
type Store struct {
	conn *pgx.Conn
}

var _ channeldb.Store = (*Store)(nil)

// Open connects to Postgres at connString, applies any pending schema
// migrations, and returns a ready Store.
func Open(ctx context.Context, connString string) (*Store, error) {
	if err := migrateUp(connString); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}

	return &Store{conn: conn}, nil
}

func migrateUp(connString string) error {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return fmt.Errorf("open database/sql handle: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("build postgres driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Persist implements protocol.Persister: it upserts the channel
// snapshot and appends a row to protocol_batches within a single
// transaction, so a crash between the two can never leave the batch
// history inconsistent with the snapshot it describes.
func (s *Store) Persist(kind string, batch interface{}) error {
	ctx := context.Background()

	record, err := channeldb.Normalize(kind, batch)
	if err != nil {
		return err
	}

	state, err := json.Marshal(record.Channel)
	if err != nil {
		return fmt.Errorf("sqlstore: encode channel: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	multisig := record.Channel.MultisigAddress.Bytes()

	_, err = tx.Exec(ctx, `
		INSERT INTO channels (multisig_address, state, schema_version)
		VALUES ($1, $2, $3)
		ON CONFLICT (multisig_address)
		DO UPDATE SET state = EXCLUDED.state, schema_version = EXCLUDED.schema_version, updated_at = now()
	`, multisig, state, record.Channel.SchemaVersion)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert channel: %w", err)
	}

	var identityHash []byte
	if record.IdentityHash != (common.Hash{}) {
		identityHash = record.IdentityHash.Bytes()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO protocol_batches (multisig_address, kind, identity_hash)
		VALUES ($1, $2, $3)
	`, multisig, record.Kind, identityHash)
	if err != nil {
		return fmt.Errorf("sqlstore: insert batch history: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadChannel fetches the current snapshot for multisig.
func (s *Store) LoadChannel(multisig common.Address) (statechannel.Channel, error) {
	ctx := context.Background()

	var state []byte
	err := s.conn.QueryRow(ctx,
		`SELECT state FROM channels WHERE multisig_address = $1`,
		multisig.Bytes(),
	).Scan(&state)
	if err == pgx.ErrNoRows {
		return statechannel.Channel{}, channeldb.ErrChannelNotFound
	}
	if err != nil {
		return statechannel.Channel{}, fmt.Errorf("sqlstore: load channel: %w", err)
	}

	var c statechannel.Channel
	if err := json.Unmarshal(state, &c); err != nil {
		return statechannel.Channel{}, fmt.Errorf("sqlstore: decode channel: %w", err)
	}
	return c, nil
}

// CreateChannel inserts a brand-new channel, translating the unique-key
// violation Postgres raises on a duplicate multisig_address into
// channeldb.ErrChannelExists.
func (s *Store) CreateChannel(c statechannel.Channel) error {
	ctx := context.Background()

	state, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlstore: encode channel: %w", err)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO channels (multisig_address, state, schema_version)
		VALUES ($1, $2, $3)
	`, c.MultisigAddress.Bytes(), state, c.SchemaVersion)
	if err != nil {
		if isUniqueViolation(err) {
			return channeldb.ErrChannelExists
		}
		return fmt.Errorf("sqlstore: create channel: %w", err)
	}
	return nil
}

// PutChannel inserts or overwrites a channel snapshot outright.
func (s *Store) PutChannel(c statechannel.Channel) error {
	ctx := context.Background()

	state, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlstore: encode channel: %w", err)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO channels (multisig_address, state, schema_version)
		VALUES ($1, $2, $3)
		ON CONFLICT (multisig_address)
		DO UPDATE SET state = EXCLUDED.state, schema_version = EXCLUDED.schema_version, updated_at = now()
	`, c.MultisigAddress.Bytes(), state, c.SchemaVersion)
	if err != nil {
		return fmt.Errorf("sqlstore: put channel: %w", err)
	}
	return nil
}

// ListChannels returns every stored channel snapshot.
func (s *Store) ListChannels() ([]statechannel.Channel, error) {
	ctx := context.Background()

	rows, err := s.conn.Query(ctx, `SELECT state FROM channels`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list channels: %w", err)
	}
	defer rows.Close()

	var channels []statechannel.Channel
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("sqlstore: scan channel: %w", err)
		}
		var c statechannel.Channel
		if err := json.Unmarshal(state, &c); err != nil {
			return nil, fmt.Errorf("sqlstore: decode channel: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, channeldb.ErrNoActiveChannels
	}
	return channels, nil
}

// DeleteChannel removes a channel; its batch history cascades via the
// foreign key's ON DELETE CASCADE.
func (s *Store) DeleteChannel(multisig common.Address) error {
	ctx := context.Background()

	tag, err := s.conn.Exec(ctx,
		`DELETE FROM channels WHERE multisig_address = $1`, multisig.Bytes())
	if err != nil {
		return fmt.Errorf("sqlstore: delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return channeldb.ErrChannelNotFound
	}
	return nil
}

// Close closes the underlying Postgres connection.
func (s *Store) Close() error {
	return s.conn.Close(context.Background())
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, the shape CreateChannel's plain INSERT surfaces when a row
// for the same multisig address already exists.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

func asPgError(err error, target **pgconn.PgError) bool {
	pgErr, ok := err.(*pgconn.PgError)
	if ok {
		*target = pgErr
	}
	return ok
}
