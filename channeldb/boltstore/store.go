// Package boltstore is the embedded-database channeldb.Store backend: a
// single bbolt file holding every channel this node knows about, laid
// out the way channeldb/db.go lays out lnd's channel.db — a top-level
// bucket keyed by a stable identifier, a meta bucket tracking schema
// version, and a history bucket recording what happened rather than
// just the latest snapshot.
package boltstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"github.com/statechan/scnode/channeldb"
	"github.com/statechan/scnode/statechannel"
)

const (
	dbFileName       = "scnode.db"
	dbFilePermission = 0600
	schemaVersion    = 1
)

var (
	channelsBucket = []byte("channels")
	batchesBucket  = []byte("batches")
	metaBucket     = []byte("meta")
	schemaKey      = []byte("schema-version")
)

// Store is a bbolt-backed channeldb.Store.
type Store struct {
	db *bolt.DB
}

var _ channeldb.Store = (*Store)(nil)

// Open opens (creating if necessary) the bbolt database rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("boltstore: create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, dbFileName), dbFilePermission, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{channelsBucket, batchesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		meta := tx.Bucket(metaBucket)
		if meta.Get(schemaKey) == nil {
			return meta.Put(schemaKey, []byte{schemaVersion})
		}
		return nil
	})
}

func channelKey(multisig common.Address) []byte {
	return multisig.Bytes()
}

// Persist implements protocol.Persister: it normalizes the protocol
// package's batch type into a channeldb.BatchRecord, writes the
// resulting channel snapshot, and appends a history entry under
// batchesBucket keyed by multisig+monotonic sequence.
func (s *Store) Persist(kind string, batch interface{}) error {
	record, err := channeldb.Normalize(kind, batch)
	if err != nil {
		return err
	}

	snapshot, err := json.Marshal(record.Channel)
	if err != nil {
		return fmt.Errorf("boltstore: encode channel: %w", err)
	}

	historyEntry, err := json.Marshal(struct {
		Kind         string
		IdentityHash common.Hash
	}{record.Kind, record.IdentityHash})
	if err != nil {
		return fmt.Errorf("boltstore: encode history entry: %w", err)
	}

	key := channelKey(record.Channel.MultisigAddress)

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(channelsBucket).Put(key, snapshot); err != nil {
			return err
		}

		history, err := tx.Bucket(batchesBucket).CreateBucketIfNotExists(key)
		if err != nil {
			return err
		}
		seq, err := history.NextSequence()
		if err != nil {
			return err
		}
		return history.Put(itob(seq), historyEntry)
	})
}

// LoadChannel fetches the current snapshot for multisig.
func (s *Store) LoadChannel(multisig common.Address) (statechannel.Channel, error) {
	var c statechannel.Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(channelsBucket).Get(channelKey(multisig))
		if raw == nil {
			return channeldb.ErrChannelNotFound
		}
		return json.Unmarshal(raw, &c)
	})
	return c, err
}

// CreateChannel inserts a brand-new channel, failing if one already
// exists under this multisig address.
func (s *Store) CreateChannel(c statechannel.Channel) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("boltstore: encode channel: %w", err)
	}
	key := channelKey(c.MultisigAddress)

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelsBucket)
		if bucket.Get(key) != nil {
			return channeldb.ErrChannelExists
		}
		return bucket.Put(key, raw)
	})
}

// PutChannel inserts or overwrites a channel snapshot outright.
func (s *Store) PutChannel(c statechannel.Channel) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("boltstore: encode channel: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(channelsBucket).Put(channelKey(c.MultisigAddress), raw)
	})
}

// ListChannels returns every stored channel snapshot.
func (s *Store) ListChannels() ([]statechannel.Channel, error) {
	var channels []statechannel.Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(channelsBucket).ForEach(func(k, v []byte) error {
			var c statechannel.Channel
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			channels = append(channels, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, channeldb.ErrNoActiveChannels
	}
	return channels, nil
}

// DeleteChannel removes a channel's snapshot and history.
func (s *Store) DeleteChannel(multisig common.Address) error {
	key := channelKey(multisig)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(channelsBucket).Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(batchesBucket).DeleteBucket(key); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		return nil
	})
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	var buf bytes.Buffer
	for i := 7; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * uint(i))))
	}
	return buf.Bytes()
}
