package reputation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	bolt "go.etcd.io/bbolt"
)

const tableReputation = "entities_reputation"

// entryRecord is the RLP encoding of an Entry as stored on disk.
type entryRecord struct {
	Address     common.Address
	OpsSeen     uint64
	OpsIncluded uint64
}

// BoltDB is the durable Store backend, one named table holding every
// entity's entry keyed by address.
type BoltDB struct {
	db *bolt.DB
}

// OpenBoltDB opens (creating if necessary) a durable reputation store at
// path.
func OpenBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("reputation: open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(tableReputation))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("reputation: create table: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// Close releases the underlying file handle.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) Get(addr common.Address) (Entry, bool, error) {
	var out Entry
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(tableReputation))
		raw := bucket.Get(addr.Bytes())
		if raw == nil {
			return nil
		}
		var rec entryRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		out = Entry{Address: rec.Address, OpsSeen: rec.OpsSeen, OpsIncluded: rec.OpsIncluded}
		found = true
		return nil
	})
	return out, found, err
}

func (b *BoltDB) Set(entry Entry) error {
	rec := entryRecord{Address: entry.Address, OpsSeen: entry.OpsSeen, OpsIncluded: entry.OpsIncluded}
	enc, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("reputation: encode entry: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(tableReputation))
		return bucket.Put(entry.Address.Bytes(), enc)
	})
}

func (b *BoltDB) Delete(addr common.Address) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(tableReputation))
		return bucket.Delete(addr.Bytes())
	})
}

func (b *BoltDB) GetAll() ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(tableReputation))
		return bucket.ForEach(func(_, raw []byte) error {
			var rec entryRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			out = append(out, Entry{Address: rec.Address, OpsSeen: rec.OpsSeen, OpsIncluded: rec.OpsIncluded})
			return nil
		})
	})
	return out, err
}

func (b *BoltDB) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(tableReputation)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(tableReputation))
		return err
	})
}
