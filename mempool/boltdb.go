package mempool

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"github.com/aabundler/uopool/uotypes"
)

// Bucket names nested under each EntryPoint's top-level bucket. Table
// names are kept short and stable: they are part of the on-disk format.
const (
	tableUserOperations = "user_operations"
	tableBySender       = "user_operations_by_sender"
	tableByEntity       = "user_operations_by_entity"
	tableCodeHashes     = "code_hashes"
	tableValidUntil     = "valid_until"
)

// opRecord is the RLP encoding of a UserOperation as stored on disk,
// including the signature (unlike the hash pre-image, storage must
// round-trip the operation exactly).
type opRecord struct {
	Sender               common.Address
	Nonce                *uint256.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *uint256.Int
	VerificationGasLimit *uint256.Int
	PreVerificationGas   *uint256.Int
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	PaymasterAndData     []byte
	Signature            []byte
}

func toOpRecord(op *uotypes.UserOperation) *opRecord {
	return &opRecord{
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		MaxFeePerGas:         op.MaxFeePerGas,
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas,
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
}

func fromOpRecord(rec *opRecord) *uotypes.UserOperation {
	return &uotypes.UserOperation{
		Sender:               rec.Sender,
		Nonce:                rec.Nonce,
		InitCode:             rec.InitCode,
		CallData:             rec.CallData,
		CallGasLimit:         rec.CallGasLimit,
		VerificationGasLimit: rec.VerificationGasLimit,
		PreVerificationGas:   rec.PreVerificationGas,
		MaxFeePerGas:         rec.MaxFeePerGas,
		MaxPriorityFeePerGas: rec.MaxPriorityFeePerGas,
		PaymasterAndData:     rec.PaymasterAndData,
		Signature:            rec.Signature,
	}
}

// BoltDB is the durable Mempool backend. Each EntryPoint gets its own
// top-level bucket so pools for distinct EntryPoint deployments never
// collide; within it, named tables mirror the reference implementation's
// mdbx database: the primary hash-keyed store, the sender and entity
// secondary indices (dup keys emulated as composite keys scanned with a
// cursor prefix seek), the code-hash cache and the validity-window cache.
type BoltDB struct {
	db *bolt.DB
}

// OpenBoltDB opens (creating if necessary) a durable mempool at path.
func OpenBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("mempool: open bolt db: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// Close releases the underlying file handle.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func epBucketName(entryPoint common.Address) []byte {
	return []byte("ep_" + entryPoint.Hex())
}

func (b *BoltDB) withTables(entryPoint common.Address, writable bool, fn func(ops, bySender, byEntity, codeHashes, validUntil *bolt.Bucket) error) error {
	do := func(tx *bolt.Tx) error {
		root, err := rootBucket(tx, entryPoint, writable)
		if err != nil {
			return err
		}
		if root == nil {
			return fn(nil, nil, nil, nil, nil)
		}
		ops, err := subBucket(root, tableUserOperations, writable)
		if err != nil {
			return err
		}
		bySender, err := subBucket(root, tableBySender, writable)
		if err != nil {
			return err
		}
		byEntity, err := subBucket(root, tableByEntity, writable)
		if err != nil {
			return err
		}
		codeHashes, err := subBucket(root, tableCodeHashes, writable)
		if err != nil {
			return err
		}
		validUntil, err := subBucket(root, tableValidUntil, writable)
		if err != nil {
			return err
		}
		return fn(ops, bySender, byEntity, codeHashes, validUntil)
	}
	if writable {
		return b.db.Update(do)
	}
	return b.db.View(do)
}

func rootBucket(tx *bolt.Tx, entryPoint common.Address, writable bool) (*bolt.Bucket, error) {
	name := epBucketName(entryPoint)
	if writable {
		return tx.CreateBucketIfNotExists(name)
	}
	return tx.Bucket(name), nil
}

func subBucket(root *bolt.Bucket, name string, writable bool) (*bolt.Bucket, error) {
	if writable {
		return root.CreateBucketIfNotExists([]byte(name))
	}
	return root.Bucket([]byte(name)), nil
}

// compositeKey concatenates an index address with the primary hash, the
// dup-key emulation used for the sender and entity tables: a cursor Seek
// on the address prefix followed by Next while the prefix matches yields
// every hash indexed under that address.
func compositeKey(addr common.Address, hash common.Hash) []byte {
	key := make([]byte, common.AddressLength+common.HashLength)
	copy(key, addr.Bytes())
	copy(key[common.AddressLength:], hash.Bytes())
	return key
}

func scanPrefix(bucket *bolt.Bucket, prefix []byte) []common.Hash {
	if bucket == nil {
		return nil
	}
	var hashes []common.Hash
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		hashes = append(hashes, common.BytesToHash(k[common.AddressLength:]))
	}
	return hashes
}

func (b *BoltDB) Add(entryPoint common.Address, op *uotypes.UserOperation, hash common.Hash) error {
	return b.withTables(entryPoint, true, func(ops, bySender, byEntity, codeHashes, _ *bolt.Bucket) error {
		if raw := ops.Get(hash.Bytes()); raw != nil {
			var old opRecord
			if err := rlp.DecodeBytes(raw, &old); err == nil {
				removeIndexEntries(bySender, byEntity, &old, hash)
			}
		}
		enc, err := rlp.EncodeToBytes(toOpRecord(op))
		if err != nil {
			return fmt.Errorf("mempool: encode user operation: %w", err)
		}
		if err := ops.Put(hash.Bytes(), enc); err != nil {
			return err
		}
		if err := bySender.Put(compositeKey(op.Sender, hash), []byte{}); err != nil {
			return err
		}
		for _, e := range op.Entities() {
			if e.Kind == uotypes.EntityAccount {
				continue
			}
			if err := byEntity.Put(compositeKey(e.Address, hash), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func removeIndexEntries(bySender, byEntity *bolt.Bucket, rec *opRecord, hash common.Hash) {
	op := fromOpRecord(rec)
	_ = bySender.Delete(compositeKey(op.Sender, hash))
	for _, e := range op.Entities() {
		if e.Kind == uotypes.EntityAccount {
			continue
		}
		_ = byEntity.Delete(compositeKey(e.Address, hash))
	}
}

func (b *BoltDB) Get(entryPoint common.Address, hash common.Hash) (*uotypes.UserOperation, error) {
	var out *uotypes.UserOperation
	err := b.withTables(entryPoint, false, func(ops, _, _, _, _ *bolt.Bucket) error {
		if ops == nil {
			return ErrNotFound
		}
		raw := ops.Get(hash.Bytes())
		if raw == nil {
			return ErrNotFound
		}
		var rec opRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return fmt.Errorf("mempool: decode user operation: %w", err)
		}
		out = fromOpRecord(&rec)
		return nil
	})
	return out, err
}

func (b *BoltDB) GetAllBySender(entryPoint common.Address, sender common.Address) ([]*uotypes.UserOperation, error) {
	var out []*uotypes.UserOperation
	err := b.withTables(entryPoint, false, func(ops, bySender, _, _, _ *bolt.Bucket) error {
		for _, hash := range scanPrefix(bySender, sender.Bytes()) {
			raw := ops.Get(hash.Bytes())
			if raw == nil {
				continue
			}
			var rec opRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			out = append(out, fromOpRecord(&rec))
		}
		return nil
	})
	return out, err
}

func (b *BoltDB) GetNumberBySender(entryPoint common.Address, sender common.Address) (int, error) {
	var n int
	err := b.withTables(entryPoint, false, func(_, bySender, _, _, _ *bolt.Bucket) error {
		n = len(scanPrefix(bySender, sender.Bytes()))
		return nil
	})
	return n, err
}

func (b *BoltDB) GetNumberByEntity(entryPoint common.Address, entity common.Address) (int, error) {
	var n int
	err := b.withTables(entryPoint, false, func(_, _, byEntity, _, _ *bolt.Bucket) error {
		n = len(scanPrefix(byEntity, entity.Bytes()))
		return nil
	})
	return n, err
}

func (b *BoltDB) HasCodeHashes(entryPoint common.Address, hash common.Hash) (bool, error) {
	var has bool
	err := b.withTables(entryPoint, false, func(_, _, _, codeHashes, _ *bolt.Bucket) error {
		if codeHashes == nil {
			return nil
		}
		has = codeHashes.Get(hash.Bytes()) != nil
		return nil
	})
	return has, err
}

func (b *BoltDB) GetCodeHashes(entryPoint common.Address, hash common.Hash) ([]CodeHash, error) {
	var out []CodeHash
	err := b.withTables(entryPoint, false, func(_, _, _, codeHashes, _ *bolt.Bucket) error {
		if codeHashes == nil {
			return nil
		}
		raw := codeHashes.Get(hash.Bytes())
		if raw == nil {
			return nil
		}
		var recs []codeHashRecord
		if err := rlp.DecodeBytes(raw, &recs); err != nil {
			return err
		}
		for _, r := range recs {
			out = append(out, CodeHash{Address: r.Address, Hash: r.Hash})
		}
		return nil
	})
	return out, err
}

type codeHashRecord struct {
	Address common.Address
	Hash    common.Hash
}

func (b *BoltDB) SetCodeHashes(entryPoint common.Address, hash common.Hash, hashes []CodeHash) error {
	recs := make([]codeHashRecord, len(hashes))
	for i, h := range hashes {
		recs[i] = codeHashRecord{Address: h.Address, Hash: h.Hash}
	}
	enc, err := rlp.EncodeToBytes(recs)
	if err != nil {
		return fmt.Errorf("mempool: encode code hashes: %w", err)
	}
	return b.withTables(entryPoint, true, func(_, _, _, codeHashes, _ *bolt.Bucket) error {
		return codeHashes.Put(hash.Bytes(), enc)
	})
}

// SetValidUntil records the validity-window upper bound admitted for hash.
func (b *BoltDB) SetValidUntil(entryPoint common.Address, hash common.Hash, validUntil uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, validUntil)
	return b.withTables(entryPoint, true, func(_, _, _, _, validUntilBucket *bolt.Bucket) error {
		return validUntilBucket.Put(hash.Bytes(), buf)
	})
}

// GetValidUntil returns the validity-window upper bound recorded for hash.
func (b *BoltDB) GetValidUntil(entryPoint common.Address, hash common.Hash) (uint64, bool, error) {
	var v uint64
	var ok bool
	err := b.withTables(entryPoint, false, func(_, _, _, _, validUntilBucket *bolt.Bucket) error {
		if validUntilBucket == nil {
			return nil
		}
		raw := validUntilBucket.Get(hash.Bytes())
		if raw == nil {
			return nil
		}
		v = binary.BigEndian.Uint64(raw)
		ok = true
		return nil
	})
	return v, ok, err
}

func (b *BoltDB) Remove(entryPoint common.Address, hash common.Hash) error {
	return b.withTables(entryPoint, true, func(ops, bySender, byEntity, codeHashes, validUntil *bolt.Bucket) error {
		raw := ops.Get(hash.Bytes())
		if raw == nil {
			return ErrNotFound
		}
		var rec opRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		removeIndexEntries(bySender, byEntity, &rec, hash)
		_ = codeHashes.Delete(hash.Bytes())
		_ = validUntil.Delete(hash.Bytes())
		return ops.Delete(hash.Bytes())
	})
}

func (b *BoltDB) RemoveByEntity(entryPoint common.Address, entity common.Address) ([]common.Hash, error) {
	var removed []common.Hash
	err := b.withTables(entryPoint, true, func(ops, bySender, byEntity, codeHashes, validUntil *bolt.Bucket) error {
		seen := make(map[common.Hash]struct{})
		for _, h := range scanPrefix(byEntity, entity.Bytes()) {
			seen[h] = struct{}{}
		}
		for _, h := range scanPrefix(bySender, entity.Bytes()) {
			seen[h] = struct{}{}
		}
		for hash := range seen {
			raw := ops.Get(hash.Bytes())
			if raw == nil {
				continue
			}
			var rec opRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			removeIndexEntries(bySender, byEntity, &rec, hash)
			_ = codeHashes.Delete(hash.Bytes())
			_ = validUntil.Delete(hash.Bytes())
			if err := ops.Delete(hash.Bytes()); err != nil {
				return err
			}
			removed = append(removed, hash)
		}
		return nil
	})
	return removed, err
}

func (b *BoltDB) GetAll(entryPoint common.Address) ([]*uotypes.UserOperation, error) {
	var out []*uotypes.UserOperation
	err := b.withTables(entryPoint, false, func(ops, _, _, _, _ *bolt.Bucket) error {
		if ops == nil {
			return nil
		}
		return ops.ForEach(func(_, raw []byte) error {
			var rec opRecord
			if err := rlp.DecodeBytes(raw, &rec); err != nil {
				return err
			}
			out = append(out, fromOpRecord(&rec))
			return nil
		})
	})
	return out, err
}

func (b *BoltDB) GetSorted(entryPoint common.Address) ([]*uotypes.UserOperation, error) {
	ops, err := b.GetAll(entryPoint)
	if err != nil {
		return nil, err
	}
	sortForBundling(ops)
	return ops, nil
}

func (b *BoltDB) Clear(entryPoint common.Address) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		name := epBucketName(entryPoint)
		if tx.Bucket(name) == nil {
			return nil
		}
		return tx.DeleteBucket(name)
	})
}
