package mempool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/aabundler/uopool/uotypes"
)

// perEntryPoint holds the primary store and secondary indices for a
// single EntryPoint deployment. A MemDB keeps one of these per entry
// point so distinct EntryPoint addresses never share an index.
type perEntryPoint struct {
	ops        map[common.Hash]*uotypes.UserOperation
	bySender   map[common.Address]map[common.Hash]struct{}
	byEntity   map[common.Address]map[common.Hash]struct{}
	codeHash   map[common.Hash][]CodeHash
	validUntil map[common.Hash]uint64
}

func newPerEntryPoint() *perEntryPoint {
	return &perEntryPoint{
		ops:        make(map[common.Hash]*uotypes.UserOperation),
		bySender:   make(map[common.Address]map[common.Hash]struct{}),
		byEntity:   make(map[common.Address]map[common.Hash]struct{}),
		codeHash:   make(map[common.Hash][]CodeHash),
		validUntil: make(map[common.Hash]uint64),
	}
}

// MemDB is the in-memory Mempool backend: a per-process cache with no
// durability, suited to tests and to bundlers that can tolerate losing
// the pool on restart.
type MemDB struct {
	entryPoints map[common.Address]*perEntryPoint
}

// NewMemDB returns an empty in-memory mempool.
func NewMemDB() *MemDB {
	return &MemDB{entryPoints: make(map[common.Address]*perEntryPoint)}
}

func (m *MemDB) table(entryPoint common.Address) *perEntryPoint {
	t, ok := m.entryPoints[entryPoint]
	if !ok {
		t = newPerEntryPoint()
		m.entryPoints[entryPoint] = t
	}
	return t
}

func indexAdd(idx map[common.Address]map[common.Hash]struct{}, addr common.Address, hash common.Hash) {
	set, ok := idx[addr]
	if !ok {
		set = make(map[common.Hash]struct{})
		idx[addr] = set
	}
	set[hash] = struct{}{}
}

func indexRemove(idx map[common.Address]map[common.Hash]struct{}, addr common.Address, hash common.Hash) {
	set, ok := idx[addr]
	if !ok {
		return
	}
	delete(set, hash)
	if len(set) == 0 {
		delete(idx, addr)
	}
}

func (m *MemDB) Add(entryPoint common.Address, op *uotypes.UserOperation, hash common.Hash) error {
	t := m.table(entryPoint)
	if old, ok := t.ops[hash]; ok {
		m.removeIndices(t, old, hash)
	}
	cp := op.Copy()
	t.ops[hash] = cp
	indexAdd(t.bySender, cp.Sender, hash)
	for _, e := range cp.Entities() {
		if e.Kind == uotypes.EntityAccount {
			continue
		}
		indexAdd(t.byEntity, e.Address, hash)
	}
	return nil
}

func (m *MemDB) Get(entryPoint common.Address, hash common.Hash) (*uotypes.UserOperation, error) {
	t := m.table(entryPoint)
	op, ok := t.ops[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return op.Copy(), nil
}

func (m *MemDB) GetAllBySender(entryPoint common.Address, sender common.Address) ([]*uotypes.UserOperation, error) {
	t := m.table(entryPoint)
	var out []*uotypes.UserOperation
	for hash := range t.bySender[sender] {
		if op, ok := t.ops[hash]; ok {
			out = append(out, op.Copy())
		}
	}
	return out, nil
}

func (m *MemDB) GetNumberBySender(entryPoint common.Address, sender common.Address) (int, error) {
	t := m.table(entryPoint)
	return len(t.bySender[sender]), nil
}

func (m *MemDB) GetNumberByEntity(entryPoint common.Address, entity common.Address) (int, error) {
	t := m.table(entryPoint)
	return len(t.byEntity[entity]), nil
}

func (m *MemDB) HasCodeHashes(entryPoint common.Address, hash common.Hash) (bool, error) {
	t := m.table(entryPoint)
	hashes, ok := t.codeHash[hash]
	return ok && len(hashes) > 0, nil
}

func (m *MemDB) GetCodeHashes(entryPoint common.Address, hash common.Hash) ([]CodeHash, error) {
	t := m.table(entryPoint)
	return append([]CodeHash(nil), t.codeHash[hash]...), nil
}

func (m *MemDB) SetCodeHashes(entryPoint common.Address, hash common.Hash, hashes []CodeHash) error {
	t := m.table(entryPoint)
	t.codeHash[hash] = append([]CodeHash(nil), hashes...)
	return nil
}

func (m *MemDB) SetValidUntil(entryPoint common.Address, hash common.Hash, validUntil uint64) error {
	t := m.table(entryPoint)
	t.validUntil[hash] = validUntil
	return nil
}

func (m *MemDB) GetValidUntil(entryPoint common.Address, hash common.Hash) (uint64, bool, error) {
	t := m.table(entryPoint)
	v, ok := t.validUntil[hash]
	return v, ok, nil
}

func (m *MemDB) removeIndices(t *perEntryPoint, op *uotypes.UserOperation, hash common.Hash) {
	indexRemove(t.bySender, op.Sender, hash)
	for _, e := range op.Entities() {
		if e.Kind == uotypes.EntityAccount {
			continue
		}
		indexRemove(t.byEntity, e.Address, hash)
	}
	delete(t.codeHash, hash)
	delete(t.validUntil, hash)
}

func (m *MemDB) Remove(entryPoint common.Address, hash common.Hash) error {
	t := m.table(entryPoint)
	op, ok := t.ops[hash]
	if !ok {
		return ErrNotFound
	}
	m.removeIndices(t, op, hash)
	delete(t.ops, hash)
	return nil
}

func (m *MemDB) RemoveByEntity(entryPoint common.Address, entity common.Address) ([]common.Hash, error) {
	t := m.table(entryPoint)
	hashes := make([]common.Hash, 0, len(t.byEntity[entity])+len(t.bySender[entity]))
	seen := make(map[common.Hash]struct{})
	for hash := range t.byEntity[entity] {
		seen[hash] = struct{}{}
	}
	for hash := range t.bySender[entity] {
		seen[hash] = struct{}{}
	}
	for hash := range seen {
		hashes = append(hashes, hash)
	}
	for _, hash := range hashes {
		if op, ok := t.ops[hash]; ok {
			m.removeIndices(t, op, hash)
			delete(t.ops, hash)
		}
	}
	return hashes, nil
}

func (m *MemDB) GetSorted(entryPoint common.Address) ([]*uotypes.UserOperation, error) {
	ops, err := m.GetAll(entryPoint)
	if err != nil {
		return nil, err
	}
	sortForBundling(ops)
	return ops, nil
}

func (m *MemDB) GetAll(entryPoint common.Address) ([]*uotypes.UserOperation, error) {
	t := m.table(entryPoint)
	out := make([]*uotypes.UserOperation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, op.Copy())
	}
	return out, nil
}

func (m *MemDB) Clear(entryPoint common.Address) error {
	delete(m.entryPoints, entryPoint)
	return nil
}
