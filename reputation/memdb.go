package reputation

import "github.com/ethereum/go-ethereum/common"

// MemDB is the in-memory Store backend.
type MemDB struct {
	entries map[common.Address]Entry
}

// NewMemDB returns an empty in-memory reputation store.
func NewMemDB() *MemDB {
	return &MemDB{entries: make(map[common.Address]Entry)}
}

func (m *MemDB) Get(addr common.Address) (Entry, bool, error) {
	e, ok := m.entries[addr]
	return e, ok, nil
}

func (m *MemDB) Set(entry Entry) error {
	m.entries[entry.Address] = entry
	return nil
}

func (m *MemDB) Delete(addr common.Address) error {
	delete(m.entries, addr)
	return nil
}

func (m *MemDB) GetAll() ([]Entry, error) {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemDB) Clear() error {
	m.entries = make(map[common.Address]Entry)
	return nil
}
