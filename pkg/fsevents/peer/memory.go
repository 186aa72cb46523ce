package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// MemoryStore is an in-memory receipt store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[receiptKey]storedEmission
	closed bool
}

type receiptKey struct {
	client string
	id     uint64
}

type storedEmission struct {
	client string
	msg    wire.Emission
	at     time.Time
}

// NewMemoryStore creates a new in-memory receipt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[receiptKey]storedEmission),
	}
}

// Record implements Store.
func (m *MemoryStore) Record(client string, msg wire.Emission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	key := receiptKey{client: client, id: msg.DeliveryID}
	if _, ok := m.data[key]; ok {
		return false, nil
	}

	// Copy slices to avoid retaining the caller's backing arrays.
	msg.Blocks = append([][2]int64(nil), msg.Blocks...)
	if msg.FileSize != nil {
		size := *msg.FileSize
		msg.FileSize = &size
	}
	m.data[key] = storedEmission{client: client, msg: msg, at: time.Now().UTC()}
	return true, nil
}

// Load implements Store.
func (m *MemoryStore) Load(client string, id uint64) (wire.Emission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return wire.Emission{}, ErrStoreClosed
	}
	stored, ok := m.data[receiptKey{client: client, id: id}]
	if !ok {
		return wire.Emission{}, ErrNotFound
	}
	return stored.msg, nil
}

// List implements Store.
func (m *MemoryStore) List() ([]Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	receipts := make([]Receipt, 0, len(m.data))
	for _, stored := range m.data {
		receipts = append(receipts, receiptOf(stored.client, stored.msg, stored.at))
	}
	sort.Slice(receipts, func(i, j int) bool {
		if receipts[i].ClientID != receipts[j].ClientID {
			return receipts[i].ClientID < receipts[j].ClientID
		}
		return receipts[i].DeliveryID < receipts[j].DeliveryID
	})
	return receipts, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
