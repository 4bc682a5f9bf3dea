package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "ledger"

// Store is the key-value port the ledger persists through
type Store interface {
	// View runs fn against a read-only snapshot
	View(fn func(tx Tx) error) error

	// Update runs fn in a write transaction. Writes are applied only if fn
	// returns nil.
	Update(fn func(tx Tx) error) error

	// Close releases the underlying storage
	Close() error
}

// Tx is a single storage transaction
type Tx interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// View implements Store
func (b *BoltStore) View(fn func(tx Tx) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket([]byte(bucketName))})
	})
}

// Update implements Store
func (b *BoltStore) Update(fn func(tx Tx) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket([]byte(bucketName))})
	})
}

// Close closes the database file
func (b *BoltStore) Close() error {
	return b.db.Close()
}

type boltTx struct {
	bucket *bbolt.Bucket
}

func (t *boltTx) Get(key string) ([]byte, bool) {
	data := t.bucket.Get([]byte(key))
	if data == nil {
		return nil, false
	}
	// bolt memory is only valid for the life of the transaction
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (t *boltTx) Put(key string, value []byte) error {
	return t.bucket.Put([]byte(key), value)
}

// MemoryStore is an in-process Store. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// View implements Store
func (m *MemoryStore) View(fn func(tx Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{base: m.data})
}

// Update implements Store
func (m *MemoryStore) Update(fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{base: m.data, staged: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.staged {
		m.data[k] = v
	}
	return nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	base   map[string][]byte
	staged map[string][]byte // nil for read-only transactions
}

func (t *memoryTx) Get(key string) ([]byte, bool) {
	if v, ok := t.staged[key]; ok {
		return append([]byte(nil), v...), true
	}
	v, ok := t.base[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (t *memoryTx) Put(key string, value []byte) error {
	if t.staged == nil {
		return fmt.Errorf("put %s: read-only transaction", key)
	}
	t.staged[key] = append([]byte(nil), value...)
	return nil
}
