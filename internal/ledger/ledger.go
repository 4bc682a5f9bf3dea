package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persisted keys. Each holds one independent value.
const (
	KeyScans       = "ecoscan_scans"
	KeyPoints      = "ecoscan_points"
	KeyRedemptions = "ecoscan_redemptions"
)

var errMissingKey = errors.New("key not present")

// IDGenerator generates unique IDs for ledger records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates time-ordered UUIDv7 IDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Ledger owns scans, redemptions and the point balance. It is the only
// writer of the three persisted keys.
type Ledger struct {
	mu          sync.Mutex // serialises read-modify-write sequences
	store       Store
	idGenerator IDGenerator
	timeSource  TimeSource
	events      *broadcaster
}

// New creates a Ledger over store with UUIDv7 IDs and the wall clock
func New(store Store) (*Ledger, error) {
	return NewWithDeps(store, &uuidGenerator{}, &defaultTimeSource{})
}

// NewWithDeps creates a Ledger with custom dependencies for testing
func NewWithDeps(store Store, idGen IDGenerator, timeSrc TimeSource) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	l := &Ledger{
		store:       store,
		idGenerator: idGen,
		timeSource:  timeSrc,
		events:      newBroadcaster(),
	}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

// init creates any absent key with its empty default. Existing values are
// left alone, so it is safe on every startup.
func (l *Ledger) init() error {
	defaults := []struct {
		key   string
		value []byte
	}{
		{KeyScans, []byte("[]")},
		{KeyPoints, []byte("0")},
		{KeyRedemptions, []byte("[]")},
	}
	err := l.store.Update(func(tx Tx) error {
		for _, d := range defaults {
			if _, ok := tx.Get(d.key); ok {
				continue
			}
			if err := tx.Put(d.key, d.value); err != nil {
				return &PersistenceError{Op: "initializing", Key: d.key, Err: err}
			}
		}
		return nil
	})
	return persistErr("initializing ledger", err)
}

// RecordScan stores a new scan at the front of the history and credits its
// points. The record and the credit are written together or not at all.
func (l *Ledger) RecordScan(c Classification) (*ScanRecord, error) {
	if err := validateStruct(c); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeSource.Now()
	record := ScanRecord{
		ID:         l.idGenerator.Generate(),
		Timestamp:  now,
		Label:      c.Label,
		Category:   c.Category,
		Confidence: *c.Confidence,
		Points:     *c.Points,
		Fact:       c.Fact,
		Image:      c.Image,
	}

	var stats Stats
	err := l.store.Update(func(tx Tx) error {
		st, err := readState(tx)
		if err != nil {
			return err
		}
		if st.balance > math.MaxInt-record.Points {
			return invalidInput("points %d would overflow the balance", record.Points)
		}
		st.scans = append([]ScanRecord{record}, st.scans...)
		st.balance += record.Points
		if err := writeJSON(tx, KeyScans, st.scans); err != nil {
			return err
		}
		if err := writeBalance(tx, st.balance); err != nil {
			return err
		}
		stats = computeStats(st, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return nil, persistErr("recording scan", err)
	}

	l.events.publish(Event{Kind: EventScan, Stats: stats})
	return &record, nil
}

// ListScans returns the scans matching f, most recent first. Filters
// outside the known windows are rejected.
func (l *Ledger) ListScans(f Filter) ([]ScanRecord, error) {
	if !f.Valid() {
		return nil, invalidInput("unknown filter %q", string(f))
	}
	st, err := l.snapshot()
	if err != nil {
		return nil, err
	}
	return filterScans(st.scans, f, l.timeSource.Now()), nil
}

// CategoryCounts counts every stored scan by label
func (l *Ledger) CategoryCounts() (map[string]int, error) {
	st, err := l.snapshot()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, s := range st.scans {
		counts[s.Label]++
	}
	return counts, nil
}

// CurrentBalance returns the persisted point balance
func (l *Ledger) CurrentBalance() (int, error) {
	var balance int
	err := l.store.View(func(tx Tx) error {
		var err error
		balance, err = readBalance(tx)
		return err
	})
	if err != nil {
		return 0, persistErr("reading balance", err)
	}
	return balance, nil
}

// Redeem debits cost from the balance and records the redemption. When the
// balance is too low nothing is written and the error matches
// ErrInsufficientBalance.
func (l *Ledger) Redeem(reward string, cost int) (*RedemptionRecord, error) {
	reward = strings.TrimSpace(reward)
	if reward == "" {
		return nil, invalidInput("reward name is required")
	}
	if cost <= 0 {
		return nil, invalidInput("points cost must be positive, got %d", cost)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeSource.Now()
	record := RedemptionRecord{
		ID:        l.idGenerator.Generate(),
		Timestamp: now,
		Reward:    reward,
		Points:    cost,
	}

	var stats Stats
	err := l.store.Update(func(tx Tx) error {
		st, err := readState(tx)
		if err != nil {
			return err
		}
		if st.balance < cost {
			return &InsufficientBalanceError{Balance: st.balance, Cost: cost}
		}
		st.redemptions = append([]RedemptionRecord{record}, st.redemptions...)
		st.balance -= cost
		if err := writeJSON(tx, KeyRedemptions, st.redemptions); err != nil {
			return err
		}
		if err := writeBalance(tx, st.balance); err != nil {
			return err
		}
		stats = computeStats(st, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, err
		}
		return nil, persistErr("redeeming points", err)
	}

	l.events.publish(Event{Kind: EventRedemption, Stats: stats})
	return &record, nil
}

// ListRedemptions returns every redemption, most recent first
func (l *Ledger) ListRedemptions() ([]RedemptionRecord, error) {
	st, err := l.snapshot()
	if err != nil {
		return nil, err
	}
	return st.redemptions, nil
}

// ComputeStats derives the aggregate view from one consistent snapshot
func (l *Ledger) ComputeStats() (Stats, error) {
	st, err := l.snapshot()
	if err != nil {
		return Stats{}, err
	}
	return computeStats(st, l.timeSource.Now()), nil
}

func (l *Ledger) snapshot() (*state, error) {
	var st *state
	err := l.store.View(func(tx Tx) error {
		var err error
		st, err = readState(tx)
		return err
	})
	if err != nil {
		return nil, persistErr("reading ledger", err)
	}
	return st, nil
}

// state is everything persisted, decoded
type state struct {
	scans       []ScanRecord
	balance     int
	redemptions []RedemptionRecord
}

func readState(tx Tx) (*state, error) {
	st := &state{}
	if err := readJSON(tx, KeyScans, &st.scans); err != nil {
		return nil, err
	}
	balance, err := readBalance(tx)
	if err != nil {
		return nil, err
	}
	st.balance = balance
	if err := readJSON(tx, KeyRedemptions, &st.redemptions); err != nil {
		return nil, err
	}
	if st.scans == nil {
		st.scans = []ScanRecord{}
	}
	if st.redemptions == nil {
		st.redemptions = []RedemptionRecord{}
	}
	return st, nil
}

func readJSON(tx Tx, key string, v any) error {
	data, ok := tx.Get(key)
	if !ok {
		return &PersistenceError{Op: "reading", Key: key, Err: errMissingKey}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &PersistenceError{Op: "decoding", Key: key, Err: err}
	}
	return nil
}

func readBalance(tx Tx) (int, error) {
	data, ok := tx.Get(KeyPoints)
	if !ok {
		return 0, &PersistenceError{Op: "reading", Key: KeyPoints, Err: errMissingKey}
	}
	balance, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, &PersistenceError{Op: "decoding", Key: KeyPoints, Err: err}
	}
	if balance < 0 {
		return 0, &PersistenceError{Op: "decoding", Key: KeyPoints, Err: fmt.Errorf("negative balance %d", balance)}
	}
	return balance, nil
}

func writeJSON(tx Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "encoding", Key: key, Err: err}
	}
	if err := tx.Put(key, data); err != nil {
		return &PersistenceError{Op: "writing", Key: key, Err: err}
	}
	return nil
}

func writeBalance(tx Tx, balance int) error {
	if err := tx.Put(KeyPoints, []byte(strconv.Itoa(balance))); err != nil {
		return &PersistenceError{Op: "writing", Key: KeyPoints, Err: err}
	}
	return nil
}

// persistErr makes sure a storage failure matches ErrPersistence
func persistErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
