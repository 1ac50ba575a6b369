package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sol1corejz/sendcent/internal/models"
	"github.com/sol1corejz/sendcent/internal/store"
)

// memStore is an in-memory Store for engine tests. A transaction holds the
// store mutex from Begin until Commit or Rollback, which mirrors the
// serialization the row locks provide, and stages its writes so a rollback
// leaves nothing behind.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	txns      map[string]models.Transaction
	byKey     map[string]string
	snapshots []models.BalanceSnapshot
	outbox    []models.OutboxEntry

	// deadlocks makes that many commits fail with the deadlock sentinel.
	deadlocks int
}

func newMemStore(users ...models.User) *memStore {
	s := &memStore{
		users: make(map[int64]*models.User),
		txns:  make(map[string]models.Transaction),
		byKey: make(map[string]string),
	}
	for i := range users {
		u := users[i]
		u.InitialBalance = u.Balance
		s.users[u.ID] = &u
	}
	return s
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{s: s}, nil
}

type memTx struct {
	s        *memStore
	done     bool
	balances map[int64]int64
	txn      *models.Transaction
	snaps    []models.BalanceSnapshot
	entries  []models.OutboxEntry
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.s.mu.Unlock()

	if t.s.deadlocks > 0 {
		t.s.deadlocks--
		return store.ErrDeadlock
	}

	for id, balance := range t.balances {
		t.s.users[id].Balance = balance
	}
	if t.txn != nil {
		t.s.txns[t.txn.UUID] = *t.txn
		t.s.byKey[t.txn.IdempotencyKey] = t.txn.UUID
	}
	t.s.snapshots = append(t.s.snapshots, t.snaps...)
	t.s.outbox = append(t.s.outbox, t.entries...)
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) TransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	uuid, ok := t.s.byKey[key]
	if !ok {
		return models.Transaction{}, store.ErrNotFound
	}
	return t.s.txns[uuid], nil
}

func (t *memTx) LockUsers(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	users := make(map[int64]models.User, len(ids))
	for _, id := range ids {
		if u, ok := t.s.users[id]; ok {
			users[id] = *u
		}
	}
	return users, nil
}

func (t *memTx) UpdateUserBalance(ctx context.Context, userID, balance int64) error {
	if t.balances == nil {
		t.balances = make(map[int64]int64)
	}
	t.balances[userID] = balance
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, ok := t.s.byKey[txn.IdempotencyKey]; ok {
		return store.ErrUniqueViolation
	}
	txn.CreatedAt = time.Now()
	copied := *txn
	t.txn = &copied
	return nil
}

func (t *memTx) InsertBalanceSnapshot(ctx context.Context, snap *models.BalanceSnapshot) error {
	snap.ID = int64(len(t.s.snapshots)+len(t.snaps)) + 1
	snap.CreatedAt = time.Now()
	t.snaps = append(t.snaps, *snap)
	return nil
}

func (t *memTx) InsertOutboxEntry(ctx context.Context, entry *models.OutboxEntry) error {
	entry.ID = int64(len(t.s.outbox)+len(t.entries)) + 1
	entry.CreatedAt = time.Now()
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *memTx) SnapshotsByTransaction(ctx context.Context, uuid string) ([]models.BalanceSnapshot, error) {
	var snapshots []models.BalanceSnapshot
	for _, snap := range t.s.snapshots {
		if snap.TransactionUUID == uuid {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots, nil
}

func (s *memStore) balance(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Balance
}

// conservationHolds checks that commission is the only value leaving the
// closed system: sum(balance - initial_balance) + sum(commission) == 0.
func (s *memStore) conservationHolds() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drift int64
	for _, u := range s.users {
		drift += u.Balance - u.InitialBalance
	}
	for _, txn := range s.txns {
		drift += txn.Commission
	}
	return drift == 0
}
