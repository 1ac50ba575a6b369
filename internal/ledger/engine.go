package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/models"
	"github.com/sol1corejz/sendcent/internal/store"
)

const (
	maxAttempts  = 3
	retryBackoff = 100 * time.Millisecond
)

// Store is the persistence capability the engine needs. The concrete
// Postgres store satisfies it; tests substitute an in-memory one.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transaction handle. Locks taken through it are held until Commit
// or Rollback.
type Tx interface {
	Commit() error
	Rollback() error
	TransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error)
	LockUsers(ctx context.Context, ids []int64) (map[int64]models.User, error)
	UpdateUserBalance(ctx context.Context, userID, balance int64) error
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	InsertBalanceSnapshot(ctx context.Context, snap *models.BalanceSnapshot) error
	InsertOutboxEntry(ctx context.Context, entry *models.OutboxEntry) error
	SnapshotsByTransaction(ctx context.Context, uuid string) ([]models.BalanceSnapshot, error)
}

type TransferInput struct {
	SenderID       int64
	ReceiverID     int64
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]any
}

type TransferResult struct {
	Transaction     models.Transaction
	SenderBalance   int64
	ReceiverBalance int64
	Replayed        bool
}

type Engine struct {
	store  Store
	notify func()
}

// NewEngine builds a transfer engine. notify is called after every freshly
// committed transfer to wake the outbox worker; it may be nil. The signal is
// lossy on crash, the worker's poll tick is the backstop.
func NewEngine(st Store, notify func()) *Engine {
	return &Engine{store: st, notify: notify}
}

// Transfer moves amount from sender to receiver as one atomic unit: both
// balance updates, the ledger row, two post-transfer snapshots and a pending
// outbox entry commit together. Deadlocks are retried with linear backoff;
// a replayed idempotency key returns the original transaction untouched.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.SenderID == in.ReceiverID {
		return TransferResult{}, ErrSelfTransfer
	}
	if in.Amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if in.IdempotencyKey == "" {
		return TransferResult{}, ErrInvalidIdempotencyKey
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.attempt(ctx, in)
		if err == nil {
			if e.notify != nil && !result.Replayed {
				e.notify()
			}
			return result, nil
		}

		if !retryable(err) {
			return TransferResult{}, err
		}

		logger.Log.Warn("Transfer hit lock contention",
			zap.Int("attempt", attempt),
			zap.Int64("sender_id", in.SenderID),
			zap.Int64("receiver_id", in.ReceiverID),
			zap.Error(err),
		)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return TransferResult{}, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}

	return TransferResult{}, ErrLockContention
}

// retryable covers the deadlock class: genuine deadlocks surfaced by the
// store, and the unique-constraint race on the idempotency key (a concurrent
// attempt got past the locked lookup first; the next attempt replays it).
func retryable(err error) bool {
	return errors.Is(err, store.ErrDeadlock) || errors.Is(err, store.ErrUniqueViolation)
}

func (e *Engine) attempt(ctx context.Context, in TransferInput) (TransferResult, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return TransferResult{}, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	existing, err := tx.TransactionByIdempotencyKey(ctx, in.IdempotencyKey)
	if err == nil {
		result, err := replayResult(ctx, tx, existing)
		if err != nil {
			return TransferResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return TransferResult{}, err
		}
		committed = true
		return result, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return TransferResult{}, err
	}

	ids := []int64{in.SenderID, in.ReceiverID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	users, err := tx.LockUsers(ctx, ids)
	if err != nil {
		return TransferResult{}, err
	}

	sender, ok := users[in.SenderID]
	if !ok {
		return TransferResult{}, ErrUserNotFound
	}
	receiver, ok := users[in.ReceiverID]
	if !ok {
		return TransferResult{}, ErrUserNotFound
	}

	commission := Commission(in.Amount)
	debited := in.Amount + commission
	if sender.Balance < debited {
		return TransferResult{}, ErrInsufficientBalance
	}

	sender.Balance -= debited
	receiver.Balance += in.Amount

	if err := tx.UpdateUserBalance(ctx, sender.ID, sender.Balance); err != nil {
		return TransferResult{}, err
	}
	if err := tx.UpdateUserBalance(ctx, receiver.ID, receiver.Balance); err != nil {
		return TransferResult{}, err
	}

	txn := &models.Transaction{
		UUID:           uuid.NewString(),
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Amount:         in.Amount,
		Commission:     commission,
		Status:         models.TransactionCompleted,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       in.Metadata,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return TransferResult{}, err
	}

	senderSnap := &models.BalanceSnapshot{
		UserID:          sender.ID,
		Balance:         sender.Balance,
		TransactionUUID: txn.UUID,
	}
	if err := tx.InsertBalanceSnapshot(ctx, senderSnap); err != nil {
		return TransferResult{}, err
	}
	receiverSnap := &models.BalanceSnapshot{
		UserID:          receiver.ID,
		Balance:         receiver.Balance,
		TransactionUUID: txn.UUID,
	}
	if err := tx.InsertBalanceSnapshot(ctx, receiverSnap); err != nil {
		return TransferResult{}, err
	}

	entry := &models.OutboxEntry{
		TransactionUUID: txn.UUID,
		EventType:       models.EventMoneyTransferred,
		Status:          models.OutboxPending,
		Payload: map[string]any{
			"transaction_uuid": txn.UUID,
			"sender_id":        sender.ID,
			"receiver_id":      receiver.ID,
			"amount":           in.Amount,
			"commission":       commission,
			"sender_balance":   sender.Balance,
			"receiver_balance": receiver.Balance,
		},
	}
	if err := tx.InsertOutboxEntry(ctx, entry); err != nil {
		return TransferResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransferResult{}, err
	}
	committed = true

	logger.Log.Info("Transfer completed",
		zap.String("uuid", txn.UUID),
		zap.Int64("sender_id", sender.ID),
		zap.Int64("receiver_id", receiver.ID),
		zap.Int64("amount", in.Amount),
		zap.Int64("commission", commission),
	)

	return TransferResult{
		Transaction:     *txn,
		SenderBalance:   sender.Balance,
		ReceiverBalance: receiver.Balance,
	}, nil
}

// replayResult rebuilds the original response for an idempotent replay from
// the audit snapshots; no balances move.
func replayResult(ctx context.Context, tx Tx, txn models.Transaction) (TransferResult, error) {
	snapshots, err := tx.SnapshotsByTransaction(ctx, txn.UUID)
	if err != nil {
		return TransferResult{}, err
	}

	result := TransferResult{Transaction: txn, Replayed: true}
	for _, snap := range snapshots {
		switch snap.UserID {
		case txn.SenderID:
			result.SenderBalance = snap.Balance
		case txn.ReceiverID:
			result.ReceiverBalance = snap.Balance
		}
	}
	return result, nil
}
