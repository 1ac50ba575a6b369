package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sol1corejz/sendcent/internal/models"
)

// Tx wraps a database transaction. Row locks taken through it are held
// until Commit or Rollback.
type Tx struct {
	tx *sql.Tx
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error {
	return classify(t.tx.Commit())
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// LockUsers loads and exclusively locks the given user rows. Callers must
// pass ids sorted ascending; locking one row at a time in that order keeps
// every transfer touching the same pair on the same acquisition sequence.
// Missing users are simply absent from the result.
func (t *Tx) LockUsers(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	users := make(map[int64]models.User, len(ids))

	for _, id := range ids {
		var u models.User
		err := t.tx.QueryRowContext(ctx, `
			SELECT id, name, email, password_hash, balance, initial_balance, created_at
			FROM users WHERE id = $1
			FOR UPDATE;
		`, id).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Balance, &u.InitialBalance, &u.CreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, classify(err)
		}
		users[u.ID] = u
	}

	return users, nil
}

func (t *Tx) TransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	var txn models.Transaction
	var metadata []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT uuid, sender_id, receiver_id, amount, commission, status, idempotency_key, metadata, created_at
		FROM transactions WHERE idempotency_key = $1
		FOR UPDATE;
	`, key).Scan(&txn.UUID, &txn.SenderID, &txn.ReceiverID, &txn.Amount, &txn.Commission, &txn.Status, &txn.IdempotencyKey, &metadata, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transaction{}, ErrNotFound
		}
		return models.Transaction{}, classify(err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return models.Transaction{}, err
		}
	}
	return txn, nil
}

func (t *Tx) UpdateUserBalance(ctx context.Context, userID, balance int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE users SET balance = $1 WHERE id = $2;
	`, balance, userID)
	return classify(err)
}

func (t *Tx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	var metadata []byte
	if txn.Metadata != nil {
		var err error
		metadata, err = json.Marshal(txn.Metadata)
		if err != nil {
			return err
		}
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO transactions (uuid, sender_id, receiver_id, amount, commission, status, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at;
	`, txn.UUID, txn.SenderID, txn.ReceiverID, txn.Amount, txn.Commission, txn.Status, txn.IdempotencyKey, metadata).Scan(&txn.CreatedAt)
	return classify(err)
}

func (t *Tx) InsertBalanceSnapshot(ctx context.Context, snap *models.BalanceSnapshot) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO balance_snapshots (user_id, balance, transaction_uuid)
		VALUES ($1, $2, $3)
		RETURNING id, created_at;
	`, snap.UserID, snap.Balance, snap.TransactionUUID).Scan(&snap.ID, &snap.CreatedAt)
	return classify(err)
}

func (t *Tx) SnapshotsByTransaction(ctx context.Context, uuid string) ([]models.BalanceSnapshot, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, user_id, balance, transaction_uuid, created_at
		FROM balance_snapshots WHERE transaction_uuid = $1;
	`, uuid)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var snapshots []models.BalanceSnapshot
	for rows.Next() {
		var snap models.BalanceSnapshot
		err = rows.Scan(&snap.ID, &snap.UserID, &snap.Balance, &snap.TransactionUUID, &snap.CreatedAt)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return snapshots, nil
}

func (t *Tx) InsertOutboxEntry(ctx context.Context, entry *models.OutboxEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO transaction_outbox (transaction_uuid, event_type, payload, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at;
	`, entry.TransactionUUID, entry.EventType, payload, entry.Status).Scan(&entry.ID, &entry.CreatedAt)
	return classify(err)
}

// ClaimOutboxEntry loads an outbox entry under an exclusive row lock.
func (t *Tx) ClaimOutboxEntry(ctx context.Context, id int64) (models.OutboxEntry, error) {
	var entry models.OutboxEntry
	var payload []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, transaction_uuid, event_type, payload, status, attempts, last_attempted_at, delivered_at, error, created_at
		FROM transaction_outbox WHERE id = $1
		FOR UPDATE;
	`, id).Scan(&entry.ID, &entry.TransactionUUID, &entry.EventType, &payload, &entry.Status,
		&entry.Attempts, &entry.LastAttemptedAt, &entry.DeliveredAt, &entry.Error, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.OutboxEntry{}, ErrNotFound
		}
		return models.OutboxEntry{}, classify(err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return models.OutboxEntry{}, err
		}
	}
	return entry, nil
}

func (t *Tx) UpdateOutboxEntry(ctx context.Context, entry *models.OutboxEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE transaction_outbox
		SET status = $1, attempts = $2, last_attempted_at = $3, delivered_at = $4, error = $5
		WHERE id = $6;
	`, entry.Status, entry.Attempts, entry.LastAttemptedAt, entry.DeliveredAt, entry.Error, entry.ID)
	return classify(err)
}
