package models

import (
	"time"
)

var (
	TransactionCompleted = "completed"
	TransactionFailed    = "failed"

	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDelivered  = "delivered"
	OutboxFailed     = "failed"
)

const EventMoneyTransferred = "money.transferred"

type User struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	Email          string    `db:"email"`
	PasswordHash   string    `db:"password_hash"`
	Balance        int64     `db:"balance"`
	InitialBalance int64     `db:"initial_balance"`
	CreatedAt      time.Time `db:"created_at"`
}

type Transaction struct {
	UUID           string         `db:"uuid"`
	SenderID       int64          `db:"sender_id"`
	ReceiverID     int64          `db:"receiver_id"`
	Amount         int64          `db:"amount"`
	Commission     int64          `db:"commission"`
	Status         string         `db:"status"`
	IdempotencyKey string         `db:"idempotency_key"`
	Metadata       map[string]any `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
}

// TotalDebited is what leaves the sender's balance.
func (t *Transaction) TotalDebited() int64 {
	return t.Amount + t.Commission
}

type BalanceSnapshot struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	Balance         int64     `db:"balance"`
	TransactionUUID string    `db:"transaction_uuid"`
	CreatedAt       time.Time `db:"created_at"`
}

type OutboxEntry struct {
	ID              int64          `db:"id"`
	TransactionUUID string         `db:"transaction_uuid"`
	EventType       string         `db:"event_type"`
	Payload         map[string]any `db:"payload"`
	Status          string         `db:"status"`
	Attempts        int            `db:"attempts"`
	LastAttemptedAt *time.Time     `db:"last_attempted_at"`
	DeliveredAt     *time.Time     `db:"delivered_at"`
	Error           *string        `db:"error"`
	CreatedAt       time.Time      `db:"created_at"`
}
