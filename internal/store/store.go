package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func Open(uri string) (*Store, error) {
	if uri == "" {
		return nil, ErrConnectionFailed
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		logger.Log.Error("Error opening database connection", zap.Error(err))
		return nil, ErrConnectionFailed
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Bootstrap(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			initial_balance BIGINT NOT NULL DEFAULT 0 CHECK (initial_balance >= 0),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			token TEXT UNIQUE NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			uuid VARCHAR(36) PRIMARY KEY,
			sender_id BIGINT NOT NULL REFERENCES users(id),
			receiver_id BIGINT NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL CHECK (amount > 0),
			commission BIGINT NOT NULL CHECK (commission >= 0),
			status VARCHAR(20) NOT NULL,
			idempotency_key VARCHAR(255) UNIQUE NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_sender
			ON transactions (sender_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_receiver
			ON transactions (receiver_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS balance_snapshots (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			balance BIGINT NOT NULL CHECK (balance >= 0),
			transaction_uuid VARCHAR(36) NOT NULL REFERENCES transactions(uuid),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS transaction_outbox (
			id BIGSERIAL PRIMARY KEY,
			transaction_uuid VARCHAR(36) NOT NULL REFERENCES transactions(uuid),
			event_type VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0 CHECK (attempts >= 0),
			last_attempted_at TIMESTAMP,
			delivered_at TIMESTAMP,
			error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status
			ON transaction_outbox (status, created_at);`,
	}

	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, table); err != nil {
			logger.Log.Error("Error creating table", zap.Error(err))
			return ErrCreatingTableFailed
		}
	}

	return nil
}

// classify maps driver errors onto the store's distinguishable sentinels so
// callers can match with errors.Is without knowing Postgres error codes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
		case "40P01", "40001":
			return fmt.Errorf("%w: %s", ErrDeadlock, pgErr.Code)
		}
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string, initialBalance int64) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, password_hash, balance, initial_balance)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id, name, email, password_hash, balance, initial_balance, created_at;
	`, name, email, passwordHash, initialBalance).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Balance, &u.InitialBalance, &u.CreatedAt,
	)
	if err != nil {
		return models.User{}, classify(err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, balance, initial_balance, created_at
		FROM users WHERE email = $1;
	`, email))
}

func (s *Store) UserByID(ctx context.Context, id int64) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, balance, initial_balance, created_at
		FROM users WHERE id = $1;
	`, id))
}

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Balance, &u.InitialBalance, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, classify(err)
	}
	return u, nil
}

func (s *Store) InsertToken(ctx context.Context, userID int64, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (user_id, token) VALUES ($1, $2);
	`, userID, token)
	return classify(err)
}

func (s *Store) TokenUser(ctx context.Context, token string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.password_hash, u.balance, u.initial_balance, u.created_at
		FROM auth_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token = $1 AND NOT t.revoked;
	`, token))
}

func (s *Store) RevokeToken(ctx context.Context, userID int64, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_tokens SET revoked = TRUE WHERE user_id = $1 AND token = $2;
	`, userID, token)
	return classify(err)
}

func (s *Store) TransactionByUUID(ctx context.Context, uuid string) (models.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT uuid, sender_id, receiver_id, amount, commission, status, idempotency_key, metadata, created_at
		FROM transactions WHERE uuid = $1;
	`, uuid))
}

func scanTransaction(row *sql.Row) (models.Transaction, error) {
	var t models.Transaction
	var metadata []byte
	err := row.Scan(&t.UUID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Commission, &t.Status, &t.IdempotencyKey, &metadata, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transaction{}, ErrNotFound
		}
		return models.Transaction{}, classify(err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return models.Transaction{}, err
		}
	}
	return t, nil
}

const (
	DirectionAll      = "all"
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

const MaxPerPage = 100

func (s *Store) ListTransactions(ctx context.Context, userID int64, direction string, page, perPage int) ([]models.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	var where string
	switch direction {
	case DirectionSent:
		where = "sender_id = $1"
	case DirectionReceived:
		where = "receiver_id = $1"
	default:
		where = "(sender_id = $1 OR receiver_id = $1)"
	}

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE `+where+`;`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, classify(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, sender_id, receiver_id, amount, commission, status, idempotency_key, metadata, created_at
		FROM transactions
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3;
	`, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var metadata []byte
		err = rows.Scan(&t.UUID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Commission, &t.Status, &t.IdempotencyKey, &metadata, &t.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, 0, err
			}
		}
		transactions = append(transactions, t)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return transactions, total, nil
}

type Stats struct {
	SentTotalWithCommission int64
	ReceivedTotal           int64
	CommissionPaid          int64
	SentCount               int64
	ReceivedCount           int64
}

func (s *Store) Stats(ctx context.Context, userID int64) (Stats, error) {
	var st Stats

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount + commission), 0) FROM transactions
		WHERE sender_id = $1 AND status = 'completed';
	`, userID).Scan(&st.SentTotalWithCommission)
	if err != nil {
		return Stats{}, classify(err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE receiver_id = $1 AND status = 'completed';
	`, userID).Scan(&st.ReceivedTotal)
	if err != nil {
		return Stats{}, classify(err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(commission), 0) FROM transactions
		WHERE sender_id = $1 AND status = 'completed';
	`, userID).Scan(&st.CommissionPaid)
	if err != nil {
		return Stats{}, classify(err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE sender_id = $1),
			COUNT(*) FILTER (WHERE receiver_id = $1)
		FROM transactions
		WHERE (sender_id = $1 OR receiver_id = $1) AND status = 'completed';
	`, userID).Scan(&st.SentCount, &st.ReceivedCount)
	if err != nil {
		return Stats{}, classify(err)
	}

	return st, nil
}

// OldestPendingOutbox returns the id of the oldest pending entry whose
// backoff window has elapsed. The schedule is 10s doubling per attempt.
func (s *Store) OldestPendingOutbox(ctx context.Context, now time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM transaction_outbox
		WHERE status = 'pending'
		  AND (last_attempted_at IS NULL
		       OR last_attempted_at + make_interval(secs => 10 * power(2, attempts - 1)) <= $1)
		ORDER BY created_at ASC
		LIMIT 1;
	`, now).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, classify(err)
	}
	return id, nil
}
