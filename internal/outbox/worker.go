package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/models"
	"github.com/sol1corejz/sendcent/internal/push"
	"github.com/sol1corejz/sendcent/internal/store"
)

const (
	DefaultPollInterval = 5 * time.Second
	MaxAttempts         = 5
	publishTimeout      = 30 * time.Second

	EventMoneyReceived = "money.received"
)

// backoffSchedule is keyed off the attempt count: after the first failed
// attempt the entry waits 10s, then 20s, and so on.
var backoffSchedule = []time.Duration{
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	80 * time.Second,
	160 * time.Second,
}

func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	if attempts > len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempts-1]
}

// requiredFields must all be present in an entry payload; anything less is a
// producer bug and the entry fails terminally.
var requiredFields = []string{
	"transaction_uuid",
	"sender_id",
	"receiver_id",
	"amount",
	"commission",
	"sender_balance",
	"receiver_balance",
}

// Store is the persistence capability the worker needs.
type Store interface {
	OldestPendingOutbox(ctx context.Context, now time.Time) (int64, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	Begin(ctx context.Context) (Tx, error)
}

type Tx interface {
	Commit() error
	Rollback() error
	ClaimOutboxEntry(ctx context.Context, id int64) (models.OutboxEntry, error)
	UpdateOutboxEntry(ctx context.Context, entry *models.OutboxEntry) error
}

type Worker struct {
	store    Store
	sink     push.Sink
	interval time.Duration
	wake     chan struct{}
	now      func() time.Time
}

func NewWorker(st Store, sink push.Sink, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		store:    st,
		sink:     sink,
		interval: interval,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Wake signals the worker that new outbox work exists. Non-blocking and
// lossy; the poll tick picks up anything a lost signal would have covered.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run consumes outbox entries until ctx is canceled. The entry in flight
// when cancellation arrives is finished before Run returns.
func (w *Worker) Run(ctx context.Context) {
	logger.Log.Info("Outbox worker started", zap.Duration("poll_interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			logger.Log.Info("Outbox worker stopped")
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// drain processes eligible entries until none remain. Cancellation is
// checked between entries, never mid-entry.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			logger.Log.Error("Outbox processing failed", zap.Error(err))
			return
		}
		if !processed {
			return
		}
	}
}

// ProcessNext claims and handles the oldest eligible pending entry. It
// reports whether an entry was handled.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	id, err := w.store.OldestPendingOutbox(ctx, w.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	entry, err := tx.ClaimOutboxEntry(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if entry.Status != models.OutboxPending {
		// Another worker claimed it between the poll and our lock.
		return true, nil
	}

	entry.Status = models.OutboxProcessing
	if err := tx.UpdateOutboxEntry(ctx, &entry); err != nil {
		return false, err
	}

	if missing := missingFields(entry.Payload); len(missing) > 0 {
		w.failTerminally(&entry, fmt.Sprintf("payload missing required fields: %s", strings.Join(missing, ", ")))
		if err := tx.UpdateOutboxEntry(ctx, &entry); err != nil {
			return false, err
		}
		if err := tx.Commit(); err != nil {
			return false, err
		}
		committed = true
		return true, nil
	}

	if err := w.deliver(ctx, &entry); err != nil {
		w.recordFailure(&entry, err)
	} else {
		now := w.now()
		entry.Status = models.OutboxDelivered
		entry.DeliveredAt = &now
		entry.LastAttemptedAt = &now
		entry.Error = nil
		logger.Log.Info("Outbox entry delivered",
			zap.Int64("entry_id", entry.ID),
			zap.String("transaction_uuid", entry.TransactionUUID),
		)
	}

	if err := tx.UpdateOutboxEntry(ctx, &entry); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

func (w *Worker) deliver(ctx context.Context, entry *models.OutboxEntry) error {
	senderID, _ := asInt64(entry.Payload["sender_id"])
	receiverID, _ := asInt64(entry.Payload["receiver_id"])
	amount, _ := asInt64(entry.Payload["amount"])
	newBalance, _ := asInt64(entry.Payload["receiver_balance"])

	sender, err := w.store.UserByID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("enrich sender %d: %w", senderID, err)
	}

	payload := map[string]any{
		"transaction_uuid": entry.TransactionUUID,
		"amount":           amount,
		"new_balance":      newBalance,
		"sender": map[string]any{
			"id":    sender.ID,
			"name":  sender.Name,
			"email": sender.Email,
		},
		"receiver_id": receiverID,
		"message":     fmt.Sprintf("You received $%d.%02d from %s", amount/100, amount%100, sender.Name),
		"timestamp":   w.now().UTC().Format(time.RFC3339),
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	channel := fmt.Sprintf("user.%d", receiverID)
	return w.sink.Publish(publishCtx, channel, EventMoneyReceived, payload)
}

func (w *Worker) recordFailure(entry *models.OutboxEntry, cause error) {
	now := w.now()
	entry.Attempts++
	entry.LastAttemptedAt = &now
	msg := cause.Error()
	entry.Error = &msg

	if entry.Attempts >= MaxAttempts {
		entry.Status = models.OutboxFailed
		logger.Log.Error("Outbox entry failed permanently",
			zap.Int64("entry_id", entry.ID),
			zap.Int("attempts", entry.Attempts),
			zap.Error(cause),
		)
		return
	}

	entry.Status = models.OutboxPending
	logger.Log.Warn("Outbox delivery failed, will retry",
		zap.Int64("entry_id", entry.ID),
		zap.Int("attempts", entry.Attempts),
		zap.Duration("backoff", Backoff(entry.Attempts)),
		zap.Error(cause),
	)
}

func (w *Worker) failTerminally(entry *models.OutboxEntry, reason string) {
	now := w.now()
	entry.Status = models.OutboxFailed
	entry.LastAttemptedAt = &now
	entry.Error = &reason
	logger.Log.Error("Outbox entry rejected",
		zap.Int64("entry_id", entry.ID),
		zap.String("reason", reason),
	)
}

func missingFields(payload map[string]any) []string {
	var missing []string
	for _, field := range requiredFields {
		if _, ok := payload[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// asInt64 normalizes payload numbers: values round-tripped through JSONB
// arrive as float64, in-memory stores hand back int64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
