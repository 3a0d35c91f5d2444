package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bullion/internal/obs"
)

// TaskAppend is the asynq task type for spreadsheet appends.
const TaskAppend = "ledger:append"

// NewAppendTask builds the task payload for one ledger row. MaxRetry is zero:
// bookkeeping never retries, a failed append is logged and dropped.
func NewAppendTask(row Row) (*asynq.Task, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAppend, payload, asynq.MaxRetry(0)), nil
}

// Enqueuer hands ledger rows to the background worker. Enqueue failures are
// reported to the caller, which logs and moves on.
type Enqueuer struct {
	Client *asynq.Client
	Log    zerolog.Logger
}

// Record enqueues an append for the row.
func (e *Enqueuer) Record(ctx context.Context, row Row) error {
	if e == nil || e.Client == nil {
		return fmt.Errorf("ledger: enqueuer not configured")
	}
	task, err := NewAppendTask(row)
	if err != nil {
		return err
	}
	info, err := e.Client.EnqueueContext(ctx, task)
	if err != nil {
		countAppend("enqueue_error")
		return fmt.Errorf("ledger: enqueue append: %w", err)
	}
	e.Log.Debug().Str("task_id", info.ID).Str("order_id", row.OrderID).Msg("ledger append enqueued")
	return nil
}

// Worker processes append tasks against the spreadsheet.
type Worker struct {
	Sheets *Sheets
	Log    zerolog.Logger
}

// HandleAppend runs one append. Errors are logged and swallowed so the task
// is never retried or parked.
func (w *Worker) HandleAppend(ctx context.Context, t *asynq.Task) error {
	var row Row
	if err := json.Unmarshal(t.Payload(), &row); err != nil {
		countAppend("decode_error")
		w.Log.Error().Err(err).Msg("ledger append payload malformed")
		return nil
	}
	if err := w.Sheets.Append(ctx, row); err != nil {
		countAppend("error")
		w.Log.Error().Err(err).Str("order_id", row.OrderID).Msg("ledger append failed")
		return nil
	}
	countAppend("ok")
	w.Log.Info().Str("order_id", row.OrderID).Str("status", row.Status).Msg("ledger append recorded")
	return nil
}

func countAppend(result string) {
	if obs.LedgerAppendTotal != nil {
		obs.LedgerAppendTotal.WithLabelValues(result).Inc()
	}
}
