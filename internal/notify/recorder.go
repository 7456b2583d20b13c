package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Recorder appends rows to the change feed after a core mutation has
// committed. It is deliberately outside the mutation's transaction and
// best-effort: a lost entry costs a missed notification, never correctness.
type Recorder struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewRecorder(pool *pgxpool.Pool, log zerolog.Logger) *Recorder {
	return &Recorder{pool: pool, log: log}
}

func (r *Recorder) Record(ctx context.Context, table, action string, recordID int64) {
	// The request context may already be done by the time we run; the append
	// should still go through.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO changes (table_name, action, record_id)
		VALUES ($1, $2, $3)
	`, table, action, recordID)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("table", table).
			Str("action", action).
			Int64("record_id", recordID).
			Msg("change feed append failed")
	}
}
