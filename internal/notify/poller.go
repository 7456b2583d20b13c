package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
)

// Channel is the Redis pub/sub channel the notifier publishes changed table
// names on.
const Channel = "clinic:changes"

// ChangeSource reads the tail of the change feed.
type ChangeSource interface {
	LatestID(ctx context.Context) (int64, error)
	After(ctx context.Context, id int64) ([]clinic.Change, error)
}

type PgChangeSource struct {
	pool *pgxpool.Pool
}

func NewPgChangeSource(pool *pgxpool.Pool) *PgChangeSource {
	return &PgChangeSource{pool: pool}
}

func (s *PgChangeSource) LatestID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT coalesce(max(id), 0) FROM changes`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("latest change id: %w", err)
	}
	return id, nil
}

func (s *PgChangeSource) After(ctx context.Context, id int64) ([]clinic.Change, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, table_name, action, record_id, timestamp
		FROM changes
		WHERE id > $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	var result []clinic.Change
	for rows.Next() {
		var c clinic.Change
		if err := rows.Scan(&c.ID, &c.TableName, &c.Action, &c.RecordID, &c.Timestamp); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Publisher pushes a "table changed" signal to subscribers.
type Publisher interface {
	Publish(ctx context.Context, table string) error
}

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, table string) error {
	return p.client.Publish(ctx, p.channel, table).Err()
}

// Poller tails the change feed and publishes the names of changed tables.
// Delivery is at-least-once; subscribers are expected to re-query, so a
// duplicate signal is harmless.
type Poller struct {
	source   ChangeSource
	pub      Publisher
	interval time.Duration
	lastID   int64
	log      zerolog.Logger
}

func NewPoller(source ChangeSource, pub Publisher, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		source:   source,
		pub:      pub,
		interval: interval,
		log:      log,
	}
}

// Run polls until ctx is done. The first poll starts at the current tail so
// a restarted notifier does not replay history.
func (p *Poller) Run(ctx context.Context) error {
	latest, err := p.source.LatestID(ctx)
	if err != nil {
		return err
	}
	p.lastID = latest

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.log.Error().Err(err).Msg("change poll failed")
			}
		}
	}
}

// Poll reads entries newer than the last seen id and publishes each changed
// table once per batch.
func (p *Poller) Poll(ctx context.Context) error {
	changes, err := p.source.After(ctx, p.lastID)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	for _, c := range changes {
		if c.ID > p.lastID {
			p.lastID = c.ID
		}
		if seen[c.TableName] {
			continue
		}
		seen[c.TableName] = true

		if err := p.pub.Publish(ctx, c.TableName); err != nil {
			p.log.Warn().Err(err).Str("table", c.TableName).Msg("publish change failed")
		}
	}

	p.log.Debug().Int("entries", len(changes)).Int64("last_id", p.lastID).Msg("change batch published")
	return nil
}
