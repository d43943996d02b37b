package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botdash/internal/model"
)

// broadcaster fans listing changes out to subscribers. Subscribers are called
// synchronously, in registration order, once the change is read back from the
// change log.
type broadcaster struct {
	mu   sync.Mutex
	subs []subscriber
	next int
}

type subscriber struct {
	id int
	fn func(model.Change)
}

func (b *broadcaster) subscribe(fn func(model.Change)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *broadcaster) publish(c model.Change) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(c)
	}
}

const (
	changeBatch     = 500
	changeRetention = 24 * time.Hour
	pruneEvery      = time.Hour
)

type changeRow struct {
	seq  int64
	kind model.ChangeKind
	id   string
}

// PollChanges publishes the listing changes logged since the previous poll,
// in commit order. The log is written by triggers, so changes made by other
// processes sharing the database file are included. It returns the number
// of published events.
func (s *SQLite) PollChanges(ctx context.Context) (int, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	published := 0
	for {
		batch, err := s.pendingChanges(ctx)
		if err != nil {
			return published, err
		}
		for _, row := range batch {
			c := model.Change{Kind: row.kind, ID: row.id}
			if row.kind != model.ChangeDelete {
				l, err := s.GetListing(ctx, row.id)
				if errors.Is(err, ErrNotFound) {
					// Deleted since; its delete row follows.
					s.lastSeq = row.seq
					continue
				}
				if err != nil {
					return published, fmt.Errorf("load changed listing: %w", err)
				}
				c.Listing = l
			}
			s.lastSeq = row.seq
			s.feed.publish(c)
			published++
		}
		if len(batch) < changeBatch {
			return published, nil
		}
	}
}

// Watch tails the change log every interval until ctx is done. Log rows
// older than a day are pruned once an hour.
func (s *SQLite) Watch(ctx context.Context, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastPrune := s.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := s.PollChanges(ctx); err != nil {
			if ctx.Err() == nil {
				log.Error("poll listing changes", "error", err)
			}
		} else if n > 0 {
			log.Debug("listing changes published", "count", n)
		}

		if now := s.now(); now.Sub(lastPrune) >= pruneEvery {
			lastPrune = now
			if n, err := s.PruneChanges(ctx, now.Add(-changeRetention)); err != nil {
				log.Warn("prune listing changes", "error", err)
			} else if n > 0 {
				log.Debug("listing changes pruned", "count", n)
			}
		}
	}
}

// PruneChanges removes change log rows recorded before cutoff that this
// handle has already published.
func (s *SQLite) PruneChanges(ctx context.Context, cutoff time.Time) (int64, error) {
	s.pollMu.Lock()
	last := s.lastSeq
	s.pollMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listing_changes WHERE seq <= ? AND changed_at < ?`,
		last, cutoff.UTC().Format("2006-01-02T15:04:05.000Z"),
	)
	if err != nil {
		return 0, fmt.Errorf("prune listing changes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLite) pendingChanges(ctx context.Context) ([]changeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, listing_id FROM listing_changes WHERE seq > ? ORDER BY seq LIMIT ?`,
		s.lastSeq, changeBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("query listing changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batch []changeRow
	for rows.Next() {
		var row changeRow
		var kind string
		if err := rows.Scan(&row.seq, &kind, &row.id); err != nil {
			return nil, fmt.Errorf("scan listing change: %w", err)
		}
		row.kind = model.ChangeKind(kind)
		batch = append(batch, row)
	}
	return batch, rows.Err()
}

func (s *SQLite) changeLogHead(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM listing_changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read change log head: %w", err)
	}
	return seq, nil
}
