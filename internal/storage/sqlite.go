package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"botdash/internal/model"
	"botdash/migrations"
)

// Fixed width so that timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const listingColumns = `id, title, price, link, location, created_at, message_sent, deleted, category, filter_status, filter_reason`

// SQLite implements Storage backed by a SQLite database. Triggers record
// every listing mutation in a change log; PollChanges and Watch publish it to
// SubscribeListings subscribers, whichever process made the write.
type SQLite struct {
	db   *sql.DB
	feed broadcaster
	now  func() time.Time

	pollMu  sync.Mutex
	lastSeq int64
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	// The bot process writes the same file.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	// Only changes committed after opening are published.
	if s.lastSeq, err = s.changeLogHead(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the applied migration version.
func (s *SQLite) SchemaVersion() (int64, error) {
	return migrations.Version(s.db)
}

// SubscribeListings registers fn for listing change events. Writes made
// through this handle are published before the write method returns; other
// writers are picked up by PollChanges.
func (s *SQLite) SubscribeListings(fn func(model.Change)) func() {
	return s.feed.subscribe(fn)
}

// SaveListing inserts a listing or updates an existing one with the same ID.
// A missing ID and CreatedAt are filled in on insert; CreatedAt is never
// changed afterwards.
func (s *SQLite) SaveListing(ctx context.Context, l *model.Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (`+listingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   price = excluded.price,
		   link = excluded.link,
		   location = excluded.location,
		   message_sent = excluded.message_sent,
		   deleted = excluded.deleted,
		   category = excluded.category,
		   filter_status = excluded.filter_status,
		   filter_reason = excluded.filter_reason`,
		l.ID, l.Title, l.Price, l.Link, l.Location, formatTime(l.CreatedAt),
		boolToInt(l.MessageSent), boolToInt(l.Deleted), categoryValue(l.Category),
		l.FilterStatus, l.FilterReason,
	)
	if err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return s.publishChanges(ctx)
}

// GetListing returns a single listing by its ID.
func (s *SQLite) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id,
	)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// RecentVisibleListings returns up to limit listings that are unfiltered or
// passed the filter, newest first.
func (s *SQLite) RecentVisibleListings(ctx context.Context, limit int) ([]model.Listing, error) {
	return s.queryListings(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE filter_status IS NULL OR instr(filter_status, 'passed') > 0
		 ORDER BY created_at DESC
		 LIMIT ?`, limit,
	)
}

// RecentListings returns up to limit listings whatever their filter status,
// newest first.
func (s *SQLite) RecentListings(ctx context.Context, limit int) ([]model.Listing, error) {
	return s.queryListings(ctx,
		`SELECT `+listingColumns+` FROM listings ORDER BY created_at DESC LIMIT ?`, limit,
	)
}

func (s *SQLite) queryListings(ctx context.Context, query string, args ...any) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// SetListingStatus sets the sent/deleted flags of a listing and keeps the
// sent_messages audit table in step: marking a listing sent records an audit
// row, reopening it removes the row.
func (s *SQLite) SetListingStatus(ctx context.Context, id string, status model.ListingStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE listings SET message_sent = ?, deleted = ? WHERE id = ?`,
		boolToInt(status == model.StatusSent), boolToInt(status == model.StatusDeleted), id,
	)
	if err != nil {
		return fmt.Errorf("update listing status: %w", err)
	}
	if err := requireRow(res, "listing", id); err != nil {
		return err
	}

	switch status {
	case model.StatusOpen:
		if _, err := tx.ExecContext(ctx, `DELETE FROM sent_messages WHERE listing_id = ?`, id); err != nil {
			return fmt.Errorf("delete sent message: %w", err)
		}
	case model.StatusSent:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sent_messages (listing_id, status, sent_at, log) VALUES (?, ?, ?, ?)
			 ON CONFLICT(listing_id) DO UPDATE SET status = excluded.status, sent_at = excluded.sent_at, log = excluded.log`,
			id, model.SentStatusSent, formatTime(s.now()), "Manually marked as sent via Dashboard",
		)
		if err != nil {
			return fmt.Errorf("upsert sent message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return s.publishChanges(ctx)
}

// SetListingCategory changes the category of a listing.
func (s *SQLite) SetListingCategory(ctx context.Context, id string, category model.Category) error {
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET category = ? WHERE id = ?`, string(category), id)
	if err != nil {
		return fmt.Errorf("update listing category: %w", err)
	}
	if err := requireRow(res, "listing", id); err != nil {
		return err
	}
	return s.publishChanges(ctx)
}

// SetListingFilter records the outcome of the bot's filtering for a listing.
func (s *SQLite) SetListingFilter(ctx context.Context, id string, status, reason *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET filter_status = ?, filter_reason = ? WHERE id = ?`, status, reason, id,
	)
	if err != nil {
		return fmt.Errorf("update listing filter: %w", err)
	}
	if err := requireRow(res, "listing", id); err != nil {
		return err
	}
	return s.publishChanges(ctx)
}

// DeleteListing removes a listing and its audit row.
func (s *SQLite) DeleteListing(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sent_messages WHERE listing_id = ?`, id); err != nil {
		return fmt.Errorf("delete sent message: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	if err := requireRow(res, "listing", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return s.publishChanges(ctx)
}

// CountListings returns the number of stored listings.
func (s *SQLite) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

// GetSentMessage returns the audit row of a listing.
func (s *SQLite) GetSentMessage(ctx context.Context, listingID string) (*model.SentMessage, error) {
	var m model.SentMessage
	var sentAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT listing_id, status, sent_at, log FROM sent_messages WHERE listing_id = ?`, listingID,
	).Scan(&m.ListingID, &m.Status, &sentAt, &m.Log)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sent message %s: %w", listingID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan sent message: %w", err)
	}
	m.SentAt = parseTime(sentAt)
	return &m, nil
}

// CountSentMessages returns the number of audit rows with the given status.
func (s *SQLite) CountSentMessages(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_messages WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent messages: %w", err)
	}
	return n, nil
}

// CreateTemplate inserts a new template and populates its ID and CreatedAt.
func (s *SQLite) CreateTemplate(ctx context.Context, t *model.Template) error {
	t.ID = uuid.NewString()
	t.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, kind, name, content, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Kind), t.Name, t.Content, boolToInt(t.IsActive), formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	t.CreatedAt = parseTime(formatTime(t.CreatedAt))
	return nil
}

// GetTemplate returns a single template by its ID.
func (s *SQLite) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, content, is_active, created_at FROM templates WHERE id = ?`, id,
	)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns all templates of a kind, newest first.
func (s *SQLite) ListTemplates(ctx context.Context, kind model.TemplateKind) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, content, is_active, created_at
		 FROM templates WHERE kind = ? ORDER BY created_at DESC`, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpdateTemplate persists the name and content of an existing template.
func (s *SQLite) UpdateTemplate(ctx context.Context, t *model.Template) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET name = ?, content = ? WHERE id = ?`, t.Name, t.Content, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return requireRow(res, "template", t.ID)
}

// SetTemplateActive switches a template on or off.
func (s *SQLite) SetTemplateActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE templates SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("update template active: %w", err)
	}
	return requireRow(res, "template", id)
}

// DeleteTemplate removes a template by its ID.
func (s *SQLite) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireRow(res, "template", id)
}

func (s *SQLite) publishChanges(ctx context.Context) error {
	if _, err := s.PollChanges(ctx); err != nil {
		return fmt.Errorf("publish changes: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func categoryValue(c *model.Category) *string {
	if c == nil {
		return nil
	}
	v := string(*c)
	return &v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	var created string
	var sent, deleted int
	var category sql.NullString
	err := row.Scan(&l.ID, &l.Title, &l.Price, &l.Link, &l.Location, &created,
		&sent, &deleted, &category, &l.FilterStatus, &l.FilterReason)
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	l.CreatedAt = parseTime(created)
	l.MessageSent = sent == 1
	l.Deleted = deleted == 1
	if category.Valid {
		c := model.Category(category.String)
		l.Category = &c
	}
	return &l, nil
}

func scanTemplate(row scannable) (model.Template, error) {
	var t model.Template
	var kind, created string
	var active int
	err := row.Scan(&t.ID, &kind, &t.Name, &t.Content, &active, &created)
	if err != nil {
		return t, fmt.Errorf("scan template: %w", err)
	}
	t.Kind = model.TemplateKind(kind)
	t.IsActive = active == 1
	t.CreatedAt = parseTime(created)
	return t, nil
}
