package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rsspush/internal/model"
	"rsspush/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSubscription inserts a subscription and reports whether it was new.
// A duplicate (owner_id, feed_url) pair is a normal outcome, not an error.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions (owner_id, feed_url, site_name, created_at)
		 VALUES (?, ?, ?, ?)`,
		sub.OwnerID, sub.FeedURL, sub.SiteName, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	return true, nil
}

// ListSubscriptions returns all subscriptions belonging to the given owner.
func (s *SQLite) ListSubscriptions(ctx context.Context, ownerID int64) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, feed_url, site_name, created_at
		 FROM subscriptions WHERE owner_id = ? ORDER BY id`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// ListAllSubscriptions returns every subscription, ordered for stable
// URL grouping by the scheduler.
func (s *SQLite) ListAllSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, feed_url, site_name, created_at
		 FROM subscriptions ORDER BY feed_url, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// DeleteSubscription removes one owner's subscription to a feed.
func (s *SQLite) DeleteSubscription(ctx context.Context, ownerID int64, feedURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE owner_id = ? AND feed_url = ?`,
		ownerID, feedURL,
	)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordItem marks an item as seen. Returns false when the (feed_url, guid)
// pair already existed.
func (s *SQLite) RecordItem(ctx context.Context, feedURL string, item model.Item) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feed_items (feed_url, guid, title, link, description, published_at, first_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		feedURL, item.GUID, item.Title, item.Link, item.Description, item.PublishedAt, now,
	)
	if err != nil {
		return false, fmt.Errorf("record item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ItemSeen checks whether an item has already been processed.
func (s *SQLite) ItemSeen(ctx context.Context, feedURL, guid string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_items WHERE feed_url = ? AND guid = ?`,
		feedURL, guid,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check item seen: %w", err)
	}
	return count > 0, nil
}

// PurgeItemsBefore deletes seen-item records first observed before cutoff
// and returns the number of rows removed.
func (s *SQLite) PurgeItemsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM feed_items WHERE first_seen_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// RecordPush marks an item as delivered to a bound target. Returns false when
// a record for the (feed_url, guid, chat_id) triple already existed; that is
// the exactly-once guard for target delivery.
func (s *SQLite) RecordPush(ctx context.Context, feedURL, guid string, chatID int64) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO push_records (feed_url, guid, chat_id, pushed_at) VALUES (?, ?, ?, ?)`,
		feedURL, guid, chatID, now,
	)
	if err != nil {
		return false, fmt.Errorf("record push: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Pushed checks whether an item was already delivered to the given target.
func (s *SQLite) Pushed(ctx context.Context, feedURL, guid string, chatID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM push_records WHERE feed_url = ? AND guid = ? AND chat_id = ?`,
		feedURL, guid, chatID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pushed: %w", err)
	}
	return count > 0, nil
}

// UpsertTarget inserts or refreshes a push target, preserving the status of
// an existing row.
func (s *SQLite) UpsertTarget(ctx context.Context, target *model.PushTarget) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_targets (owner_id, chat_id, chat_type, title, username, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, chat_id) DO UPDATE SET
		   chat_type = excluded.chat_type,
		   title = excluded.title,
		   username = excluded.username`,
		target.OwnerID, target.ChatID, string(target.ChatType), target.Title,
		target.Username, string(target.Status), now,
	)
	if err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

// GetTarget returns a single push target, or ErrNotFound if absent.
func (s *SQLite) GetTarget(ctx context.Context, ownerID, chatID int64) (*model.PushTarget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, chat_id, chat_type, title, username, status, created_at
		 FROM push_targets WHERE owner_id = ? AND chat_id = ?`, ownerID, chatID,
	)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTargets returns all push targets registered by the given owner.
func (s *SQLite) ListTargets(ctx context.Context, ownerID int64) ([]model.PushTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, chat_id, chat_type, title, username, status, created_at
		 FROM push_targets WHERE owner_id = ? ORDER BY created_at, chat_id`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []model.PushTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

// SetTargetStatus toggles a target between active and inactive.
func (s *SQLite) SetTargetStatus(ctx context.Context, ownerID, chatID int64, status model.TargetStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE push_targets SET status = ? WHERE owner_id = ? AND chat_id = ?`,
		string(status), ownerID, chatID,
	)
	if err != nil {
		return false, fmt.Errorf("set target status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteTarget removes a push target and all bindings pointing at it.
func (s *SQLite) DeleteTarget(ctx context.Context, ownerID, chatID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bindings WHERE owner_id = ? AND chat_id = ?`, ownerID, chatID,
	); err != nil {
		return false, fmt.Errorf("delete bindings: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM push_targets WHERE owner_id = ? AND chat_id = ?`, ownerID, chatID,
	)
	if err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// CreateBinding binds one subscription to one push target.
func (s *SQLite) CreateBinding(ctx context.Context, ownerID int64, feedURL string, chatID int64) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bindings (owner_id, feed_url, chat_id, created_at) VALUES (?, ?, ?, ?)`,
		ownerID, feedURL, chatID, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteBinding removes a binding.
func (s *SQLite) DeleteBinding(ctx context.Context, ownerID int64, feedURL string, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bindings WHERE owner_id = ? AND feed_url = ? AND chat_id = ?`,
		ownerID, feedURL, chatID,
	)
	if err != nil {
		return false, fmt.Errorf("delete binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListBindings returns the bindings for one (owner, feed) pair.
func (s *SQLite) ListBindings(ctx context.Context, ownerID int64, feedURL string) ([]model.Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, feed_url, chat_id, created_at
		 FROM bindings WHERE owner_id = ? AND feed_url = ? ORDER BY chat_id`,
		ownerID, feedURL,
	)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanBindings(rows)
}

// ListBindingsForOwner returns every binding the owner has created.
func (s *SQLite) ListBindingsForOwner(ctx context.Context, ownerID int64) ([]model.Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, feed_url, chat_id, created_at
		 FROM bindings WHERE owner_id = ? ORDER BY feed_url, chat_id`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query owner bindings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanBindings(rows)
}

// RecordFailure upserts a failure record for the feed, incrementing its
// consecutive-failure counter.
func (s *SQLite) RecordFailure(ctx context.Context, feedURL, message string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_failures (feed_url, error_message, failure_count, last_failure_at, created_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (feed_url) DO UPDATE SET
		   error_message = excluded.error_message,
		   failure_count = failure_count + 1,
		   last_failure_at = excluded.last_failure_at`,
		feedURL, message, now, now,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ClearFailure removes the failure record for a feed after a successful fetch.
func (s *SQLite) ClearFailure(ctx context.Context, feedURL string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feed_failures WHERE feed_url = ?`, feedURL)
	if err != nil {
		return fmt.Errorf("clear failure: %w", err)
	}
	return nil
}

// ListFailures returns failure records with at least minCount consecutive
// failures, most recent first.
func (s *SQLite) ListFailures(ctx context.Context, minCount int) ([]model.FeedFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_url, error_message, failure_count, last_failure_at, created_at
		 FROM feed_failures WHERE failure_count >= ? ORDER BY last_failure_at DESC`,
		minCount,
	)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var failures []model.FeedFailure
	for rows.Next() {
		var f model.FeedFailure
		var lastStr, createdStr string
		if err := rows.Scan(&f.FeedURL, &f.ErrorMessage, &f.FailureCount, &lastStr, &createdStr); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.LastFailureAt, _ = time.Parse(timeLayout, lastStr)
		f.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// Stats returns global usage counters.
func (s *SQLite) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT owner_id) FROM subscriptions`).Scan(&st.Users); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions`).Scan(&st.Subscriptions); err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_items`).Scan(&st.Items); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	return &st, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (model.Subscription, error) {
	var sub model.Subscription
	var created sql.NullString
	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.FeedURL, &sub.SiteName, &created)
	if err != nil {
		return sub, fmt.Errorf("scan subscription: %w", err)
	}
	if created.Valid {
		sub.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanTarget(row scannable) (*model.PushTarget, error) {
	var t model.PushTarget
	var chatType, status string
	var username, created sql.NullString
	err := row.Scan(&t.OwnerID, &t.ChatID, &chatType, &t.Title, &username, &status, &created)
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.ChatType = model.ChatType(chatType)
	t.Status = model.TargetStatus(status)
	if username.Valid {
		t.Username = username.String
	}
	if created.Valid {
		t.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &t, nil
}

func scanBindings(rows *sql.Rows) ([]model.Binding, error) {
	var bindings []model.Binding
	for rows.Next() {
		var b model.Binding
		var created sql.NullString
		if err := rows.Scan(&b.OwnerID, &b.FeedURL, &b.ChatID, &created); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		if created.Valid {
			b.CreatedAt, _ = time.Parse(timeLayout, created.String)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}
