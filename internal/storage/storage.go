// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"rsspush/internal/model"
)

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
//
// Writes that may race between overlapping runs (RecordItem, RecordPush,
// CreateSubscription, CreateBinding) are insert-or-ignore against a
// uniqueness constraint and report whether the row was new, so callers never
// pre-check existence or inspect conflict errors.
type Storage interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) (bool, error)
	ListSubscriptions(ctx context.Context, ownerID int64) ([]model.Subscription, error)
	ListAllSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, ownerID int64, feedURL string) (bool, error)

	RecordItem(ctx context.Context, feedURL string, item model.Item) (bool, error)
	ItemSeen(ctx context.Context, feedURL, guid string) (bool, error)
	PurgeItemsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	RecordPush(ctx context.Context, feedURL, guid string, chatID int64) (bool, error)
	Pushed(ctx context.Context, feedURL, guid string, chatID int64) (bool, error)

	UpsertTarget(ctx context.Context, target *model.PushTarget) error
	GetTarget(ctx context.Context, ownerID, chatID int64) (*model.PushTarget, error)
	ListTargets(ctx context.Context, ownerID int64) ([]model.PushTarget, error)
	SetTargetStatus(ctx context.Context, ownerID, chatID int64, status model.TargetStatus) (bool, error)
	DeleteTarget(ctx context.Context, ownerID, chatID int64) (bool, error)

	CreateBinding(ctx context.Context, ownerID int64, feedURL string, chatID int64) (bool, error)
	DeleteBinding(ctx context.Context, ownerID int64, feedURL string, chatID int64) (bool, error)
	ListBindings(ctx context.Context, ownerID int64, feedURL string) ([]model.Binding, error)
	ListBindingsForOwner(ctx context.Context, ownerID int64) ([]model.Binding, error)

	RecordFailure(ctx context.Context, feedURL, message string) error
	ClearFailure(ctx context.Context, feedURL string) error
	ListFailures(ctx context.Context, minCount int) ([]model.FeedFailure, error)

	Stats(ctx context.Context) (*model.Stats, error)

	Close() error
}
