// Package fanout delivers a new feed item to an owner's private chat and to
// every active push target bound to the owner's subscription.
package fanout

import (
	"context"
	"errors"
	"log/slog"

	"rsspush/internal/model"
	"rsspush/internal/storage"
)

// DedupStore provides the durable idempotency guard for target deliveries.
type DedupStore interface {
	Pushed(ctx context.Context, feedURL, guid string, chatID int64) (bool, error)
	RecordPush(ctx context.Context, feedURL, guid string, chatID int64) (bool, error)
}

// BindingRegistry resolves an owner's bound push targets for a feed.
type BindingRegistry interface {
	ListBindings(ctx context.Context, ownerID int64, feedURL string) ([]model.Binding, error)
	GetTarget(ctx context.Context, ownerID, chatID int64) (*model.PushTarget, error)
}

// Sender delivers a formatted item message to a chat. Failures are
// recoverable; the dispatcher logs and moves on.
type Sender interface {
	SendItem(chatID int64, text string) error
}

// Dispatcher fans a new item out to its delivery destinations.
type Dispatcher struct {
	dedup    DedupStore
	registry BindingRegistry
	sender   Sender
	log      *slog.Logger
}

// New creates a Dispatcher.
func New(dedup DedupStore, registry BindingRegistry, sender Sender, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		dedup:    dedup,
		registry: registry,
		sender:   sender,
		log:      log,
	}
}

// Deliver sends item to the owner's private chat and to every bound, active
// target.
//
// The private delivery is gated only by the scheduler's outer seen-check, so
// a run that dies before committing the seen record may repeat it. Target
// deliveries go through the push-record guard and happen at most once; a lost
// race on recording counts as already-delivered. A failed individual delivery
// never blocks the remaining ones.
func (d *Dispatcher) Deliver(ctx context.Context, ownerID int64, feedURL string, item model.Item, siteName string) {
	text := FormatItem(siteName, item)

	if err := d.sender.SendItem(ownerID, text); err != nil {
		d.log.Error("private delivery", "owner_id", ownerID, "feed_url", feedURL, "error", err)
	}

	for _, chatID := range d.resolveTargets(ctx, ownerID, feedURL) {
		pushed, err := d.dedup.Pushed(ctx, feedURL, item.GUID, chatID)
		if err != nil {
			d.log.Error("check pushed", "chat_id", chatID, "guid", item.GUID, "error", err)
			continue
		}
		if pushed {
			continue
		}

		if err := d.sender.SendItem(chatID, text); err != nil {
			d.log.Error("target delivery", "chat_id", chatID, "feed_url", feedURL, "error", err)
			continue
		}
		if _, err := d.dedup.RecordPush(ctx, feedURL, item.GUID, chatID); err != nil {
			d.log.Error("record push", "chat_id", chatID, "guid", item.GUID, "error", err)
		}
	}
}

// resolveTargets returns the chat IDs bound to (ownerID, feedURL) that should
// receive deliveries. A binding whose target row is missing is included; a
// target explicitly marked inactive is excluded.
func (d *Dispatcher) resolveTargets(ctx context.Context, ownerID int64, feedURL string) []int64 {
	bindings, err := d.registry.ListBindings(ctx, ownerID, feedURL)
	if err != nil {
		d.log.Error("list bindings", "owner_id", ownerID, "feed_url", feedURL, "error", err)
		return nil
	}

	var chatIDs []int64
	for _, binding := range bindings {
		target, err := d.registry.GetTarget(ctx, binding.OwnerID, binding.ChatID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			chatIDs = append(chatIDs, binding.ChatID)
		case err != nil:
			d.log.Error("resolve target", "chat_id", binding.ChatID, "error", err)
		case target.Status == model.TargetActive:
			chatIDs = append(chatIDs, binding.ChatID)
		}
	}
	return chatIDs
}
