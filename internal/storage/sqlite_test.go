package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"rsspush/internal/model"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sub := &model.Subscription{OwnerID: 100, FeedURL: "https://a.example.com/rss", SiteName: "a.example.com"}
	wasNew, err := s.CreateSubscription(ctx, sub)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !wasNew {
		t.Error("first insert should be new")
	}
	if sub.ID == 0 {
		t.Error("expected ID to be set")
	}

	dup := &model.Subscription{OwnerID: 100, FeedURL: "https://a.example.com/rss", SiteName: "a.example.com"}
	wasNew, err = s.CreateSubscription(ctx, dup)
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if wasNew {
		t.Error("duplicate insert should not be new")
	}

	// Same URL under a different owner is a distinct subscription.
	other := &model.Subscription{OwnerID: 200, FeedURL: "https://a.example.com/rss", SiteName: "a.example.com"}
	wasNew, err = s.CreateSubscription(ctx, other)
	if err != nil {
		t.Fatalf("create other owner: %v", err)
	}
	if !wasNew {
		t.Error("same URL for another owner should be new")
	}

	subs, err := s.ListSubscriptions(ctx, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.Subscription{
		{ID: sub.ID, OwnerID: 100, FeedURL: "https://a.example.com/rss", SiteName: "a.example.com"},
	}
	if diff := cmp.Diff(want, subs, cmpopts.IgnoreFields(model.Subscription{}, "CreatedAt")); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}

	all, err := s.ListAllSubscriptions(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 subscriptions total, got %d", len(all))
	}

	deleted, err := s.DeleteSubscription(ctx, 100, "https://a.example.com/rss")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report true")
	}
	deleted, err = s.DeleteSubscription(ctx, 100, "https://a.example.com/rss")
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if deleted {
		t.Error("second delete should report false")
	}
}

func TestRecordItemIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	item := model.Item{GUID: "g1", Title: "Post", Link: "https://a.example.com/1"}
	wasNew, err := s.RecordItem(ctx, "https://a.example.com/rss", item)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !wasNew {
		t.Error("first record should be new")
	}

	wasNew, err = s.RecordItem(ctx, "https://a.example.com/rss", item)
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if wasNew {
		t.Error("second record should not be new")
	}

	seen, err := s.ItemSeen(ctx, "https://a.example.com/rss", "g1")
	if err != nil {
		t.Fatalf("item seen: %v", err)
	}
	if !seen {
		t.Error("expected item to be seen")
	}

	// Same GUID under a different feed is a different item.
	seen, err = s.ItemSeen(ctx, "https://b.example.com/rss", "g1")
	if err != nil {
		t.Fatalf("item seen other feed: %v", err)
	}
	if seen {
		t.Error("item should be scoped to its feed")
	}
}

func TestPurgeItemsBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for _, guid := range []string{"old", "fresh"} {
		if _, err := s.RecordItem(ctx, "https://a.example.com/rss", model.Item{GUID: guid}); err != nil {
			t.Fatalf("record %s: %v", guid, err)
		}
	}
	backdate := func(guid string, age time.Duration) {
		t.Helper()
		seen := time.Now().UTC().Add(-age).Format(timeLayout)
		if _, err := s.db.Exec(
			`UPDATE feed_items SET first_seen_at = ? WHERE guid = ?`, seen, guid,
		); err != nil {
			t.Fatalf("backdate %s: %v", guid, err)
		}
	}
	backdate("old", 31*24*time.Hour)
	backdate("fresh", 29*24*time.Hour)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	n, err := s.PurgeItemsBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}

	seen, err := s.ItemSeen(ctx, "https://a.example.com/rss", "fresh")
	if err != nil {
		t.Fatalf("item seen: %v", err)
	}
	if !seen {
		t.Error("fresh item should survive the purge")
	}
	seen, err = s.ItemSeen(ctx, "https://a.example.com/rss", "old")
	if err != nil {
		t.Fatalf("item seen: %v", err)
	}
	if seen {
		t.Error("old item should have been purged")
	}
}

func TestPushRecordExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	wasNew, err := s.RecordPush(ctx, "https://a.example.com/rss", "g1", -500)
	if err != nil {
		t.Fatalf("record push: %v", err)
	}
	if !wasNew {
		t.Error("first push record should be new")
	}

	wasNew, err = s.RecordPush(ctx, "https://a.example.com/rss", "g1", -500)
	if err != nil {
		t.Fatalf("record push again: %v", err)
	}
	if wasNew {
		t.Error("duplicate push record should not be new")
	}

	pushed, err := s.Pushed(ctx, "https://a.example.com/rss", "g1", -500)
	if err != nil {
		t.Fatalf("pushed: %v", err)
	}
	if !pushed {
		t.Error("expected pushed to be true")
	}
	pushed, err = s.Pushed(ctx, "https://a.example.com/rss", "g1", -600)
	if err != nil {
		t.Fatalf("pushed other chat: %v", err)
	}
	if pushed {
		t.Error("push record should be scoped to its chat")
	}
}

func TestTargetLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	target := &model.PushTarget{
		OwnerID:  100,
		ChatID:   -500,
		ChatType: model.ChatGroup,
		Title:    "Dev Chat",
		Status:   model.TargetActive,
	}
	if err := s.UpsertTarget(ctx, target); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetTarget(ctx, 100, -500)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Dev Chat" || got.Status != model.TargetActive {
		t.Errorf("unexpected target: %+v", got)
	}

	// Disable, then upsert again. Status must survive the upsert.
	ok, err := s.SetTargetStatus(ctx, 100, -500, model.TargetInactive)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if !ok {
		t.Error("expected status update to report true")
	}
	target.Title = "Dev Chat (renamed)"
	target.Status = model.TargetActive
	if err := s.UpsertTarget(ctx, target); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = s.GetTarget(ctx, 100, -500)
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.Title != "Dev Chat (renamed)" {
		t.Errorf("title not refreshed: %q", got.Title)
	}
	if got.Status != model.TargetInactive {
		t.Errorf("upsert must preserve existing status, got %q", got.Status)
	}

	targets, err := s.ListTargets(ctx, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
}

func TestGetTargetNotFound(t *testing.T) {
	s := newTestDB(t)

	_, err := s.GetTarget(context.Background(), 100, -999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTargetCascadesBindings(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	target := &model.PushTarget{OwnerID: 100, ChatID: -500, ChatType: model.ChatGroup, Status: model.TargetActive}
	if err := s.UpsertTarget(ctx, target); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.CreateBinding(ctx, 100, "https://a.example.com/rss", -500); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := s.CreateBinding(ctx, 100, "https://b.example.com/rss", -500); err != nil {
		t.Fatalf("bind: %v", err)
	}

	deleted, err := s.DeleteTarget(ctx, 100, -500)
	if err != nil {
		t.Fatalf("delete target: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report true")
	}

	bindings, err := s.ListBindingsForOwner(ctx, 100)
	if err != nil {
		t.Fatalf("list bindings: %v", err)
	}
	if len(bindings) != 0 {
		t.Errorf("expected bindings removed with target, got %d", len(bindings))
	}
	if _, err := s.GetTarget(ctx, 100, -500); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected target gone, got %v", err)
	}
}

func TestBindings(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	wasNew, err := s.CreateBinding(ctx, 100, "https://a.example.com/rss", -500)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !wasNew {
		t.Error("first binding should be new")
	}
	wasNew, err = s.CreateBinding(ctx, 100, "https://a.example.com/rss", -500)
	if err != nil {
		t.Fatalf("bind again: %v", err)
	}
	if wasNew {
		t.Error("duplicate binding should not be new")
	}
	if _, err := s.CreateBinding(ctx, 100, "https://a.example.com/rss", -600); err != nil {
		t.Fatalf("bind second target: %v", err)
	}

	bindings, err := s.ListBindings(ctx, 100, "https://a.example.com/rss")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.Binding{
		{OwnerID: 100, FeedURL: "https://a.example.com/rss", ChatID: -600},
		{OwnerID: 100, FeedURL: "https://a.example.com/rss", ChatID: -500},
	}
	if diff := cmp.Diff(want, bindings, cmpopts.IgnoreFields(model.Binding{}, "CreatedAt")); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}

	deleted, err := s.DeleteBinding(ctx, 100, "https://a.example.com/rss", -500)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report true")
	}
	bindings, err = s.ListBindings(ctx, 100, "https://a.example.com/rss")
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(bindings) != 1 || bindings[0].ChatID != -600 {
		t.Errorf("unexpected bindings after delete: %+v", bindings)
	}
}

func TestFailureTracking(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	const url = "https://broken.example.com/rss"
	for i := 0; i < 3; i++ {
		if err := s.RecordFailure(ctx, url, "unexpected status 500"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if err := s.RecordFailure(ctx, "https://flaky.example.com/rss", "timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	failures, err := s.ListFailures(ctx, 3)
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure above threshold, got %d", len(failures))
	}
	if failures[0].FeedURL != url || failures[0].FailureCount != 3 {
		t.Errorf("unexpected failure record: %+v", failures[0])
	}
	if failures[0].ErrorMessage != "unexpected status 500" {
		t.Errorf("unexpected message: %q", failures[0].ErrorMessage)
	}

	if err := s.ClearFailure(ctx, url); err != nil {
		t.Fatalf("clear: %v", err)
	}
	failures, err = s.ListFailures(ctx, 1)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(failures) != 1 || failures[0].FeedURL != "https://flaky.example.com/rss" {
		t.Errorf("unexpected failures after clear: %+v", failures)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for _, sub := range []model.Subscription{
		{OwnerID: 100, FeedURL: "https://a.example.com/rss"},
		{OwnerID: 100, FeedURL: "https://b.example.com/rss"},
		{OwnerID: 200, FeedURL: "https://a.example.com/rss"},
	} {
		sub := sub
		if _, err := s.CreateSubscription(ctx, &sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.RecordItem(ctx, "https://a.example.com/rss", model.Item{GUID: "g1"}); err != nil {
		t.Fatalf("record item: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := &model.Stats{Users: 2, Subscriptions: 3, Items: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
