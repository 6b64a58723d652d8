// Package scheduler drives the periodic feed ingestion run: it groups
// subscriptions by feed URL, fetches in paced batches, fans new items out,
// and purges expired seen-item records.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"rsspush/internal/model"
	"rsspush/internal/storage"
)

// Fetcher downloads and normalizes a feed. An error is recorded against the
// feed, never propagated; an empty result with nil error means nothing new.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]model.Item, error)
}

// Dispatcher delivers one new item for one owner.
type Dispatcher interface {
	Deliver(ctx context.Context, ownerID int64, feedURL string, item model.Item, siteName string)
}

// Scheduler runs the ingestion pipeline on a cron schedule. CheckFeeds is
// also the manual trigger; runs are not serialized against each other, and
// correctness under overlap relies on the storage layer's insert-or-ignore
// writes.
type Scheduler struct {
	store      storage.Storage
	fetcher    Fetcher
	dispatcher Dispatcher
	log        *slog.Logger

	schedule   string
	batchSize  int
	retention  time.Duration
	ownerDelay time.Duration
	itemDelay  time.Duration
	batchDelay time.Duration
}

// New creates a Scheduler with the default cadence: every 10 minutes,
// batches of 30, 30-day retention.
func New(store storage.Storage, fetcher Fetcher, dispatcher Dispatcher, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		log:        log,
		schedule:   "@every 10m",
		batchSize:  30,
		retention:  30 * 24 * time.Hour,
		ownerDelay: 100 * time.Millisecond,
		itemDelay:  200 * time.Millisecond,
		batchDelay: 1500 * time.Millisecond,
	}
}

// SetSchedule overrides the cron schedule used by Run.
func (s *Scheduler) SetSchedule(spec string) {
	s.schedule = spec
}

// SetBatchSize overrides how many distinct feed URLs are fetched per batch.
func (s *Scheduler) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// SetRetention overrides the seen-item retention window.
func (s *Scheduler) SetRetention(d time.Duration) {
	s.retention = d
}

// SetDelays overrides the pacing delays between owners, items, and batches.
func (s *Scheduler) SetDelays(owner, item, batch time.Duration) {
	s.ownerDelay = owner
	s.itemDelay = item
	s.batchDelay = batch
}

// Run performs one immediate check, then checks on the configured schedule
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.CheckFeeds(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.CheckFeeds(context.Background()) }); err != nil {
		s.log.Error("invalid check schedule", "schedule", s.schedule, "error", err)
		return
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
}

// CheckFeeds performs one full ingestion run. Safe to invoke concurrently
// with a timer-triggered run.
func (s *Scheduler) CheckFeeds(ctx context.Context) {
	subs, err := s.store.ListAllSubscriptions(ctx)
	if err != nil {
		s.log.Error("list subscriptions", "error", err)
		return
	}

	// A feed shared by multiple owners is fetched once per run.
	byURL := make(map[string][]model.Subscription)
	var urls []string
	for _, sub := range subs {
		if _, ok := byURL[sub.FeedURL]; !ok {
			urls = append(urls, sub.FeedURL)
		}
		byURL[sub.FeedURL] = append(byURL[sub.FeedURL], sub)
	}

	s.log.Debug("starting run", "feeds", len(urls), "subscriptions", len(subs))

	for start := 0; start < len(urls); start += s.batchSize {
		end := min(start+s.batchSize, len(urls))

		var g errgroup.Group
		for _, url := range urls[start:end] {
			url := url
			g.Go(func() error {
				s.processFeed(ctx, url, byURL[url])
				return nil
			})
		}
		_ = g.Wait()

		if end < len(urls) {
			time.Sleep(s.batchDelay)
		}
	}

	purged, err := s.store.PurgeItemsBefore(ctx, time.Now().UTC().Add(-s.retention))
	if err != nil {
		s.log.Error("purge old items", "error", err)
	} else if purged > 0 {
		s.log.Info("purged old items", "count", purged)
	}
}

func (s *Scheduler) processFeed(ctx context.Context, url string, subs []model.Subscription) {
	items, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.log.Error("fetch feed", "url", url, "error", err)
		if rerr := s.store.RecordFailure(ctx, url, err.Error()); rerr != nil {
			s.log.Error("record failure", "url", url, "error", rerr)
		}
		return
	}
	if len(items) == 0 {
		return
	}

	if err := s.store.ClearFailure(ctx, url); err != nil {
		s.log.Error("clear failure", "url", url, "error", err)
	}

	sent := 0
	for _, item := range items {
		seen, err := s.store.ItemSeen(ctx, url, item.GUID)
		if err != nil {
			s.log.Error("check item seen", "url", url, "guid", item.GUID, "error", err)
			continue
		}
		if seen {
			continue
		}

		// Deliveries within one feed stay sequential to pace outbound
		// traffic against the messaging surface's rate limits.
		for _, sub := range subs {
			s.dispatcher.Deliver(ctx, sub.OwnerID, url, item, sub.SiteName)
			time.Sleep(s.ownerDelay)
		}

		if _, err := s.store.RecordItem(ctx, url, item); err != nil {
			s.log.Error("record item", "url", url, "guid", item.GUID, "error", err)
		}
		sent++
		time.Sleep(s.itemDelay)
	}

	if sent > 0 {
		s.log.Info("delivered new items", "url", url, "count", sent)
	}
}
