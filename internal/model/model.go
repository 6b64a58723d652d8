// Package model defines the domain types used across the application.
package model

import "time"

// Subscription links an owner to a feed URL they follow.
// The (OwnerID, FeedURL) pair is unique.
type Subscription struct {
	ID        int64
	OwnerID   int64
	FeedURL   string
	SiteName  string
	CreatedAt time.Time
}

// Item is a canonical entry extracted from a feed.
// Identity within a feed is the GUID, which falls back to link, then title.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	PublishedAt string
}

// ChatType classifies a push target's delivery surface.
type ChatType string

// Supported chat types.
const (
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// TargetStatus marks whether a push target receives deliveries.
type TargetStatus string

// Supported target statuses.
const (
	TargetActive   TargetStatus = "active"
	TargetInactive TargetStatus = "inactive"
)

// PushTarget is a group or channel an owner registered for fan-out delivery.
// The (OwnerID, ChatID) pair is unique.
type PushTarget struct {
	OwnerID   int64
	ChatID    int64
	ChatType  ChatType
	Title     string
	Username  string
	Status    TargetStatus
	CreatedAt time.Time
}

// Binding associates one subscription with one push target.
// The (OwnerID, FeedURL, ChatID) triple is unique.
type Binding struct {
	OwnerID   int64
	FeedURL   string
	ChatID    int64
	CreatedAt time.Time
}

// FeedFailure tracks consecutive fetch failures for a feed URL.
type FeedFailure struct {
	FeedURL       string
	ErrorMessage  string
	FailureCount  int
	LastFailureAt time.Time
	CreatedAt     time.Time
}

// Stats holds global usage counters.
type Stats struct {
	Users         int64
	Subscriptions int64
	Items         int64
}
