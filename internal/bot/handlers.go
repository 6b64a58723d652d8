package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rsspush/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to RSS Push Bot!

Subscribe to RSS/Atom feeds and get new entries delivered here and to any
groups or channels you bind.

Quick start:
1. /add <url> — subscribe to a feed
2. add this bot to a group, or send /register there
3. /bind <feed#> <target#> — push the feed to that group

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Subscriptions:
/add <url>... — subscribe to one or more feeds
/list — show your subscriptions
/del <n>... — delete subscriptions by list number
/test <url> — test whether a feed source is reachable
/failed — show your feeds with repeated fetch failures
/stats — usage statistics

Push targets:
/register — (inside a group/channel) register it as a push target
/targets — list your push targets
/bind <feed#> <target#> — deliver a feed to a target
/unbind <feed#> <target#> — stop delivering a feed to a target
/disable <target#> — pause all delivery to a target
/enable <target#> — resume delivery to a target
/untarget <target#> — remove a target and its bindings

Other:
/check — check all feeds now`)
}

func (b *Bot) handleAdd(ctx context.Context, chatID, ownerID int64, args string) {
	urls := strings.Fields(args)
	if len(urls) == 0 {
		b.reply(chatID, "Usage: /add <url> [url ...]")
		return
	}

	var added, duplicate, failed int
	var results []string

	for _, rawURL := range urls {
		if !isValidURL(rawURL) {
			results = append(results, fmt.Sprintf("invalid link: %s", rawURL))
			failed++
			continue
		}

		items, err := b.fetcher.Fetch(ctx, rawURL)
		if err != nil || len(items) == 0 {
			reason := "no entries or unrecognized format"
			if err != nil {
				reason = err.Error()
			}
			results = append(results, fmt.Sprintf("cannot access: %s (%s)", rawURL, reason))
			failed++
			continue
		}

		name := siteName(rawURL)
		wasNew, err := b.store.CreateSubscription(ctx, &model.Subscription{
			OwnerID:  ownerID,
			FeedURL:  rawURL,
			SiteName: name,
		})
		if err != nil {
			b.log.Error("create subscription", "url", rawURL, "error", err)
			results = append(results, fmt.Sprintf("failed to save: %s", rawURL))
			failed++
			continue
		}
		if !wasNew {
			results = append(results, fmt.Sprintf("already subscribed: %s", name))
			duplicate++
			continue
		}
		results = append(results, fmt.Sprintf("added: %s", name))
		added++
	}

	summary := fmt.Sprintf("Added %d, duplicate %d, failed %d.\n\n", added, duplicate, failed)
	b.reply(chatID, summary+strings.Join(results, "\n"))
}

func (b *Bot) handleList(ctx context.Context, chatID, ownerID int64) {
	subs, err := b.store.ListSubscriptions(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatSubscriptionList(subs))
}

func (b *Bot) handleDel(ctx context.Context, chatID, ownerID int64, args string) {
	if strings.TrimSpace(args) == "" {
		b.reply(chatID, "Usage: /del <n> [n ...] (see /list for numbers)")
		return
	}

	subs, err := b.store.ListSubscriptions(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(subs) == 0 {
		b.reply(chatID, "You have no subscriptions.")
		return
	}

	indexes, bad := ParseIndexArgs(args, len(subs))

	var deleted, failed int
	var results []string
	for _, arg := range bad {
		results = append(results, fmt.Sprintf("invalid number: %s", arg))
		failed++
	}
	for _, idx := range indexes {
		sub := subs[idx-1]
		ok, err := b.store.DeleteSubscription(ctx, ownerID, sub.FeedURL)
		if err != nil || !ok {
			if err != nil {
				b.log.Error("delete subscription", "url", sub.FeedURL, "error", err)
			}
			results = append(results, fmt.Sprintf("failed to delete: %s", sub.SiteName))
			failed++
			continue
		}
		results = append(results, fmt.Sprintf("deleted: %s", sub.SiteName))
		deleted++
	}

	summary := fmt.Sprintf("Deleted %d, failed %d.\n\n", deleted, failed)
	b.reply(chatID, summary+strings.Join(results, "\n"))
}

func (b *Bot) handleTest(ctx context.Context, chatID int64, args string) {
	rawURL := strings.TrimSpace(args)
	if rawURL == "" {
		b.reply(chatID, "Usage: /test <url>")
		return
	}
	if !isValidURL(rawURL) {
		b.reply(chatID, "Invalid URL format.")
		return
	}

	items, err := b.fetcher.Fetch(ctx, rawURL)
	switch {
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Source is not reachable: %v", err))
	case len(items) == 0:
		b.reply(chatID, "Source responded but yielded no entries (empty feed, cooldown, or unrecognized format).")
	default:
		b.reply(chatID, fmt.Sprintf("Source OK: %d entries.\nLatest: %s", len(items), items[0].Title))
	}
}

func (b *Bot) handleFailed(ctx context.Context, chatID, ownerID int64) {
	subs, err := b.store.ListSubscriptions(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	failures, err := b.store.ListFailures(ctx, failedThreshold)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	names := make(map[string]string, len(subs))
	for _, sub := range subs {
		names[sub.FeedURL] = sub.SiteName
	}

	var mine []model.FeedFailure
	for _, f := range failures {
		if _, ok := names[f.FeedURL]; ok {
			mine = append(mine, f)
		}
	}

	b.reply(chatID, FormatFailures(mine, names))
}

func (b *Bot) handleStats(ctx context.Context, chatID, ownerID int64) {
	subs, err := b.store.ListSubscriptions(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	stats, err := b.store.Stats(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(len(subs), stats))
}

func (b *Bot) handleRegister(ctx context.Context, msg *tgbotapi.Message) {
	chat := msg.Chat
	if chat.IsPrivate() {
		b.reply(chat.ID, "Run /register inside the group or channel you want to push to.")
		return
	}

	target := &model.PushTarget{
		OwnerID:  msg.From.ID,
		ChatID:   chat.ID,
		ChatType: model.ChatType(chat.Type),
		Title:    chat.Title,
		Username: chat.UserName,
		Status:   model.TargetActive,
	}
	if err := b.store.UpsertTarget(ctx, target); err != nil {
		b.log.Error("register target", "chat_id", chat.ID, "error", err)
		b.reply(chat.ID, "Failed to register this chat as a push target.")
		return
	}
	// Registering always leaves the target active, even if a previous row
	// was deactivated by a kick or /disable.
	if _, err := b.store.SetTargetStatus(ctx, msg.From.ID, chat.ID, model.TargetActive); err != nil {
		b.log.Error("activate target", "chat_id", chat.ID, "error", err)
		b.reply(chat.ID, "Failed to register this chat as a push target.")
		return
	}
	b.reply(chat.ID, fmt.Sprintf("Registered %q as a push target. Use /bind in a private chat to route feeds here.", chat.Title))
}

func (b *Bot) handleTargets(ctx context.Context, chatID, ownerID int64) {
	targets, err := b.store.ListTargets(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	bindings, err := b.store.ListBindingsForOwner(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatTargetList(targets, bindings))
}

func (b *Bot) handleBind(ctx context.Context, chatID, ownerID int64, args string) {
	sub, target, ok := b.resolveBindArgs(ctx, chatID, ownerID, args, "/bind")
	if !ok {
		return
	}

	wasNew, err := b.store.CreateBinding(ctx, ownerID, sub.FeedURL, target.ChatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if !wasNew {
		b.reply(chatID, fmt.Sprintf("%s is already bound to %q.", sub.SiteName, target.Title))
		return
	}
	b.reply(chatID, fmt.Sprintf("Bound %s to %q.", sub.SiteName, target.Title))
}

func (b *Bot) handleUnbind(ctx context.Context, chatID, ownerID int64, args string) {
	sub, target, ok := b.resolveBindArgs(ctx, chatID, ownerID, args, "/unbind")
	if !ok {
		return
	}

	removed, err := b.store.DeleteBinding(ctx, ownerID, sub.FeedURL, target.ChatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if !removed {
		b.reply(chatID, fmt.Sprintf("%s is not bound to %q.", sub.SiteName, target.Title))
		return
	}
	b.reply(chatID, fmt.Sprintf("Unbound %s from %q.", sub.SiteName, target.Title))
}

func (b *Bot) resolveBindArgs(ctx context.Context, chatID, ownerID int64, args, usage string) (*model.Subscription, *model.PushTarget, bool) {
	subIdx, targetIdx, err := ParseBindArgs(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: %s <feed#> <target#> (see /list and /targets)", usage))
		return nil, nil, false
	}

	subs, err := b.store.ListSubscriptions(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return nil, nil, false
	}
	if subIdx < 1 || subIdx > len(subs) {
		b.reply(chatID, fmt.Sprintf("No feed #%d. See /list.", subIdx))
		return nil, nil, false
	}

	targets, err := b.store.ListTargets(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return nil, nil, false
	}
	if targetIdx < 1 || targetIdx > len(targets) {
		b.reply(chatID, fmt.Sprintf("No target #%d. See /targets.", targetIdx))
		return nil, nil, false
	}

	return &subs[subIdx-1], &targets[targetIdx-1], true
}

func (b *Bot) handleTargetStatus(ctx context.Context, chatID, ownerID int64, args string, status model.TargetStatus) {
	target, ok := b.resolveTargetArg(ctx, chatID, ownerID, args)
	if !ok {
		return
	}

	if _, err := b.store.SetTargetStatus(ctx, ownerID, target.ChatID, status); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	verb := "resumed"
	if status == model.TargetInactive {
		verb = "paused"
	}
	b.reply(chatID, fmt.Sprintf("Delivery to %q %s.", target.Title, verb))
}

func (b *Bot) handleUntarget(ctx context.Context, chatID, ownerID int64, args string) {
	target, ok := b.resolveTargetArg(ctx, chatID, ownerID, args)
	if !ok {
		return
	}

	removed, err := b.store.DeleteTarget(ctx, ownerID, target.ChatID)
	if err != nil || !removed {
		if err != nil {
			b.log.Error("delete target", "chat_id", target.ChatID, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Failed to remove target %q.", target.Title))
		return
	}
	b.reply(chatID, fmt.Sprintf("Removed target %q and its bindings.", target.Title))
}

func (b *Bot) resolveTargetArg(ctx context.Context, chatID, ownerID int64, args string) (*model.PushTarget, bool) {
	idx, err := ParseIndexArg(args)
	if err != nil {
		b.reply(chatID, "Usage: <target#> (see /targets)")
		return nil, false
	}

	targets, err := b.store.ListTargets(ctx, ownerID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return nil, false
	}
	if idx < 1 || idx > len(targets) {
		b.reply(chatID, fmt.Sprintf("No target #%d. See /targets.", idx))
		return nil, false
	}
	return &targets[idx-1], true
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	if b.checker == nil {
		b.reply(chatID, "Feed checking is not available right now.")
		return
	}
	go b.checker.CheckFeeds(ctx)
	b.reply(chatID, "Feed check started. New entries will arrive as they are found.")
}
