package bot

import (
	"fmt"
	"strings"

	"rsspush/internal/model"
)

// FormatSubscriptionList formats an owner's subscriptions for display.
func FormatSubscriptionList(subs []model.Subscription) string {
	if len(subs) == 0 {
		return "You have no subscriptions yet. Use /add <url> to add one."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your subscriptions (%d):\n", len(subs))
	for i, sub := range subs {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, sub.SiteName, sub.FeedURL)
	}
	b.WriteString("\nUse /del <n> to unsubscribe.")
	return b.String()
}

// FormatTargetList formats an owner's push targets with their binding counts.
func FormatTargetList(targets []model.PushTarget, bindings []model.Binding) string {
	if len(targets) == 0 {
		return "You have no push targets. Add this bot to a group or channel, or send /register there."
	}

	counts := make(map[int64]int)
	for _, binding := range bindings {
		counts[binding.ChatID]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your push targets (%d):\n", len(targets))
	for i, t := range targets {
		status := "active"
		if t.Status == model.TargetInactive {
			status = "inactive"
		}
		fmt.Fprintf(&b, "\n%d. %s (%s) [%s]\n", i+1, t.Title, t.ChatType, status)
		if n := counts[t.ChatID]; n > 0 {
			fmt.Fprintf(&b, "   %d bound feed(s)\n", n)
		} else {
			b.WriteString("   no bound feeds\n")
		}
	}
	b.WriteString("\nUse /bind <feed#> <target#> to route a feed to a target.")
	return b.String()
}

// FormatFailures formats an owner's failing feeds.
func FormatFailures(failures []model.FeedFailure, names map[string]string) string {
	if len(failures) == 0 {
		return "All of your feeds are working."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Failing feeds (%d):\n", len(failures))
	for i, f := range failures {
		msg := f.ErrorMessage
		if len(msg) > 80 {
			msg = msg[:80] + "..."
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n   %s\n   %d consecutive failures, last at %s\n",
			i+1, names[f.FeedURL], f.FeedURL, msg, f.FailureCount,
			f.LastFailureAt.Format("2006-01-02 15:04 UTC"))
	}
	b.WriteString("\nConsider removing sources that stay unreachable.")
	return b.String()
}

// FormatStats formats the /stats reply.
func FormatStats(ownSubscriptions int, stats *model.Stats) string {
	var b strings.Builder
	b.WriteString("Statistics:\n\n")
	fmt.Fprintf(&b, "Your subscriptions: %d\n", ownSubscriptions)
	fmt.Fprintf(&b, "Total users: %d\n", stats.Users)
	fmt.Fprintf(&b, "Total subscriptions: %d\n", stats.Subscriptions)
	fmt.Fprintf(&b, "Recorded items: %d\n", stats.Items)
	return b.String()
}
