package fanout

import (
	"fmt"
	"strings"

	"rsspush/internal/model"
)

// FormatItem formats a feed item as a Markdown notification message.
func FormatItem(siteName string, item model.Item) string {
	var b strings.Builder

	title := escapeMarkdown(item.Title)
	if item.Link != "" {
		fmt.Fprintf(&b, "[%s](%s)\n", title, item.Link)
	} else {
		b.WriteString(title)
		b.WriteString("\n")
	}

	if item.Description != "" {
		b.WriteString(escapeMarkdown(item.Description))
		b.WriteString("\n")
	}

	published := item.PublishedAt
	if published == "" {
		published = "unknown"
	}
	fmt.Fprintf(&b, "%s | %s", escapeMarkdown(siteName), published)

	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"`", "\\`",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
