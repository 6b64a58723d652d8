// Package feed converts raw RSS 2.0 and Atom payloads into canonical items.
package feed

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"rsspush/internal/model"
)

const (
	// maxItems caps how many entries a single fetch may yield.
	maxItems = 10
	// maxDescriptionLen truncates stripped descriptions.
	maxDescriptionLen = 200

	displayTimeLayout = "2006-01-02 15:04 UTC"
)

// Normalizer turns a raw feed payload into canonical items.
// Implementations are best-effort: a malformed entry is dropped, not fatal.
type Normalizer interface {
	Normalize(payload []byte) ([]model.Item, error)
}

// GofeedNormalizer implements Normalizer on top of gofeed, which detects
// RSS vs Atom from the document itself.
type GofeedNormalizer struct {
	parser *gofeed.Parser
	strip  *bluemonday.Policy
}

// New creates a GofeedNormalizer.
func New() *GofeedNormalizer {
	return &GofeedNormalizer{
		parser: gofeed.NewParser(),
		strip:  bluemonday.StrictPolicy(),
	}
}

// Normalize parses payload and returns at most maxItems canonical items in
// source order. Entries lacking both a title and a usable guid are dropped.
func (n *GofeedNormalizer) Normalize(payload []byte) ([]model.Item, error) {
	parsed, err := n.parser.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var items []model.Item
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		item := n.normalizeEntry(entry)
		if item.Title == "" && item.GUID == "" {
			continue
		}
		items = append(items, item)
		if len(items) == maxItems {
			break
		}
	}
	return items, nil
}

func (n *GofeedNormalizer) normalizeEntry(entry *gofeed.Item) model.Item {
	title := decodeEntities(strings.TrimSpace(entry.Title))
	link := strings.TrimSpace(entry.Link)

	// Guid falls back to link, then title.
	guid := strings.TrimSpace(entry.GUID)
	if guid == "" {
		guid = link
	}
	if guid == "" {
		guid = title
	}

	return model.Item{
		GUID:        guid,
		Title:       title,
		Link:        link,
		Description: n.description(entry),
		PublishedAt: publishedAt(entry),
	}
}

func (n *GofeedNormalizer) description(entry *gofeed.Item) string {
	raw := entry.Description
	if raw == "" {
		raw = entry.Content
	}
	if raw == "" {
		return ""
	}
	text := n.strip.Sanitize(raw)
	text = decodeEntities(text)
	text = collapseSpace(text)
	return truncate(text, maxDescriptionLen)
}

// publishedAt renders the entry's publication time for display. Atom entries
// without <published> fall back to <updated>; an unparseable timestamp falls
// back to the raw source string.
func publishedAt(entry *gofeed.Item) string {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC().Format(displayTimeLayout)
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC().Format(displayTimeLayout)
	}
	if raw := strings.TrimSpace(entry.Published); raw != "" {
		return raw
	}
	return strings.TrimSpace(entry.Updated)
}

// entities is the minimal set the pipeline guarantees to decode; source text
// may arrive double-encoded even after XML-level decoding.
var entities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
	"&#39;":  "'",
	"&nbsp;": " ",
}

func decodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	for entity, replacement := range entities {
		s = strings.ReplaceAll(s, entity, replacement)
	}
	return s
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
