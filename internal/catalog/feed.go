package catalog

import (
	"bytes"
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"podcast-timeline/internal/metadata"
)

// decodeFeed maps the items of an RSS or Atom podcast feed onto catalog records.
func decodeFeed(data []byte) ([]record, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var feedHost, feedImage string
	if feed.ITunesExt != nil {
		feedHost = feed.ITunesExt.Author
		feedImage = feed.ITunesExt.Image
	}
	if feed.Image != nil {
		feedImage = cmp.Or(feedImage, feed.Image.URL)
	}
	if feed.Author != nil {
		feedHost = cmp.Or(feedHost, feed.Author.Name)
	}

	records := make([]record, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		rec := record{
			ID:          item.GUID,
			Title:       item.Title,
			Description: cmp.Or(item.Description, item.Content),
			PublishedAt: item.Published,
		}
		if item.PublishedParsed != nil {
			rec.PublishedAt = item.PublishedParsed.Format(time.RFC3339)
		}

		if item.ITunesExt != nil {
			rec.Host = item.ITunesExt.Author
			rec.Image = item.ITunesExt.Image
			rec.Duration = feedDuration(item.ITunesExt.Duration)
			rec.Description = cmp.Or(rec.Description, item.ITunesExt.Summary)
		}
		if rec.Host == "" && item.Author != nil {
			rec.Host = item.Author.Name
		}
		if rec.Host == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			rec.Host = item.Authors[0].Name
		}
		rec.Host = cmp.Or(rec.Host, feedHost)

		if rec.Image == "" && item.Image != nil {
			rec.Image = item.Image.URL
		}
		rec.Image = cmp.Or(rec.Image, feedImage)

		for _, enclosure := range item.Enclosures {
			if enclosure != nil && enclosure.URL != "" {
				rec.AudioURL = enclosure.URL
				break
			}
		}

		records = append(records, rec)
	}

	return records, nil
}

// feedDuration converts an itunes:duration value ("3600", "59:10" or
// "1:02:03") into the short display label, keeping unknown formats as is.
func feedDuration(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	var seconds int
	for _, part := range strings.Split(value, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return value
		}
		seconds = seconds*60 + n
	}

	if label := metadata.FormatDuration(time.Duration(seconds) * time.Second); label != "" {
		return label
	}
	return value
}
