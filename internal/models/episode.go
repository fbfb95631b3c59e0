package models

import "time"

// DateKeyLayout is the layout of Episode.DateKey values.
const DateKeyLayout = "2006-01-02"

// Episode represents one playable podcast item from the catalog.
type Episode struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Host        string    `json:"host"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	AudioURL    string    `json:"audioUrl"`
	Duration    string    `json:"duration"`
	PublishedAt time.Time `json:"publishedAt"`
	// DateKey is the calendar date of PublishedAt in the viewer's time zone.
	DateKey string `json:"dateKey"`
}

// Catalog is the normalized episode collection for one load, newest first.
type Catalog struct {
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loadedAt"`
	Episodes []Episode `json:"episodes"`
}

// Find returns the episode with the given id.
func (c Catalog) Find(id string) (Episode, bool) {
	for _, ep := range c.Episodes {
		if ep.ID == id {
			return ep, true
		}
	}
	return Episode{}, false
}

// DateGroup holds the episodes published on one calendar day.
type DateGroup struct {
	DateKey  string
	Episodes []Episode
}

// DateKeyOf returns the calendar-date key of t in loc.
func DateKeyOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateKeyLayout)
}
