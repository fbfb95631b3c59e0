// Package timeline derives the date-grouped, filtered episode list and
// projects it into the view shown by the player page.
package timeline

import (
	"sort"
	"strings"

	"podcast-timeline/internal/models"
)

// FilterState is the user's current date and search selection. An empty
// DateKey selects all dates.
type FilterState struct {
	DateKey    string `json:"dateKey"`
	SearchText string `json:"searchText"`
}

// InitialFilter selects the most recent date key, if any.
func InitialFilter(keys []string) FilterState {
	if len(keys) == 0 {
		return FilterState{}
	}
	return FilterState{DateKey: keys[0]}
}

// DistinctDateKeys returns every date key present in episodes, most recent first.
func DistinctDateKeys(episodes []models.Episode) []string {
	seen := make(map[string]struct{}, len(episodes))
	keys := make([]string, 0)
	for _, ep := range episodes {
		if _, ok := seen[ep.DateKey]; ok {
			continue
		}
		seen[ep.DateKey] = struct{}{}
		keys = append(keys, ep.DateKey)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}

// Chip is one selectable date filter. The all-dates chip has an empty DateKey.
type Chip struct {
	DateKey string `json:"dateKey"`
	Label   string `json:"label"`
	Active  bool   `json:"active"`
}

// DateChips builds one chip per key and, when more than one key exists, a
// trailing all-dates chip. label maps a date key (or "" for all dates) to text.
func DateChips(keys []string, active string, label func(dateKey string) string) []Chip {
	chips := make([]Chip, 0, len(keys)+1)
	for _, key := range keys {
		chips = append(chips, Chip{DateKey: key, Label: label(key), Active: key == active})
	}
	if len(keys) > 1 {
		chips = append(chips, Chip{Label: label(""), Active: active == ""})
	}
	return chips
}

// VisibleEpisodes returns the episodes matching both the date and the search
// text of filter, preserving catalog order. Search is a case-insensitive
// substring match on title or host.
func VisibleEpisodes(episodes []models.Episode, filter FilterState) []models.Episode {
	query := strings.ToLower(filter.SearchText)
	visible := make([]models.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if filter.DateKey != "" && ep.DateKey != filter.DateKey {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(ep.Title), query) &&
			!strings.Contains(strings.ToLower(ep.Host), query) {
			continue
		}
		visible = append(visible, ep)
	}
	return visible
}

// GroupByDate partitions episodes by date key. Groups are ordered most
// recent first and episodes inside a group by ascending publish time.
func GroupByDate(episodes []models.Episode) []models.DateGroup {
	index := make(map[string]int)
	var groups []models.DateGroup
	for _, ep := range episodes {
		i, ok := index[ep.DateKey]
		if !ok {
			i = len(groups)
			index[ep.DateKey] = i
			groups = append(groups, models.DateGroup{DateKey: ep.DateKey})
		}
		groups[i].Episodes = append(groups[i].Episodes, ep)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].DateKey > groups[j].DateKey
	})
	for _, group := range groups {
		eps := group.Episodes
		sort.SliceStable(eps, func(i, j int) bool {
			return eps[i].PublishedAt.Before(eps[j].PublishedAt)
		})
	}
	return groups
}
