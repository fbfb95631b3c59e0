package timeline

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-timeline/internal/locale"
	"podcast-timeline/internal/models"
)

func episode(id, title, host string, published time.Time) models.Episode {
	return models.Episode{
		ID:          id,
		Title:       title,
		Host:        host,
		AudioURL:    "https://cdn.example/" + id + ".mp3",
		Duration:    "30 min",
		PublishedAt: published,
		DateKey:     models.DateKeyOf(published, time.UTC),
	}
}

// scenarioCatalog has two episodes on 2024-01-02 and one on 2024-01-01, newest first.
func scenarioCatalog() []models.Episode {
	return []models.Episode{
		episode("b", "Middag", "BNR", time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)),
		episode("a", "Ochtend", "Foobar Radio", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)),
		episode("c", "Avond", "BNR", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
	}
}

func randomCatalog(r *rand.Rand, n int) []models.Episode {
	hosts := []string{"BNR", "Foobar Radio", "Nieuws", "Sport"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	episodes := make([]models.Episode, 0, n)
	for i := 0; i < n; i++ {
		published := base.Add(time.Duration(r.Intn(10*24*60)) * time.Minute)
		episodes = append(episodes, episode(fmt.Sprintf("ep%d", i), fmt.Sprintf("Episode %d", i), hosts[r.Intn(len(hosts))], published))
	}
	return episodes
}

func TestDistinctDateKeysStrictlyDescending(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		keys := DistinctDateKeys(randomCatalog(r, 1+r.Intn(40)))
		require.NotEmpty(t, keys)
		for i := 1; i < len(keys); i++ {
			assert.Greater(t, keys[i-1], keys[i], "keys must be strictly descending without duplicates")
		}
	}

	assert.Equal(t, []string{"2024-01-02", "2024-01-01"}, DistinctDateKeys(scenarioCatalog()))
	assert.Empty(t, DistinctDateKeys(nil))
}

func TestInitialFilter(t *testing.T) {
	assert.Equal(t, FilterState{DateKey: "2024-01-02"}, InitialFilter([]string{"2024-01-02", "2024-01-01"}))
	assert.Equal(t, FilterState{}, InitialFilter(nil))
}

func TestDateChips(t *testing.T) {
	label := func(key string) string {
		if key == "" {
			return "all"
		}
		return "day " + key
	}

	chips := DateChips([]string{"2024-01-02", "2024-01-01"}, "2024-01-02", label)
	require.Len(t, chips, 3)
	assert.Equal(t, Chip{DateKey: "2024-01-02", Label: "day 2024-01-02", Active: true}, chips[0])
	assert.Equal(t, Chip{DateKey: "2024-01-01", Label: "day 2024-01-01"}, chips[1])
	assert.Equal(t, Chip{Label: "all"}, chips[2])

	chips = DateChips([]string{"2024-01-02", "2024-01-01"}, "", label)
	assert.True(t, chips[2].Active)

	chips = DateChips([]string{"2024-01-02"}, "2024-01-02", label)
	require.Len(t, chips, 1, "no all-dates chip with a single date")
}

func TestVisibleEpisodesProperties(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	queries := []string{"", "foo", "EPISODE 1", "bnr", "zzz", "radio"}

	for round := 0; round < 50; round++ {
		catalog := randomCatalog(r, 1+r.Intn(30))
		keys := DistinctDateKeys(catalog)
		filter := FilterState{SearchText: queries[r.Intn(len(queries))]}
		if r.Intn(3) > 0 {
			filter.DateKey = keys[r.Intn(len(keys))]
		}

		visible := VisibleEpisodes(catalog, filter)
		ids := make(map[string]struct{}, len(catalog))
		for _, ep := range catalog {
			ids[ep.ID] = struct{}{}
		}

		for _, ep := range visible {
			_, ok := ids[ep.ID]
			assert.True(t, ok, "visible episodes are a subset of the catalog")
			if filter.DateKey != "" {
				assert.Equal(t, filter.DateKey, ep.DateKey)
			}
			if q := strings.ToLower(filter.SearchText); q != "" {
				assert.True(t, strings.Contains(strings.ToLower(ep.Title), q) || strings.Contains(strings.ToLower(ep.Host), q))
			}
		}

		assert.Equal(t, visible, VisibleEpisodes(catalog, filter), "filtering is idempotent")
		assert.Equal(t, visible, VisibleEpisodes(visible, filter), "reapplying the filter keeps the set")
	}
}

func TestVisibleEpisodesMatchesHostCaseInsensitively(t *testing.T) {
	visible := VisibleEpisodes(scenarioCatalog(), FilterState{SearchText: "foo"})
	require.Len(t, visible, 1)
	assert.Equal(t, "Ochtend", visible[0].Title, "matched on host Foobar Radio")

	visible = VisibleEpisodes(scenarioCatalog(), FilterState{SearchText: "MIDD"})
	require.Len(t, visible, 1)
	assert.Equal(t, "b", visible[0].ID)

	assert.Len(t, VisibleEpisodes(scenarioCatalog(), FilterState{}), 3)
	assert.Len(t, VisibleEpisodes(scenarioCatalog(), FilterState{DateKey: "2024-01-01"}), 1)
	assert.Empty(t, VisibleEpisodes(scenarioCatalog(), FilterState{DateKey: "2024-01-01", SearchText: "foo"}))
}

func TestGroupByDateIsAPartition(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for round := 0; round < 50; round++ {
		episodes := randomCatalog(r, r.Intn(40))
		groups := GroupByDate(episodes)

		count := 0
		seen := map[string]int{}
		for gi, group := range groups {
			if gi > 0 {
				assert.Greater(t, groups[gi-1].DateKey, group.DateKey)
			}
			for i, ep := range group.Episodes {
				seen[ep.ID]++
				count++
				assert.Equal(t, group.DateKey, ep.DateKey)
				if i > 0 {
					assert.False(t, ep.PublishedAt.Before(group.Episodes[i-1].PublishedAt))
				}
			}
		}
		assert.Equal(t, len(episodes), count)
		for id, n := range seen {
			assert.Equal(t, 1, n, "episode %s appears once", id)
		}
	}

	assert.Empty(t, GroupByDate(nil))
}

func TestDateLabelUsesCalendarDays(t *testing.T) {
	nl := locale.New("nl-NL")
	now := time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, "Vandaag", DateLabel("2024-01-02", now, time.UTC, nl))
	assert.Equal(t, "Gisteren", DateLabel("2024-01-01", now, time.UTC, nl), "23:59 the day before is yesterday, not today")
	assert.Equal(t, "zondag 31 december", DateLabel("2023-12-31", now, time.UTC, nl))

	late := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "Gisteren", DateLabel("2024-01-01", late, time.UTC, nl))
	assert.Equal(t, "Vandaag", DateLabel("2024-01-02", late, time.UTC, nl))

	zone := time.FixedZone("UTC+2", 2*3600)
	assert.Equal(t, "Vandaag", DateLabel("2024-01-03", late, zone, nl), "today follows the viewer's zone")

	assert.Equal(t, "garbage", DateLabel("garbage", now, time.UTC, nl))
	assert.Equal(t, "Tuesday, January 2", DateLabel("2024-01-02", now.AddDate(0, 0, 5), time.UTC, locale.New("en")))
}

func TestRenderScenario(t *testing.T) {
	view := Render(scenarioCatalog(), FilterState{}, RenderOptions{
		Now:       time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC),
		Location:  time.UTC,
		Locale:    locale.New("nl-NL"),
		PlayingID: "a",
	})

	assert.False(t, view.Empty)
	assert.False(t, view.Failed)
	require.Len(t, view.Groups, 2)

	first := view.Groups[0]
	assert.Equal(t, "2024-01-02", first.DateKey)
	assert.Equal(t, "Vandaag", first.Label)
	assert.Equal(t, "2 afleveringen", first.Count)
	require.Len(t, first.Rows, 2)
	assert.Equal(t, "a", first.Rows[0].EpisodeID, "09:00 before 14:00")
	assert.Equal(t, "09:00", first.Rows[0].Clock)
	assert.True(t, first.Rows[0].Playing)
	assert.Equal(t, "b", first.Rows[1].EpisodeID)
	assert.Equal(t, "14:00", first.Rows[1].Clock)
	assert.False(t, first.Rows[1].Playing)

	second := view.Groups[1]
	assert.Equal(t, "2024-01-01", second.DateKey)
	assert.Equal(t, "Gisteren", second.Label)
	assert.Equal(t, "1 aflevering", second.Count)

	require.Len(t, view.Chips, 3)
	assert.Equal(t, "Alle dagen", view.Chips[2].Label)
	assert.True(t, view.Chips[2].Active)
}

func TestRenderEmptyAndFailedStates(t *testing.T) {
	opts := RenderOptions{Now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Location: time.UTC, Locale: locale.New("nl")}

	view := Render(scenarioCatalog(), FilterState{SearchText: "nothing matches"}, opts)
	assert.True(t, view.Empty)
	assert.Equal(t, "Geen afleveringen gevonden.", view.Message)
	assert.Len(t, view.Chips, 3, "chips stay available when nothing matches")

	view = Render(nil, FilterState{}, opts)
	assert.True(t, view.Empty)
	assert.Empty(t, view.Chips)

	opts.Failed = true
	view = Render(nil, FilterState{}, opts)
	assert.True(t, view.Failed)
	assert.False(t, view.Empty)
	assert.Equal(t, "De afleveringen konden niet worden geladen.", view.Message)
}

func TestRenderRowCoverFallback(t *testing.T) {
	eps := scenarioCatalog()
	eps[0].Image = "https://img.example/b.jpg"

	view := Render(eps, FilterState{DateKey: "2024-01-02"}, RenderOptions{Location: time.UTC, Locale: locale.New("nl")})
	require.Len(t, view.Groups, 1)
	rows := view.Groups[0].Rows

	assert.Equal(t, FallbackCover, rows[0].Cover, "missing artwork uses the placeholder")
	assert.Equal(t, "https://img.example/b.jpg", rows[1].Cover)
	assert.Equal(t, FallbackCover, rows[1].Fallback)
	assert.Equal(t, "Middag cover", rows[1].CoverAlt)
	assert.True(t, strings.HasPrefix(FallbackCover, "data:image/svg+xml;utf8,"))
}
