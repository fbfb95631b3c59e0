package timeline

import (
	"time"

	"podcast-timeline/internal/locale"
	"podcast-timeline/internal/models"
)

// View is the display tree of the timeline for one render pass.
type View struct {
	Chips      []Chip      `json:"chips"`
	Groups     []GroupView `json:"groups"`
	SearchText string      `json:"searchText"`
	// Empty is set when no episode passes the filter.
	Empty bool `json:"empty"`
	// Failed is set when the catalog could not be loaded.
	Failed  bool   `json:"failed"`
	Message string `json:"message,omitempty"`
}

// GroupView is one date section.
type GroupView struct {
	DateKey string    `json:"dateKey"`
	Label   string    `json:"label"`
	Count   string    `json:"count"`
	Rows    []RowView `json:"rows"`
}

// RowView is one episode row. Activating the row and pressing its play
// button both select EpisodeID.
type RowView struct {
	EpisodeID   string `json:"episodeId"`
	Title       string `json:"title"`
	Host        string `json:"host"`
	Clock       string `json:"clock"`
	Duration    string `json:"duration"`
	Description string `json:"description"`
	Cover       string `json:"cover"`
	CoverAlt    string `json:"coverAlt"`
	Fallback    string `json:"fallback"`
	PlayLabel   string `json:"playLabel"`
	Playing     bool   `json:"playing"`
}

// RenderOptions carry the viewer context of a render pass.
type RenderOptions struct {
	Now      time.Time
	Location *time.Location
	Locale   locale.Locale
	// PlayingID marks the row of the now-playing episode.
	PlayingID string
	// Failed renders the catalog failure state instead of the timeline.
	Failed bool
}

// Render projects the catalog under filter into a View.
func Render(episodes []models.Episode, filter FilterState, opts RenderOptions) View {
	l := opts.Locale
	view := View{SearchText: filter.SearchText}

	if opts.Failed {
		view.Failed = true
		view.Message = l.T(locale.MsgLoadFailed)
		return view
	}

	label := func(key string) string {
		if key == "" {
			return l.T(locale.MsgAllDates)
		}
		return DateLabel(key, opts.Now, opts.Location, l)
	}
	view.Chips = DateChips(DistinctDateKeys(episodes), filter.DateKey, label)

	groups := GroupByDate(VisibleEpisodes(episodes, filter))
	if len(groups) == 0 {
		view.Empty = true
		view.Message = l.T(locale.MsgNoResults)
		return view
	}

	view.Groups = make([]GroupView, 0, len(groups))
	for _, group := range groups {
		gv := GroupView{
			DateKey: group.DateKey,
			Label:   label(group.DateKey),
			Count:   l.T(locale.MsgEpisodeCount, len(group.Episodes)),
			Rows:    make([]RowView, 0, len(group.Episodes)),
		}
		for _, ep := range group.Episodes {
			gv.Rows = append(gv.Rows, renderRow(ep, opts))
		}
		view.Groups = append(view.Groups, gv)
	}
	return view
}

func renderRow(ep models.Episode, opts RenderOptions) RowView {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	cover := ep.Image
	if cover == "" {
		cover = FallbackCover
	}

	return RowView{
		EpisodeID:   ep.ID,
		Title:       ep.Title,
		Host:        ep.Host,
		Clock:       opts.Locale.Clock(ep.PublishedAt.In(loc)),
		Duration:    ep.Duration,
		Description: ep.Description,
		Cover:       cover,
		CoverAlt:    opts.Locale.T(locale.MsgCover, ep.Title),
		Fallback:    FallbackCover,
		PlayLabel:   opts.Locale.T(locale.MsgPlay),
		Playing:     ep.ID == opts.PlayingID && ep.ID != "",
	}
}
