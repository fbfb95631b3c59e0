// Package app holds the application state and applies UI and engine events
// to it one at a time.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"podcast-timeline/internal/locale"
	"podcast-timeline/internal/models"
	"podcast-timeline/internal/notify"
	"podcast-timeline/internal/playback"
	"podcast-timeline/internal/timeline"
)

// Event types accepted by Dispatch.
const (
	EventSelectDate    = "select-date"
	EventSearch        = "search"
	EventSelectEpisode = "select-episode"
	EventToggle        = "toggle"
	EventSeekRelative  = "seek-relative"
	EventSeekPercent   = "seek-percent"
	EventReload        = "reload"
	EventMediaAction   = "media-action"

	// internal events, not accepted from clients
	EventEngine  = "engine"
	EventCatalog = "catalog"
)

var (
	// ErrUnknownEvent is returned for event types without a handler.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrUnknownEpisode is returned when an event names an episode that is
	// not in the catalog.
	ErrUnknownEpisode = errors.New("unknown episode")
)

// Event is one state transition request.
type Event struct {
	Type      string  `json:"type"`
	Date      string  `json:"date,omitempty"`
	Query     string  `json:"query,omitempty"`
	EpisodeID string  `json:"episodeId,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
	Action    string  `json:"action,omitempty"`

	Engine     playback.Event  `json:"-"`
	Catalog    *models.Catalog `json:"-"`
	CatalogErr error           `json:"-"`
}

// Render is the result of one render pass.
type Render struct {
	Timeline      timeline.View         `json:"timeline"`
	Player        playback.Panel        `json:"player"`
	Session       *playback.Metadata    `json:"session,omitempty"`
	Actions       []playback.Action     `json:"actions"`
	Notifications []notify.Notification `json:"notifications"`
}

// Options configure an App.
type Options struct {
	Session  *Session
	Board    *notify.Board
	Locale   locale.Locale
	Location *time.Location
	Now      func() time.Time
	// Reload fetches the catalog again for the reload event.
	Reload func(ctx context.Context) (models.Catalog, error)

	Catalog    models.Catalog
	CatalogErr error

	Logger lgr.L
}

type handlerFunc func(ctx context.Context, ev Event) error

// App owns the catalog, the filter state and the playback controller.
// All access goes through Dispatch.
type App struct {
	controller *playback.Controller
	session    *Session
	board      *notify.Board
	locale     locale.Locale
	location   *time.Location
	now        func() time.Time
	reload     func(ctx context.Context) (models.Catalog, error)
	logger     lgr.L

	mu         sync.Mutex
	handlers   map[string]handlerFunc
	catalog    models.Catalog
	catalogErr error
	filter     timeline.FilterState
	listeners  []func(Render)
}

// New creates an App driving controller.
func New(controller *playback.Controller, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = lgr.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Board == nil {
		opts.Board = notify.NewBoard(0, opts.Now)
	}

	a := &App{
		controller: controller,
		session:    opts.Session,
		board:      opts.Board,
		locale:     opts.Locale,
		location:   opts.Location,
		now:        opts.Now,
		reload:     opts.Reload,
		logger:     opts.Logger,
	}
	a.handlers = map[string]handlerFunc{
		EventSelectDate:    a.selectDate,
		EventSearch:        a.search,
		EventSelectEpisode: a.selectEpisode,
		EventToggle:        a.toggle,
		EventSeekRelative:  a.seekRelative,
		EventSeekPercent:   a.seekPercent,
		EventReload:        a.reloadCatalog,
		EventMediaAction:   a.mediaAction,
		EventEngine:        a.engineEvent,
		EventCatalog:       a.catalogEvent,
	}
	a.applyCatalog(opts.Catalog, opts.CatalogErr)
	return a
}

// Subscribe registers fn to receive the render of every dispatch. fn runs
// with the state locked and must neither block nor dispatch.
func (a *App) Subscribe(fn func(Render)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Dispatch applies ev and returns the resulting render. The render is
// returned even when the event fails. A reload fetches the catalog before
// taking the lock, so engine events are not held up by a slow source.
func (a *App) Dispatch(ctx context.Context, ev Event) (Render, error) {
	if ev.Type == EventReload && a.reload != nil {
		c, err := a.reload(ctx)
		ev.Catalog, ev.CatalogErr = &c, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	handler, ok := a.handlers[ev.Type]
	if !ok {
		return a.render(), fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	err := handler(ctx, ev)
	r := a.render()
	for _, fn := range a.listeners {
		fn(r)
	}
	return r, err
}

// Snapshot renders the current state without changing it.
func (a *App) Snapshot() Render {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.render()
}

// Visible returns the episodes passing filter, or the current filter when
// filter is nil.
func (a *App) Visible(filter *timeline.FilterState) []models.Episode {
	a.mu.Lock()
	defer a.mu.Unlock()
	if filter == nil {
		filter = &a.filter
	}
	return timeline.VisibleEpisodes(a.catalog.Episodes, *filter)
}

// Catalog returns a copy of the current catalog.
func (a *App) Catalog() models.Catalog {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.catalog
	c.Episodes = append([]models.Episode(nil), a.catalog.Episodes...)
	return c
}

func (a *App) selectDate(_ context.Context, ev Event) error {
	a.filter.DateKey = ev.Date
	return nil
}

func (a *App) search(_ context.Context, ev Event) error {
	a.filter.SearchText = ev.Query
	return nil
}

func (a *App) selectEpisode(ctx context.Context, ev Event) error {
	ep, ok := a.catalog.Find(ev.EpisodeID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEpisode, ev.EpisodeID)
	}
	return a.recoverPlayback(a.controller.SelectEpisode(ctx, ep))
}

func (a *App) toggle(ctx context.Context, _ Event) error {
	return a.recoverPlayback(a.controller.TogglePlayPause(ctx))
}

func (a *App) seekRelative(_ context.Context, ev Event) error {
	return a.controller.SeekRelative(ev.Seconds)
}

func (a *App) seekPercent(_ context.Context, ev Event) error {
	return a.controller.SeekToPercent(ev.Percent)
}

func (a *App) reloadCatalog(_ context.Context, ev Event) error {
	if a.reload == nil {
		return errors.New("catalog reload is not configured")
	}
	a.offerCatalog(ev)
	return ev.CatalogErr
}

func (a *App) mediaAction(ctx context.Context, ev Event) error {
	if a.session == nil {
		return fmt.Errorf("%w: %s", playback.ErrUnsupportedAction, ev.Action)
	}
	return a.recoverPlayback(a.session.Invoke(ctx, playback.Action(ev.Action)))
}

func (a *App) engineEvent(_ context.Context, ev Event) error {
	a.controller.OnEngineEvent(ev.Engine)
	return nil
}

func (a *App) catalogEvent(_ context.Context, ev Event) error {
	a.offerCatalog(ev)
	return nil
}

// offerCatalog applies the load carried by ev unless a later one is already
// applied. The same load may arrive twice, once from a reload event and once
// from the store change callback.
func (a *App) offerCatalog(ev Event) {
	var c models.Catalog
	if ev.Catalog != nil {
		c = *ev.Catalog
	}
	if c.LoadedAt.Before(a.catalog.LoadedAt) {
		a.logger.Logf("[DEBUG] ignore catalog loaded at %s, current is from %s",
			c.LoadedAt.Format(time.RFC3339Nano), a.catalog.LoadedAt.Format(time.RFC3339Nano))
		return
	}
	if c.LoadedAt.Equal(a.catalog.LoadedAt) && (ev.CatalogErr == nil) == (a.catalogErr == nil) {
		return
	}
	a.applyCatalog(c, ev.CatalogErr)
}

func (a *App) applyCatalog(c models.Catalog, err error) {
	if err != nil {
		a.logger.Logf("[WARN] catalog unavailable: %v", err)
		c.Episodes = nil
	}
	a.catalog = c
	a.catalogErr = err

	search := a.filter.SearchText
	a.filter = timeline.InitialFilter(timeline.DistinctDateKeys(c.Episodes))
	a.filter.SearchText = search
}

// recoverPlayback turns a refused start into the notification the
// controller already posted.
func (a *App) recoverPlayback(err error) error {
	if errors.Is(err, playback.ErrPlaybackStart) {
		a.logger.Logf("[WARN] %v", err)
		return nil
	}
	return err
}

func (a *App) render() Render {
	playingID := ""
	if ep, ok := a.controller.NowPlaying(); ok {
		playingID = ep.ID
	}

	r := Render{
		Timeline: timeline.Render(a.catalog.Episodes, a.filter, timeline.RenderOptions{
			Now:       a.now(),
			Location:  a.location,
			Locale:    a.locale,
			PlayingID: playingID,
			Failed:    a.catalogErr != nil,
		}),
		Player:        a.controller.Panel(),
		Actions:       []playback.Action{},
		Notifications: a.board.Active(),
	}
	if a.session != nil {
		r.Session = a.session.Metadata()
		r.Actions = a.session.Actions()
	}
	return r
}
