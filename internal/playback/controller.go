package playback

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-pkgz/lgr"

	"podcast-timeline/internal/locale"
	"podcast-timeline/internal/models"
	"podcast-timeline/internal/notify"
	"podcast-timeline/internal/timeline"
)

// SkipSeconds is the step of the skip and seek transport actions.
const SkipSeconds = 10

const (
	iconPlay  = "▶️"
	iconPause = "⏸"

	unknownClock = "--:--"
)

// State is the coarse user-facing playback state.
type State string

const (
	StateIdle    State = "idle"
	StateLoaded  State = "loaded"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Notifier posts transient messages to the user.
type Notifier interface {
	Post(text string) notify.Notification
}

// Panel is the now-playing panel and transport controls as displayed.
type Panel struct {
	EpisodeID   string  `json:"episodeId,omitempty"`
	Title       string  `json:"title"`
	Meta        string  `json:"meta"`
	ButtonIcon  string  `json:"buttonIcon"`
	ButtonLabel string  `json:"buttonLabel"`
	Elapsed     string  `json:"elapsed"`
	Total       string  `json:"total"`
	Seek        float64 `json:"seek"`
	State       State   `json:"state"`
}

// Options configure a Controller.
type Options struct {
	// Session is optional; without it playback works unchanged.
	Session  MediaSession
	Notifier Notifier
	Locale   locale.Locale
	Location *time.Location
	// Album is the fixed album label published to the media session.
	Album  string
	Logger lgr.L
}

// Controller owns the NowPlaying slot. It is not safe for concurrent use;
// callers serialize access.
type Controller struct {
	engine   Engine
	session  MediaSession
	notifier Notifier
	locale   locale.Locale
	location *time.Location
	album    string
	logger   lgr.L

	episode *models.Episode
	started bool
	panel   Panel
}

// NewController creates a Controller driving engine.
func NewController(engine Engine, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = lgr.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewBoard(0, nil)
	}

	c := &Controller{
		engine:   engine,
		session:  opts.Session,
		notifier: opts.Notifier,
		locale:   opts.Locale,
		location: opts.Location,
		album:    opts.Album,
		logger:   opts.Logger,
	}
	c.panel.Title = c.locale.T(locale.MsgNothingPlaying)
	c.showPlayButton()
	c.OnProgressTick()
	return c
}

// NowPlaying returns the selected episode, if any.
func (c *Controller) NowPlaying() (models.Episode, bool) {
	if c.episode == nil {
		return models.Episode{}, false
	}
	return *c.episode, true
}

// State reports the coarse playback state.
func (c *Controller) State() State {
	switch {
	case c.episode == nil:
		return StateIdle
	case !c.engine.Paused():
		return StatePlaying
	case c.started:
		return StatePaused
	default:
		return StateLoaded
	}
}

// Panel returns the current now-playing panel.
func (c *Controller) Panel() Panel {
	panel := c.panel
	panel.State = c.State()
	return panel
}

// SelectEpisode makes ep the now-playing episode and starts it. Re-selecting
// the loaded episode resumes without restarting it. A refused start is
// reported to the user and returned wrapped in ErrPlaybackStart; the episode
// stays selected so the transport control can retry.
// A source the engine rejects leaves the previous selection in place.
func (c *Controller) SelectEpisode(ctx context.Context, ep models.Episode) error {
	if c.engine.Source() != ep.AudioURL {
		if err := c.engine.SetSource(ep.AudioURL); err != nil {
			c.notifier.Post(c.locale.T(locale.MsgPlayFailed))
			return fmt.Errorf("%w: set source %s: %v", ErrPlaybackStart, ep.AudioURL, err)
		}
		c.started = false
		if err := c.engine.SetCurrentTime(0); err != nil {
			c.logger.Logf("[WARN] reset position for %s: %v", ep.ID, err)
		}
	}

	c.episode = &ep
	c.panel.EpisodeID = ep.ID
	c.panel.Title = ep.Title
	c.panel.Meta = fmt.Sprintf("%s • %s • %s", ep.Host, c.locale.Clock(ep.PublishedAt.In(c.location)), ep.Duration)
	c.OnProgressTick()

	c.publishSession(ep)
	c.notifier.Post(c.locale.T(locale.MsgPlaying, ep.Title))

	return c.play(ctx)
}

// TogglePlayPause plays when the engine is paused and pauses otherwise.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	if c.episode == nil {
		return nil
	}
	if c.engine.Paused() {
		return c.play(ctx)
	}
	return c.engine.Pause()
}

// SeekRelative moves the position by delta seconds, clamped to
// [0, duration] or [0, +Inf) while the duration is unknown.
func (c *Controller) SeekRelative(delta float64) error {
	current := c.engine.CurrentTime()
	if !isFinite(current) {
		current = 0
	}
	upper := c.engine.Duration()
	if !isFinite(upper) || upper <= 0 {
		upper = math.Inf(1)
	}

	target := math.Max(0, math.Min(current+delta, upper))
	if err := c.engine.SetCurrentTime(target); err != nil {
		return err
	}
	c.OnProgressTick()
	return nil
}

// SeekToPercent moves to percent of the duration. It does nothing while the
// duration is unknown or zero.
func (c *Controller) SeekToPercent(percent float64) error {
	duration := c.engine.Duration()
	if !isFinite(duration) || duration <= 0 || math.IsNaN(percent) {
		return nil
	}
	percent = math.Max(0, math.Min(percent, 100))
	if err := c.engine.SetCurrentTime(duration * percent / 100); err != nil {
		return err
	}
	c.OnProgressTick()
	return nil
}

// OnProgressTick refreshes the elapsed and total labels and, when the
// duration is known and nonzero, the seek bar percentage.
func (c *Controller) OnProgressTick() {
	current := c.engine.CurrentTime()
	duration := c.engine.Duration()

	c.panel.Elapsed = FormatClock(current)
	c.panel.Total = FormatClock(duration)

	if isFinite(duration) && duration > 0 && isFinite(current) {
		c.panel.Seek = math.Round(math.Max(0, math.Min(current/duration, 1))*1000) / 10
	}
}

// OnEngineEvent applies one engine notification to the panel.
func (c *Controller) OnEngineEvent(ev Event) {
	switch ev.Type {
	case EventTimeUpdate, EventDurationChange, EventLoadedMetadata:
		c.OnProgressTick()
	case EventPlay:
		c.started = true
		c.showPauseButton()
	case EventPause:
		c.showPlayButton()
	case EventEnded:
		c.showPlayButton()
		c.panel.Seek = 0
		c.panel.Elapsed = FormatClock(0)
	case EventError:
		if c.episode == nil || ev.Source != c.engine.Source() {
			return
		}
		c.logger.Logf("[WARN] engine error for %s: %v", ev.Source, ev.Err)
		c.notifier.Post(c.locale.T(locale.MsgPlayFailed))
	}
}

func (c *Controller) play(ctx context.Context) error {
	if err := c.engine.Play(ctx); err != nil {
		c.logger.Logf("[WARN] play %s: %v", c.engine.Source(), err)
		c.notifier.Post(c.locale.T(locale.MsgPlayFailed))
		return fmt.Errorf("%w: %v", ErrPlaybackStart, err)
	}
	return nil
}

func (c *Controller) publishSession(ep models.Episode) {
	if c.session == nil {
		return
	}

	cover := ep.Image
	if cover == "" {
		cover = timeline.FallbackCover
	}
	c.session.SetMetadata(Metadata{
		Title:  ep.Title,
		Artist: ep.Host,
		Album:  c.album,
		Artwork: []Artwork{
			{Src: cover, Sizes: "512x512", Type: "image/jpeg"},
			{Src: timeline.FallbackCover, Sizes: "512x512", Type: "image/svg+xml"},
		},
	})

	seek := func(delta float64) ActionHandler {
		return func(context.Context) error { return c.SeekRelative(delta) }
	}
	handlers := []struct {
		action  Action
		handler ActionHandler
	}{
		{ActionPlay, c.play},
		{ActionPause, func(context.Context) error { return c.engine.Pause() }},
		{ActionSeekBackward, seek(-SkipSeconds)},
		{ActionSeekForward, seek(SkipSeconds)},
		{ActionPreviousTrack, seek(-SkipSeconds)},
		{ActionNextTrack, seek(SkipSeconds)},
	}
	for _, h := range handlers {
		if err := c.session.SetActionHandler(h.action, h.handler); err != nil {
			c.logger.Logf("[DEBUG] media session action %s not registered: %v", h.action, err)
		}
	}
}

func (c *Controller) showPlayButton() {
	c.panel.ButtonIcon = iconPlay
	c.panel.ButtonLabel = c.locale.T(locale.MsgPlay)
}

func (c *Controller) showPauseButton() {
	c.panel.ButtonIcon = iconPause
	c.panel.ButtonLabel = c.locale.T(locale.MsgPause)
}

// FormatClock renders seconds as m:ss, or a placeholder when seconds is not finite.
func FormatClock(seconds float64) string {
	if !isFinite(seconds) {
		return unknownClock
	}
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
