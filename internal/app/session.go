package app

import (
	"context"
	"fmt"
	"sync"

	"podcast-timeline/internal/playback"
)

// Session is the media session surface exposed to web clients. Browsers
// mirror its metadata into navigator.mediaSession and forward their
// transport actions back through the media-action event.
type Session struct {
	mu        sync.Mutex
	meta      *playback.Metadata
	handlers  map[playback.Action]playback.ActionHandler
	supported map[playback.Action]bool
}

// NewSession creates a Session that accepts the given actions. With no
// actions every playback action is accepted.
func NewSession(actions ...playback.Action) *Session {
	if len(actions) == 0 {
		actions = []playback.Action{
			playback.ActionPlay, playback.ActionPause,
			playback.ActionSeekBackward, playback.ActionSeekForward,
			playback.ActionPreviousTrack, playback.ActionNextTrack,
		}
	}
	s := &Session{
		handlers:  make(map[playback.Action]playback.ActionHandler),
		supported: make(map[playback.Action]bool, len(actions)),
	}
	for _, a := range actions {
		s.supported[a] = true
	}
	return s
}

// SetMetadata replaces the now-playing metadata.
func (s *Session) SetMetadata(meta playback.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = &meta
}

// SetActionHandler registers handler for action.
func (s *Session) SetActionHandler(action playback.Action, handler playback.ActionHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.supported[action] {
		return fmt.Errorf("%w: %s", playback.ErrUnsupportedAction, action)
	}
	s.handlers[action] = handler
	return nil
}

// Metadata returns the published metadata, or nil before the first episode.
func (s *Session) Metadata() *playback.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil
	}
	meta := *s.meta
	meta.Artwork = append([]playback.Artwork(nil), s.meta.Artwork...)
	return &meta
}

// Actions lists the actions with a registered handler.
func (s *Session) Actions() []playback.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]playback.Action, 0, len(s.handlers))
	for _, a := range []playback.Action{
		playback.ActionPlay, playback.ActionPause,
		playback.ActionSeekBackward, playback.ActionSeekForward,
		playback.ActionPreviousTrack, playback.ActionNextTrack,
	} {
		if _, ok := s.handlers[a]; ok {
			res = append(res, a)
		}
	}
	return res
}

// Invoke runs the handler registered for action.
func (s *Session) Invoke(ctx context.Context, action playback.Action) error {
	s.mu.Lock()
	handler, ok := s.handlers[action]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", playback.ErrUnsupportedAction, action)
	}
	return handler(ctx)
}
