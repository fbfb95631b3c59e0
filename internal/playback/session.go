package playback

import (
	"context"
	"errors"
)

// Action names a media session transport action.
type Action string

const (
	ActionPlay          Action = "play"
	ActionPause         Action = "pause"
	ActionSeekBackward  Action = "seekbackward"
	ActionSeekForward   Action = "seekforward"
	ActionPreviousTrack Action = "previoustrack"
	ActionNextTrack     Action = "nexttrack"
)

// ErrUnsupportedAction is returned by sessions that cannot handle an action.
var ErrUnsupportedAction = errors.New("unsupported media session action")

// Artwork is one image offered to the media session.
type Artwork struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes"`
	Type  string `json:"type"`
}

// Metadata describes the now-playing item to the media session.
type Metadata struct {
	Title   string    `json:"title"`
	Artist  string    `json:"artist"`
	Album   string    `json:"album"`
	Artwork []Artwork `json:"artwork"`
}

// ActionHandler runs a transport action.
type ActionHandler func(ctx context.Context) error

// MediaSession is the optional OS-level now-playing surface.
type MediaSession interface {
	SetMetadata(meta Metadata)
	// SetActionHandler registers handler for action, replacing any previous one.
	SetActionHandler(action Action, handler ActionHandler) error
}
