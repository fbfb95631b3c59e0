// Package playback owns the now-playing episode and mediates it to the audio
// engine and the optional media session surface.
package playback

import (
	"context"
	"errors"
)

// EventType names a notification emitted by an audio engine.
type EventType string

const (
	EventTimeUpdate     EventType = "timeupdate"
	EventDurationChange EventType = "durationchange"
	EventLoadedMetadata EventType = "loadedmetadata"
	EventPlay           EventType = "play"
	EventPause          EventType = "pause"
	EventEnded          EventType = "ended"
	EventError          EventType = "error"
)

// Event is one engine notification. Source is the engine source the event
// belongs to, so events of a replaced source can be told apart.
type Event struct {
	Type   EventType
	Source string
	Err    error
}

// Engine is the media playback capability the controller drives. Duration
// reports NaN until it is known.
type Engine interface {
	Source() string
	SetSource(src string) error
	CurrentTime() float64
	SetCurrentTime(seconds float64) error
	Duration() float64
	Paused() bool
	// Play starts or resumes playback and reports whether the engine accepted it.
	Play(ctx context.Context) error
	Pause() error
}

// EventSource is implemented by engines that emit Events.
type EventSource interface {
	Events() <-chan Event
}

// ErrPlaybackStart wraps the engine's refusal to start playback.
var ErrPlaybackStart = errors.New("playback could not start")
