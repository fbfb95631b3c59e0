// Package notify keeps the short-lived messages shown to the user.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 2200 * time.Millisecond

// Notification is one transient message.
type Notification struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Board holds posted notifications until they expire.
type Board struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries []Notification
}

// NewBoard creates a Board. A zero ttl uses DefaultTTL and a nil clock uses time.Now.
func NewBoard(ttl time.Duration, now func() time.Time) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Board{ttl: ttl, now: now}
}

// Post adds a message and returns it.
func (b *Board) Post(text string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Text:      text,
		ExpiresAt: b.now().Add(b.ttl),
	}

	b.mu.Lock()
	b.entries = append(b.entries, n)
	b.mu.Unlock()
	return n
}

// Active returns the notifications that have not expired, oldest first, and
// forgets expired ones.
func (b *Board) Active() []Notification {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]
	for _, n := range b.entries {
		if now.Before(n.ExpiresAt) {
			kept = append(kept, n)
		}
	}
	b.entries = kept

	result := make([]Notification, len(kept))
	copy(result, kept)
	return result
}
