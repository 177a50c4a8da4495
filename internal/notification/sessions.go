package notification

import (
	"errors"
	"sync"

	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// ErrTooManyChannels is returned by Join when the user is at the channel cap.
var ErrTooManyChannels = errors.New("too many channels for user")

// Channel is a live delivery endpoint, typically one websocket connection.
// Implementations must be comparable (pointer receivers). Send must not
// block: the dispatcher calls it while holding the user's delivery lane.
type Channel interface {
	Send(ev models.NotificationEvent) error
}

// SessionRegistry tracks which users are live. A user is live iff at least
// one channel is registered.
type SessionRegistry struct {
	mu       sync.Mutex
	channels map[string]map[Channel]struct{} // userID -> set of channels
	max      int
	logger   *logging.Logger
}

func NewSessionRegistry(maxPerUser int, logger *logging.Logger) *SessionRegistry {
	return &SessionRegistry{
		channels: make(map[string]map[Channel]struct{}),
		max:      maxPerUser,
		logger:   logger,
	}
}

// Join registers ch for userID.
func (r *SessionRegistry) Join(userID string, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, exists := r.channels[userID]
	if !exists {
		conns = make(map[Channel]struct{})
		r.channels[userID] = conns
	}
	if _, dup := conns[ch]; dup {
		return nil
	}
	if r.max > 0 && len(conns) >= r.max {
		r.logger.Warnf("Max channels reached for user %s", userID)
		return ErrTooManyChannels
	}
	conns[ch] = struct{}{}
	r.logger.Infof("Added channel for user %s (total: %d)", userID, len(conns))
	return nil
}

// Leave unregisters ch and reports whether the user is still live.
func (r *SessionRegistry) Leave(userID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, exists := r.channels[userID]
	if !exists {
		return false
	}
	delete(conns, ch)
	if len(conns) == 0 {
		delete(r.channels, userID)
	}
	r.logger.Infof("Removed channel for user %s (remaining: %d)", userID, len(conns))
	return len(conns) > 0
}

func (r *SessionRegistry) IsLive(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[userID]) > 0
}

// Channels returns a snapshot so callers can deliver without holding the lock.
func (r *SessionRegistry) Channels(userID string) []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.channels[userID]
	out := make([]Channel, 0, len(conns))
	for ch := range conns {
		out = append(out, ch)
	}
	return out
}

// LiveUsers returns the number of users with at least one channel.
func (r *SessionRegistry) LiveUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
