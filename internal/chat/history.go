package chat

import (
	"sync"
	"time"
)

// Exchange is one user/assistant turn.
type Exchange struct {
	UserText      string    `json:"userText"`
	AssistantText string    `json:"assistantText"`
	Timestamp     time.Time `json:"timestamp"`
}

// HistoryConfig bounds what a History keeps.
type HistoryConfig struct {
	// MaxExchanges is the number of turns retained per user (default: 10)
	MaxExchanges int
	// InactivityTimeout expires a user's turns after silence (default: 30 minutes)
	InactivityTimeout time.Duration
}

// DefaultHistoryConfig returns sensible defaults.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxExchanges:      10,
		InactivityTimeout: 30 * time.Minute,
	}
}

type conversation struct {
	exchanges    []Exchange
	lastActivity time.Time
}

// History keeps recent exchanges per user.
type History struct {
	mu     sync.Mutex
	config HistoryConfig
	users  map[string]*conversation
	now    func() time.Time
}

// NewHistory creates an empty history.
func NewHistory(config HistoryConfig) *History {
	if config.MaxExchanges <= 0 {
		config.MaxExchanges = 10
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = 30 * time.Minute
	}
	return &History{
		config: config,
		users:  make(map[string]*conversation),
		now:    time.Now,
	}
}

// Add records an exchange, dropping the oldest beyond MaxExchanges.
func (h *History) Add(userID, userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	conv := h.liveLocked(userID, now)
	if conv == nil {
		conv = &conversation{}
		h.users[userID] = conv
	}

	conv.exchanges = append(conv.exchanges, Exchange{
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     now,
	})
	conv.lastActivity = now

	if len(conv.exchanges) > h.config.MaxExchanges {
		conv.exchanges = conv.exchanges[len(conv.exchanges)-h.config.MaxExchanges:]
	}
}

// Exchanges returns a copy of the user's live exchanges, oldest first.
func (h *History) Exchanges(userID string) []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()

	conv := h.liveLocked(userID, h.now())
	if conv == nil {
		return nil
	}
	out := make([]Exchange, len(conv.exchanges))
	copy(out, conv.exchanges)
	return out
}

// Clear forgets one user.
func (h *History) Clear(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.users, userID)
}

// Users returns the number of users with live history.
func (h *History) Users() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	n := 0
	for id := range h.users {
		if h.liveLocked(id, now) != nil {
			n++
		}
	}
	return n
}

// liveLocked returns the user's conversation, expiring it when stale.
func (h *History) liveLocked(userID string, now time.Time) *conversation {
	conv, ok := h.users[userID]
	if !ok {
		return nil
	}
	if now.Sub(conv.lastActivity) > h.config.InactivityTimeout {
		delete(h.users, userID)
		return nil
	}
	return conv
}
