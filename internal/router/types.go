package router

import (
	"time"

	"github.com/rickgao/l3book/internal/model"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	// Per-product event channel size. A full channel drops the event,
	// which the replica sees as a sequence gap.
	ProductBufferSize int // Default: 5000

	// Match capture for the match writer. Zero limit disables capture.
	MatchBufferSize  int // Default: 1000
	MatchBufferLimit int // Default: 0 (disabled)
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ProductBufferSize: 5000,
		MatchBufferSize:   1000,
	}
}

// MatchMsg is a match event captured for persistence.
type MatchMsg struct {
	model.Match
	Session    int64
	ReceivedAt time.Time
}

// controlTypes are feed frames that carry no book state.
var controlTypes = map[string]bool{
	"subscriptions": true,
	"heartbeat":     true,
	"status":        true,
	"ticker":        true,
	"last_match":    true,
	"activate":      true,
}
