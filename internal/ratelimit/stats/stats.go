package stats

import (
	"context"
	"time"

	"github.com/AlexKimmel/courtgate/internal/ratelimit"
)

// Event is one admission decision taken by the rate limit middleware.
// Key is the caller key; watch cardinality before persisting it.
type Event struct {
	Key     string
	Class   ratelimit.Class
	Limited bool
	Route   string
	At      time.Time
}

// Recorder persists decision statistics. Callers treat errors as best-effort.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
