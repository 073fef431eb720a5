package conversation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/npezzotti/go-duochat/internal/database"
)

// DefaultDwell is how long unread messages must stay on screen before the
// viewer's watermark is advanced.
const DefaultDwell = 5 * time.Second

type ReadState int

const (
	WatermarkLoaded ReadState = iota
	UnreadPending
	WatermarkAdvanced
)

func (s ReadState) String() string {
	switch s {
	case WatermarkLoaded:
		return "watermark_loaded"
	case UnreadPending:
		return "unread_pending"
	case WatermarkAdvanced:
		return "watermark_advanced"
	}
	return fmt.Sprintf("ReadState(%d)", int(s))
}

// ReadTracker owns the viewer's read watermark for one open conversation.
// At most one dwell timer is armed at a time.
type ReadTracker struct {
	db       database.ChatRepository
	chatKey  string
	viewerId string
	baseline int64
	state    ReadState
	armed    bool
	dwell    time.Duration
	timer    *time.Timer
	now      func() time.Time
}

func NewReadTracker(db database.ChatRepository, chatKey, viewerId string, baseline int64, dwell time.Duration) *ReadTracker {
	t := &ReadTracker{
		db:       db,
		chatKey:  chatKey,
		viewerId: viewerId,
		baseline: baseline,
		state:    WatermarkLoaded,
		dwell:    dwell,
		timer:    time.NewTimer(dwell),
		now:      time.Now,
	}
	t.timer.Stop()

	return t
}

func (t *ReadTracker) Baseline() int64 {
	return t.baseline
}

func (t *ReadTracker) State() ReadState {
	return t.state
}

func (t *ReadTracker) Armed() bool {
	return t.armed
}

// IsUnread reports whether m was received by the viewer after the baseline.
func (t *ReadTracker) IsUnread(m database.Message) bool {
	return m.Millis() > t.baseline && m.SenderId != t.viewerId
}

// Observe classifies msgs and arms the dwell timer when there is something
// unread and no timer is already running. It reports whether a timer was
// armed by this call.
func (t *ReadTracker) Observe(msgs []database.Message) bool {
	if !slices.ContainsFunc(msgs, t.IsUnread) {
		if !t.armed {
			t.state = WatermarkAdvanced
		}
		return false
	}

	t.state = UnreadPending
	if t.armed {
		return false
	}

	t.armed = true
	t.timer.Reset(t.dwell)
	return true
}

// C delivers when the dwell timer fires. It is nil while no timer is armed.
func (t *ReadTracker) C() <-chan time.Time {
	if !t.armed {
		return nil
	}
	return t.timer.C
}

// Advance writes the watermark once the dwell timer has fired. On failure
// the baseline is kept and the next Observe may arm a new timer.
func (t *ReadTracker) Advance(ctx context.Context) error {
	t.armed = false

	now := t.now().UnixMilli()
	if err := t.db.MarkRead(ctx, t.chatKey, t.viewerId, now); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	t.baseline = max(t.baseline, now)
	t.state = WatermarkAdvanced
	return nil
}

// Stop cancels a pending advance. The stored watermark is left as is.
func (t *ReadTracker) Stop() {
	t.timer.Stop()
	t.armed = false
}
