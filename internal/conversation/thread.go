package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/npezzotti/go-duochat/internal/types"
)

const (
	ScrollToUnread = "unread"
	ScrollToLatest = "latest"
)

// Thread is the view of one open conversation for one viewer.
type Thread struct {
	db            database.ChatRepository
	key           string
	viewerId      string
	partner       types.User
	tracker       *ReadTracker
	messages      []database.Message
	scrollDecided bool
}

// OpenThread loads the viewer's stored watermark, which stays the baseline
// for classifying messages until the tracker advances it.
func OpenThread(ctx context.Context, db database.ChatRepository, viewerId string, partner types.User, dwell time.Duration) (*Thread, error) {
	if partner.Id == viewerId {
		return nil, ErrSelfConversation
	}

	key := Key(viewerId, partner.Id)

	var baseline int64
	chat, err := db.GetChat(ctx, key)
	switch {
	case err == nil:
		baseline = chat.ParticipantInfo[viewerId].LastRead
	case errors.Is(err, sql.ErrNoRows):
		// nothing has been sent yet
	default:
		return nil, fmt.Errorf("get chat: %w", err)
	}

	return &Thread{
		db:       db,
		key:      key,
		viewerId: viewerId,
		partner:  partner,
		tracker:  NewReadTracker(db, key, viewerId, baseline, dwell),
		messages: make([]database.Message, 0),
	}, nil
}

func (th *Thread) Key() string {
	return th.key
}

func (th *Thread) Partner() types.User {
	return th.partner
}

func (th *Thread) Tracker() *ReadTracker {
	return th.tracker
}

func (th *Thread) Topic() string {
	return live.ChatTopic(th.key)
}

func (th *Thread) Query(ctx context.Context) ([]database.Message, error) {
	return th.db.ListMessages(ctx, th.key)
}

// Apply replaces the message sequence with a new snapshot. The returned
// view carries a scroll decision only for the first non-empty snapshot.
func (th *Thread) Apply(msgs []database.Message) types.Thread {
	th.messages = msgs
	th.tracker.Observe(msgs)

	view := th.View()
	if !th.scrollDecided && len(msgs) > 0 {
		th.scrollDecided = true
		if view.UnreadBoundary != "" {
			view.Scroll = &types.Scroll{Target: ScrollToUnread, MessageId: view.UnreadBoundary}
		} else {
			view.Scroll = &types.Scroll{Target: ScrollToLatest, MessageId: msgs[len(msgs)-1].Id}
		}
	}

	return view
}

func (th *Thread) View() types.Thread {
	view := types.Thread{
		Key:      th.key,
		Partner:  th.partner,
		Messages: make([]types.Message, len(th.messages)),
		LastRead: th.tracker.Baseline(),
	}

	for i, m := range th.messages {
		view.Messages[i] = PublicMessage(m)
	}

	if i := UnreadBoundary(th.messages, th.tracker.IsUnread); i >= 0 {
		view.UnreadBoundary = th.messages[i].Id
	}

	return view
}

// Close cancels any pending watermark advance.
func (th *Thread) Close() {
	th.tracker.Stop()
}

// UnreadBoundary returns the index of the first unread message whose
// predecessor is read, or -1 if there is none.
func UnreadBoundary(msgs []database.Message, isUnread func(database.Message) bool) int {
	for i, m := range msgs {
		if !isUnread(m) {
			continue
		}
		if i == 0 || !isUnread(msgs[i-1]) {
			return i
		}
	}
	return -1
}
