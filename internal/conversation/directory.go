package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/npezzotti/go-duochat/internal/prefs"
	"github.com/npezzotti/go-duochat/internal/types"
)

const ownMessagePrefix = "You: "

// Directory is the conversation list of one user.
type Directory struct {
	userId  string
	db      database.ChatRepository
	prefs   prefs.Store
	now     func() time.Time
	entries []types.Conversation
	pending []types.User
}

func NewDirectory(userId string, db database.ChatRepository, ps prefs.Store) *Directory {
	return &Directory{
		userId:  userId,
		db:      db,
		prefs:   ps,
		now:     time.Now,
		entries: make([]types.Conversation, 0),
		pending: make([]types.User, 0),
	}
}

func (d *Directory) Topic() string {
	return live.UserTopic(d.userId)
}

func (d *Directory) Query(ctx context.Context) ([]database.Chat, error) {
	return d.db.ListChatsForUser(ctx, d.userId)
}

// Apply rebuilds the listing from a snapshot of the user's chats. Chats
// without a message are skipped and partner profiles are looked up again
// on every snapshot.
func (d *Directory) Apply(ctx context.Context, chats []database.Chat) error {
	entries := make([]types.Conversation, 0, len(chats))
	for _, chat := range chats {
		if chat.LastMessage == nil {
			continue
		}

		partnerId := chat.Partner(d.userId)
		partner, err := d.db.GetUser(ctx, partnerId)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("get user %q: %w", partnerId, err)
			}
			// fall back to the name captured when the chat was created
			partner = database.User{Id: partnerId, FirstName: chat.ParticipantInfo[partnerId].Username}
		}

		entries = append(entries, types.Conversation{
			Key:         chat.Key,
			Partner:     PublicUser(partner),
			DisplayName: displayName(partner),
			UnreadCount: chat.ParticipantInfo[d.userId].UnreadCount,
			Preview:     d.preview(chat.LastMessage),
			UpdatedAt:   chat.UpdatedAt,
		})
	}

	d.entries = entries
	d.pending = slices.DeleteFunc(d.pending, func(u types.User) bool {
		_, listed := d.Listed(u.Id)
		return listed
	})

	return nil
}

func (d *Directory) preview(lm *database.LastMessage) string {
	if lm.SenderId == d.userId {
		return ownMessagePrefix + lm.Text
	}
	return lm.Text
}

func displayName(u database.User) string {
	if name := u.Username(); name != "" {
		return name
	}
	return strings.TrimSpace(u.Email)
}

// Listed returns the conversation with partnerId if it is in the listing.
func (d *Directory) Listed(partnerId string) (types.Conversation, bool) {
	for _, e := range d.entries {
		if e.Partner.Id == partnerId {
			return e, true
		}
	}
	return types.Conversation{}, false
}

// AddPending remembers a partner picked for a new conversation until the
// conversation shows up in a snapshot.
func (d *Directory) AddPending(u types.User) {
	if u.Id == d.userId {
		return
	}
	if _, listed := d.Listed(u.Id); listed {
		return
	}
	if slices.ContainsFunc(d.pending, func(p types.User) bool { return p.Id == u.Id }) {
		return
	}

	d.pending = append(d.pending, u)
}

func (d *Directory) Listing() types.Directory {
	return types.Directory{
		Conversations: slices.Clone(d.entries),
		Pending:       slices.Clone(d.pending),
	}
}

// Remember records partnerId as the last opened conversation without
// touching its read state.
func (d *Directory) Remember(ctx context.Context, partnerId string) error {
	if partnerId == d.userId {
		return ErrSelfConversation
	}
	return d.prefs.SetLastPartner(ctx, d.userId, partnerId)
}

// Select records partnerId as the last opened conversation and, if the
// conversation is listed, marks it read up to now.
func (d *Directory) Select(ctx context.Context, partnerId string) error {
	if err := d.Remember(ctx, partnerId); err != nil {
		return err
	}

	entry, listed := d.Listed(partnerId)
	if !listed {
		return nil
	}

	if err := d.db.MarkRead(ctx, entry.Key, d.userId, d.now().UnixMilli()); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	for i := range d.entries {
		if d.entries[i].Key == entry.Key {
			d.entries[i].UnreadCount = 0
		}
	}

	return nil
}

// Candidates lists the users that can be picked for a new conversation:
// everyone except the user and the partners already listed.
func (d *Directory) Candidates(ctx context.Context) ([]types.User, error) {
	users, err := d.db.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	candidates := make([]types.User, 0, len(users))
	for _, u := range users {
		if u.Id == d.userId {
			continue
		}
		if _, listed := d.Listed(u.Id); listed {
			continue
		}
		candidates = append(candidates, PublicUser(u))
	}

	return candidates, nil
}
