package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/prefs"
	"github.com/npezzotti/go-duochat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sendAt(t *testing.T, repo database.ChatRepository, from, to database.User, text string, at time.Time) {
	t.Helper()
	_, err := repo.AppendMessage(context.Background(), database.AppendMessageParams{
		ChatKey:          Key(from.Id, to.Id),
		SenderId:         from.Id,
		ReceiverId:       to.Id,
		SenderUsername:   from.Username(),
		ReceiverUsername: to.Username(),
		Text:             text,
		SentAt:           at,
	})
	require.NoError(t, err)
}

func TestDirectoryApply(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)
	seedUsers(t, repo, userA, userB, userC)

	now := time.Now()
	sendAt(t, repo, userB, userA, "hello", now.Add(-time.Minute))
	sendAt(t, repo, userA, userC, "hey carol", now)

	d := NewDirectory("a1", repo, prefs.NewMemStore())
	chats, err := d.Query(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Apply(ctx, chats))

	listing := d.Listing()
	require.Len(t, listing.Conversations, 2)

	carol := listing.Conversations[0]
	assert.Equal(t, "a1_c1", carol.Key, "expected most recent conversation first")
	assert.Equal(t, "carol@example.com", carol.DisplayName, "expected email when the partner has no name")
	assert.Equal(t, "You: hey carol", carol.Preview)
	assert.Equal(t, 0, carol.UnreadCount)

	bob := listing.Conversations[1]
	assert.Equal(t, "Bob Builder", bob.DisplayName)
	assert.Equal(t, "hello", bob.Preview)
	assert.Equal(t, 1, bob.UnreadCount)
	assert.Equal(t, "user:a1", d.Topic())
}

func TestDirectoryApplyMissingPartner(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)
	seedUsers(t, repo, userA)

	ghost := database.User{Id: "g1", FirstName: "Ghost"}
	sendAt(t, repo, ghost, userA, "boo", time.Now())

	d := NewDirectory("a1", repo, prefs.NewMemStore())
	chats, err := d.Query(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Apply(ctx, chats))

	conv, ok := d.Listed("g1")
	require.True(t, ok)
	assert.Equal(t, "Ghost", conv.DisplayName, "expected the username stored on the chat")
}

func TestDirectoryApplyLookupError(t *testing.T) {
	repo := new(database.MockChatRepository)
	lookupErr := errors.New("connection reset")
	repo.On("GetUser", mock.Anything, "b1").Return(database.User{}, lookupErr)

	d := NewDirectory("a1", repo, prefs.NewMemStore())
	err := d.Apply(context.Background(), []database.Chat{{
		Key:          "a1_b1",
		Participants: [2]string{"a1", "b1"},
		LastMessage:  &database.LastMessage{Text: "hi", SenderId: "b1"},
	}})
	assert.ErrorIs(t, err, lookupErr)
	repo.AssertExpectations(t)
}

func TestDirectoryPending(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)
	seedUsers(t, repo, userA, userB)

	d := NewDirectory("a1", repo, prefs.NewMemStore())
	b := PublicUser(userB)

	d.AddPending(b)
	d.AddPending(b)
	d.AddPending(PublicUser(userA))
	assert.Equal(t, []types.User{b}, d.Listing().Pending, "expected one pending entry and none for self")

	sendAt(t, repo, userA, userB, "hi", time.Now())
	chats, err := d.Query(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Apply(ctx, chats))

	assert.Empty(t, d.Listing().Pending, "expected pending entry to be dropped once listed")
	d.AddPending(b)
	assert.Empty(t, d.Listing().Pending, "expected listed partner not to become pending")
}

func TestDirectorySelect(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)
	seedUsers(t, repo, userA, userB, userC)
	sendAt(t, repo, userB, userA, "hello", time.Now().Add(-time.Second))

	ps := prefs.NewMemStore()
	d := NewDirectory("a1", repo, ps)
	chats, err := d.Query(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Apply(ctx, chats))

	t.Run("listed conversation is marked read", func(t *testing.T) {
		require.NoError(t, d.Select(ctx, "b1"))

		last, err := ps.LastPartner(ctx, "a1")
		assert.NoError(t, err)
		assert.Equal(t, "b1", last)

		chat, err := repo.GetChat(ctx, "a1_b1")
		require.NoError(t, err)
		assert.Equal(t, 0, chat.ParticipantInfo["a1"].UnreadCount)
		assert.Positive(t, chat.ParticipantInfo["a1"].LastRead)

		conv, _ := d.Listed("b1")
		assert.Equal(t, 0, conv.UnreadCount)
	})

	t.Run("unlisted partner is only remembered", func(t *testing.T) {
		require.NoError(t, d.Select(ctx, "c1"))

		last, err := ps.LastPartner(ctx, "a1")
		assert.NoError(t, err)
		assert.Equal(t, "c1", last)

		_, err = repo.GetChat(ctx, "a1_c1")
		assert.Error(t, err, "expected no chat to be created by selecting")
	})

	t.Run("self is rejected", func(t *testing.T) {
		assert.ErrorIs(t, d.Select(ctx, "a1"), ErrSelfConversation)
	})
}

func TestDirectoryRemember(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)
	seedUsers(t, repo, userA, userB)
	sendAt(t, repo, userB, userA, "hello", time.Now().Add(-time.Second))

	ps := prefs.NewMemStore()
	d := NewDirectory("a1", repo, ps)
	chats, err := d.Query(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Apply(ctx, chats))

	require.NoError(t, d.Remember(ctx, "b1"))

	last, err := ps.LastPartner(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, "b1", last)

	chat, err := repo.GetChat(ctx, "a1_b1")
	require.NoError(t, err)
	assert.Equal(t, 1, chat.ParticipantInfo["a1"].UnreadCount)
	assert.Zero(t, chat.ParticipantInfo["a1"].LastRead)

	conv, _ := d.Listed("b1")
	assert.Equal(t, 1, conv.UnreadCount)

	assert.ErrorIs(t, d.Remember(ctx, "a1"), ErrSelfConversation)
}

func TestDirectoryCandidates(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(t)
	seedUsers(t, repo, userA, userB, userC)
	sendAt(t, repo, userA, userB, "hi", time.Now())

	d := NewDirectory("a1", repo, prefs.NewMemStore())
	chats, err := d.Query(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Apply(ctx, chats))

	candidates, err := d.Candidates(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []types.User{PublicUser(userC)}, candidates)
}
