package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-duochat/internal/live"
)

// ErrDuplicate is returned when a record with the same unique key exists.
// Missing records are reported as sql.ErrNoRows by every implementation.
var ErrDuplicate = errors.New("duplicate record")

type ChatRepository interface {
	Ping() error
	// Changes is the hub that receives a publish for every topic touched by
	// a write through this repository.
	Changes() *live.Hub
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	// DeleteAccount removes the account with id. Deleting an unknown
	// account is not an error.
	DeleteAccount(ctx context.Context, id string) error
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetChat(ctx context.Context, key string) (Chat, error)
	// ListChatsForUser returns every chat userId participates in, most
	// recently updated first.
	ListChatsForUser(ctx context.Context, userId string) ([]Chat, error)
	// AppendMessage records a message and, in the same transaction, creates
	// the chat if needed, increments the receiver's unread counter and
	// replaces the preview.
	AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error)
	// MarkRead advances userId's watermark to at (never backwards) and
	// resets the unread counter.
	MarkRead(ctx context.Context, chatKey, userId string, at int64) error
	// ListMessages returns the chat's messages in ascending creation order.
	ListMessages(ctx context.Context, chatKey string) ([]Message, error)
}

func appendTopics(params AppendMessageParams) []string {
	return []string{
		live.UserTopic(params.SenderId),
		live.UserTopic(params.ReceiverId),
		live.ChatTopic(params.ChatKey),
	}
}
