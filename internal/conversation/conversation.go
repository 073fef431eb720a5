// Package conversation holds the state behind a two-party chat client: the
// conversation key, the live conversation directory, per-thread read
// tracking and the message composer. Types here are not safe for
// concurrent use; each session drives them from a single goroutine.
package conversation

import (
	"errors"

	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/types"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	ErrUnknownUser      = errors.New("user not found")
)

// Key returns the identifier of the conversation between a and b. It is
// the same for either argument order.
func Key(a, b string) string {
	if a < b {
		return a + "_" + b
	}
	return b + "_" + a
}

func PublicUser(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
}

func PublicMessage(m database.Message) types.Message {
	return types.Message{
		Id:         m.Id,
		ChatKey:    m.ChatKey,
		Text:       m.Text,
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		CreatedAt:  m.CreatedAt,
		Timestamp:  m.Timestamp,
	}
}
