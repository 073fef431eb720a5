package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/npezzotti/go-duochat/internal/database"
)

type Composer struct {
	db  database.ChatRepository
	now func() time.Time
}

func NewComposer(db database.ChatRepository) *Composer {
	return &Composer{
		db:  db,
		now: time.Now,
	}
}

// Send appends text to the conversation between senderId and receiverId.
// The message and the conversation's preview and counters are written in
// one store transaction; on error nothing was recorded.
func (c *Composer) Send(ctx context.Context, senderId, receiverId, text string) (database.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return database.Message{}, ErrEmptyMessage
	}

	if senderId == receiverId {
		return database.Message{}, ErrSelfConversation
	}

	sender, err := c.db.GetUser(ctx, senderId)
	if err != nil {
		return database.Message{}, fmt.Errorf("get sender: %w", err)
	}

	receiver, err := c.db.GetUser(ctx, receiverId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, ErrUnknownUser
		}
		return database.Message{}, fmt.Errorf("get receiver: %w", err)
	}

	msg, err := c.db.AppendMessage(ctx, database.AppendMessageParams{
		ChatKey:          Key(senderId, receiverId),
		SenderId:         senderId,
		ReceiverId:       receiverId,
		SenderUsername:   sender.Username(),
		ReceiverUsername: receiver.Username(),
		Text:             text,
		SentAt:           c.now(),
	})
	if err != nil {
		return database.Message{}, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}
