package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/teris-io/shortid"
)

// MemChatRepository keeps everything in process memory. It backs tests and
// the -store=memory mode and follows the same semantics as the Postgres
// repository, including change notifications.
type MemChatRepository struct {
	hub      *live.Hub
	mu       sync.RWMutex
	accounts map[string]Account
	users    map[string]User
	chats    map[string]*Chat
	messages map[string][]Message
}

func NewMemChatRepository(hub *live.Hub) *MemChatRepository {
	return &MemChatRepository{
		hub:      hub,
		accounts: make(map[string]Account),
		users:    make(map[string]User),
		chats:    make(map[string]*Chat),
		messages: make(map[string][]Message),
	}
}

func (m *MemChatRepository) Ping() error {
	return nil
}

func (m *MemChatRepository) Close() error {
	return nil
}

func (m *MemChatRepository) Changes() *live.Hub {
	return m.hub
}

func (m *MemChatRepository) CreateAccount(_ context.Context, params CreateAccountParams) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[params.Email]; ok {
		return Account{}, ErrDuplicate
	}

	a := Account{
		Id:           params.Id,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.accounts[a.Email] = a

	return a, nil
}

func (m *MemChatRepository) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[email]
	if !ok {
		return Account{}, sql.ErrNoRows
	}
	return a, nil
}

func (m *MemChatRepository) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for email, a := range m.accounts {
		if a.Id == id {
			delete(m.accounts, email)
		}
	}
	return nil
}

func (m *MemChatRepository) CreateUser(_ context.Context, user User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Id]; ok {
		return User{}, ErrDuplicate
	}

	user.CreatedAt = time.Now().UTC()
	m.users[user.Id] = user

	return user, nil
}

func (m *MemChatRepository) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *MemChatRepository) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].FirstName != users[j].FirstName {
			return users[i].FirstName < users[j].FirstName
		}
		if users[i].LastName != users[j].LastName {
			return users[i].LastName < users[j].LastName
		}
		return users[i].Id < users[j].Id
	})

	return users, nil
}

func (m *MemChatRepository) GetChat(_ context.Context, key string) (Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[key]
	if !ok {
		return Chat{}, sql.ErrNoRows
	}
	return copyChat(c), nil
}

func (m *MemChatRepository) ListChatsForUser(_ context.Context, userId string) ([]Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]Chat, 0)
	for _, c := range m.chats {
		if c.Participants[0] == userId || c.Participants[1] == userId {
			chats = append(chats, copyChat(c))
		}
	}

	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].Key < chats[j].Key
	})

	return chats, nil
}

func (m *MemChatRepository) AppendMessage(_ context.Context, params AppendMessageParams) (Message, error) {
	id, err := shortid.Generate()
	if err != nil {
		return Message{}, fmt.Errorf("generate id: %w", err)
	}

	sentAt := params.SentAt.UTC()
	sentMs := sentAt.UnixMilli()

	m.mu.Lock()

	chat, ok := m.chats[params.ChatKey]
	if !ok {
		chat = &Chat{
			Key:          params.ChatKey,
			Participants: [2]string{params.SenderId, params.ReceiverId},
			ParticipantInfo: map[string]ParticipantInfo{
				params.SenderId:   {Username: params.SenderUsername, LastRead: sentMs},
				params.ReceiverId: {Username: params.ReceiverUsername},
			},
			CreatedAt: sentAt,
		}
	}

	receiver, ok := chat.ParticipantInfo[params.ReceiverId]
	if !ok {
		m.mu.Unlock()
		return Message{}, fmt.Errorf("receiver %q is not a participant of %q", params.ReceiverId, params.ChatKey)
	}

	receiver.UnreadCount++
	chat.ParticipantInfo[params.ReceiverId] = receiver
	chat.LastMessage = &LastMessage{
		Text:      params.Text,
		SenderId:  params.SenderId,
		Timestamp: sentMs,
	}
	chat.UpdatedAt = sentAt
	m.chats[params.ChatKey] = chat

	msg := Message{
		Id:         id,
		ChatKey:    params.ChatKey,
		Text:       params.Text,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		CreatedAt:  sentAt,
		Timestamp:  sentMs,
	}
	m.messages[params.ChatKey] = append(m.messages[params.ChatKey], msg)

	m.mu.Unlock()

	m.hub.Publish(appendTopics(params)...)

	return msg, nil
}

func (m *MemChatRepository) MarkRead(_ context.Context, chatKey, userId string, at int64) error {
	m.mu.Lock()

	chat, ok := m.chats[chatKey]
	if !ok {
		m.mu.Unlock()
		return sql.ErrNoRows
	}

	info, ok := chat.ParticipantInfo[userId]
	if !ok {
		m.mu.Unlock()
		return sql.ErrNoRows
	}

	info.LastRead = max(info.LastRead, at)
	info.UnreadCount = 0
	chat.ParticipantInfo[userId] = info

	m.mu.Unlock()

	m.hub.Publish(live.UserTopic(userId))

	return nil
}

func (m *MemChatRepository) ListMessages(_ context.Context, chatKey string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]Message, len(m.messages[chatKey]))
	copy(messages, m.messages[chatKey])

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Millis() < messages[j].Millis()
	})

	return messages, nil
}

func copyChat(c *Chat) Chat {
	cp := *c
	cp.ParticipantInfo = make(map[string]ParticipantInfo, len(c.ParticipantInfo))
	for id, info := range c.ParticipantInfo {
		cp.ParticipantInfo[id] = info
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return cp
}
