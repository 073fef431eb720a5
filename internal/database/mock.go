package database

import (
	"context"

	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
	// Hub is returned by Changes without recording a call.
	Hub *live.Hub
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) Changes() *live.Hub {
	return m.Hub
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) DeleteAccount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) CreateUser(ctx context.Context, user User) (User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUser(ctx context.Context, id string) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) ListUsers(ctx context.Context) ([]User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) GetChat(ctx context.Context, key string) (Chat, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) ListChatsForUser(ctx context.Context, userId string) ([]Chat, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) MarkRead(ctx context.Context, chatKey, userId string, at int64) error {
	args := m.Called(ctx, chatKey, userId, at)
	return args.Error(0)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, chatKey string) ([]Message, error) {
	args := m.Called(ctx, chatKey)
	return args.Get(0).([]Message), args.Error(1)
}
