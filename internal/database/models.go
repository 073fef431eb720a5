package database

import (
	"strings"
	"time"
)

type User struct {
	Id        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// Username is the display name snapshotted into a chat's participant info.
func (u User) Username() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Account struct {
	Id           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type ParticipantInfo struct {
	Username    string
	LastRead    int64
	UnreadCount int
}

type LastMessage struct {
	Text      string
	SenderId  string
	Timestamp int64
}

type Chat struct {
	Key             string
	Participants    [2]string
	ParticipantInfo map[string]ParticipantInfo
	LastMessage     *LastMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Partner returns the participant that is not userId.
func (c Chat) Partner(userId string) string {
	if c.Participants[0] == userId {
		return c.Participants[1]
	}
	return c.Participants[0]
}

type Message struct {
	Id         string
	ChatKey    string
	Text       string
	SenderId   string
	ReceiverId string
	CreatedAt  time.Time
	// Timestamp is the sender's clock in milliseconds. Older records may
	// only carry this field.
	Timestamp int64
}

// Millis returns the time used to order and classify the message.
func (m Message) Millis() int64 {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt.UnixMilli()
	}
	return m.Timestamp
}

type CreateAccountParams struct {
	Id           string
	Email        string
	PasswordHash string
}

type AppendMessageParams struct {
	ChatKey          string
	SenderId         string
	ReceiverId       string
	SenderUsername   string
	ReceiverUsername string
	Text             string
	SentAt           time.Time
}
