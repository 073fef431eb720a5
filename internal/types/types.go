package types

import (
	"time"
)

type User struct {
	Id        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	Id         string    `json:"id"`
	ChatKey    string    `json:"chat_key"`
	Text       string    `json:"text"`
	SenderId   string    `json:"sender_id"`
	ReceiverId string    `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
	Timestamp  int64     `json:"timestamp"`
}

// Conversation is one row of a user's conversation list.
type Conversation struct {
	Key         string    `json:"key"`
	Partner     User      `json:"partner"`
	DisplayName string    `json:"display_name"`
	UnreadCount int       `json:"unread_count"`
	Preview     string    `json:"preview"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Directory struct {
	Conversations []Conversation `json:"conversations"`
	// Pending partners were picked for a new conversation but have no
	// messages yet. They only live as long as the session.
	Pending []User `json:"pending"`
}

type Scroll struct {
	Target    string `json:"target"`
	MessageId string `json:"message_id"`
}

type Thread struct {
	Key            string    `json:"key"`
	Partner        User      `json:"partner"`
	Messages       []Message `json:"messages"`
	LastRead       int64     `json:"last_read"`
	UnreadBoundary string    `json:"unread_boundary,omitempty"`
	Scroll         *Scroll   `json:"scroll,omitempty"`
}
