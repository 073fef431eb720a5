package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-duochat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a request from the browser. Exactly one of the request
// fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	Open    *Open        `json:"open,omitempty"`
	Start   *Start       `json:"start,omitempty"`
	Close   *CloseThread `json:"close,omitempty"`
	Send    *Send        `json:"send,omitempty"`
	Users   *ListUsers   `json:"users,omitempty"`
	Profile *Profile     `json:"profile,omitempty"`
	UserId  string       `json:"-"`
}

// Open selects an existing conversation or a partner from the directory.
type Open struct {
	PartnerId string `json:"partner_id"`
}

// Start picks a partner for a new conversation.
type Start struct {
	PartnerId string `json:"partner_id"`
}

type CloseThread struct{}

// Send composes a message to the partner of the open conversation.
type Send struct {
	Text string `json:"text"`
}

type ListUsers struct{}

type Profile struct {
	UserId string `json:"user_id"`
}

type ServerMessage struct {
	BaseMessage
	Response  *Response        `json:"response,omitempty"`
	Directory *types.Directory `json:"directory,omitempty"`
	Thread    *types.Thread    `json:"thread,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func DirectoryUpdate(d types.Directory) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Directory:   &d,
	}
}

func ThreadUpdate(t types.Thread) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Thread:      &t,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrBadRequest(id int, reason string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        reason,
		},
	}
}

func ErrUserNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "user not found",
		},
	}
}

func ErrNoConversation(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "no conversation open",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
