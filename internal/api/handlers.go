package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-duochat/internal/conversation"
	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/identity"
	"github.com/npezzotti/go-duochat/internal/server"
	"github.com/npezzotti/go-duochat/internal/stats"
)

type SignUpRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Println(errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// authError maps identity provider errors to responses that keep the
// provider's message for the user.
func authError(err error) *ApiError {
	switch {
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		return NewUserError(http.StatusBadRequest, err)
	case errors.Is(err, identity.ErrInvalidCredentials):
		return NewUserError(http.StatusUnauthorized, err)
	case errors.Is(err, identity.ErrUserNotFound):
		return NewUserError(http.StatusNotFound, err)
	case errors.Is(err, identity.ErrEmailInUse):
		return NewUserError(http.StatusConflict, err)
	}
	return NewInternalServerError(err)
}

// conversationError maps errors from the conversation package.
func conversationError(err error) *ApiError {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, conversation.ErrSelfConversation):
		return NewUserError(http.StatusBadRequest, err)
	case errors.Is(err, conversation.ErrUnknownUser), errors.Is(err, sql.ErrNoRows):
		return NewNotFoundError()
	}
	return NewInternalServerError(err)
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) signUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.FirstName = strings.TrimSpace(req.FirstName)
	if req.FirstName == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, err := s.ids.CreateAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, authError(err))
		return
	}

	user, err := s.db.CreateUser(r.Context(), database.User{
		Id:        userId,
		FirstName: req.FirstName,
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     strings.TrimSpace(req.Phone),
	})
	if err != nil {
		// an account without a profile can never sign in
		if delErr := s.ids.DeleteAccount(r.Context(), userId); delErr != nil {
			s.log.Printf("account %q has no profile: %v", userId, delErr)
		}
		s.writeError(w, NewInternalServerError(fmt.Errorf("create user: %w", err)))
		return
	}

	if !s.startSession(w, user.Id) {
		return
	}

	s.writeJson(w, http.StatusCreated, conversation.PublicUser(user))
}

func (s *GoChatApp) signIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, err := s.ids.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, authError(err))
		return
	}

	user, err := s.db.GetUser(r.Context(), userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !s.startSession(w, user.Id) {
		return
	}

	s.writeJson(w, http.StatusOK, conversation.PublicUser(user))
}

func (s *GoChatApp) startSession(w http.ResponseWriter, userId string) bool {
	token, err := s.createJwtForSession(userId, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return false
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	return true
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	user, err := s.db.GetUser(r.Context(), userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusOK, conversation.PublicUser(user))
}

func (s *GoChatApp) signOut(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	if err := s.prefs.ClearLastPartner(r.Context(), userId); err != nil {
		s.log.Println("clear last partner:", err)
	}

	http.SetCookie(w, expiredJwtCookie())
	w.WriteHeader(http.StatusNoContent)
}

// loadDirectory builds the user's directory from a single snapshot.
func (s *GoChatApp) loadDirectory(r *http.Request, userId string) (*conversation.Directory, error) {
	d := conversation.NewDirectory(userId, s.db, s.prefs)
	chats, err := d.Query(r.Context())
	if err != nil {
		return nil, err
	}
	if err := d.Apply(r.Context(), chats); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *GoChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	d, err := s.loadDirectory(r, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	users, err := d.Candidates(r.Context())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *GoChatApp) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.db.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusOK, conversation.PublicUser(user))
}

func (s *GoChatApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	d, err := s.loadDirectory(r, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, d.Listing())
}

func (s *GoChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	partnerId := r.PathValue("partnerId")
	if partnerId == userId {
		s.writeError(w, conversationError(conversation.ErrSelfConversation))
		return
	}

	partner, err := s.db.GetUser(r.Context(), partnerId)
	if err != nil {
		s.writeError(w, conversationError(err))
		return
	}

	th, err := conversation.OpenThread(r.Context(), s.db, userId, conversation.PublicUser(partner), s.dwell)
	if err != nil {
		s.writeError(w, conversationError(err))
		return
	}
	defer th.Close()

	msgs, err := th.Query(r.Context())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, th.Apply(msgs))
}

func (s *GoChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.composer.Send(r.Context(), userId, r.PathValue("partnerId"), req.Text)
	if err != nil {
		s.writeError(w, conversationError(err))
		return
	}

	s.stats.Incr(stats.MessagesSent)
	s.writeJson(w, http.StatusCreated, conversation.PublicMessage(msg))
}

// markRead selects the conversation with partnerId, which marks it read
// and remembers it as the last opened one.
func (s *GoChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	d, err := s.loadDirectory(r, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	partnerId := r.PathValue("partnerId")
	if _, listed := d.Listed(partnerId); !listed {
		s.writeError(w, NewNotFoundError())
		return
	}

	if err := d.Select(r.Context(), partnerId); err != nil {
		s.writeError(w, conversationError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	user, err := s.db.GetUser(r.Context(), userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conversation.PublicUser(user), conn, s.cs, s.log)
	if !s.cs.RegisterClient(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
	go client.Session()
}
