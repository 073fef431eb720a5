package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-duochat/internal/conversation"
	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/npezzotti/go-duochat/internal/stats"
)

type threadSnapshot struct {
	gen  int
	msgs []database.Message
}

type subscriptionErr struct {
	gen int
	err error
}

// session is the state of one connection. Everything below is touched only
// by the goroutine running Client.Session.
type session struct {
	c         *Client
	db        database.ChatRepository
	directory *conversation.Directory
	composer  *conversation.Composer
	dirSub    *live.Subscription
	restored  bool

	thread    *conversation.Thread
	threadSub *live.Subscription
	threadGen int

	chats     chan []database.Chat
	msgs      chan threadSnapshot
	dirErrs   chan error
	threadErr chan subscriptionErr
}

// Session runs the event loop of the connection until the client is
// stopped. It subscribes to the user's directory, restores the last opened
// conversation and then serves requests, live snapshots and the dwell timer.
func (c *Client) Session() {
	cs := c.chatServer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &session{
		c:         c,
		db:        cs.db,
		directory: conversation.NewDirectory(c.user.Id, cs.db, cs.prefs),
		composer:  conversation.NewComposer(cs.db),
		chats:     make(chan []database.Chat),
		msgs:      make(chan threadSnapshot),
		dirErrs:   make(chan error, 1),
		threadErr: make(chan subscriptionErr, 1),
	}

	s.dirSub = live.Watch(cs.db.Changes(), s.directory.Topic(), s.directory.Query,
		func(ctx context.Context, chats []database.Chat) {
			select {
			case s.chats <- chats:
			case <-ctx.Done():
			}
		},
		func(err error) {
			s.dirErrs <- err
		},
	)
	defer s.teardown()

	for {
		var dwell <-chan time.Time
		if s.thread != nil {
			dwell = s.thread.Tracker().C()
		}

		select {
		case msg := <-c.inbound:
			s.handle(ctx, msg)
		case chats := <-s.chats:
			s.applyDirectory(ctx, chats)
		case snap := <-s.msgs:
			if snap.gen != s.threadGen {
				continue
			}
			c.queueMessage(ThreadUpdate(s.thread.Apply(snap.msgs)))
		case <-dwell:
			s.advance(ctx)
		case err := <-s.dirErrs:
			c.log.Printf("directory subscription for %q ended: %v", c.user.Id, err)
			c.queueMessage(ErrServiceUnavailable(0))
		case e := <-s.threadErr:
			if e.gen != s.threadGen {
				continue
			}
			c.log.Printf("thread subscription for %q ended: %v", c.user.Id, e.err)
			c.queueMessage(ErrServiceUnavailable(0))
		case <-c.stop:
			return
		}
	}
}

func (s *session) teardown() {
	s.dirSub.Unsubscribe()
	s.closeThread()
	s.c.log.Printf("session for %q closed", s.c.user.Id)
}

func (s *session) handle(ctx context.Context, msg *ClientMessage) {
	c := s.c

	switch {
	case msg.Open != nil:
		if err := s.open(ctx, msg.Open.PartnerId, true); err != nil {
			c.queueMessage(s.errorResponse(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.Start != nil:
		partner, err := s.lookupUser(ctx, msg.Start.PartnerId)
		if err != nil {
			c.queueMessage(s.errorResponse(msg.Id, err))
			return
		}
		if partner.Id == c.user.Id {
			c.queueMessage(s.errorResponse(msg.Id, conversation.ErrSelfConversation))
			return
		}
		s.directory.AddPending(conversation.PublicUser(partner))
		if err := s.open(ctx, partner.Id, true); err != nil {
			c.queueMessage(s.errorResponse(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.Close != nil:
		s.closeThread()
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.Send != nil:
		if s.thread == nil {
			c.queueMessage(ErrNoConversation(msg.Id))
			return
		}
		sent, err := s.composer.Send(ctx, c.user.Id, s.thread.Partner().Id, msg.Send.Text)
		if err != nil {
			c.queueMessage(s.errorResponse(msg.Id, err))
			return
		}
		c.chatServer.stats.Incr(stats.MessagesSent)
		c.queueMessage(NoErrOK(msg.Id, conversation.PublicMessage(sent)))
	case msg.Users != nil:
		users, err := s.directory.Candidates(ctx)
		if err != nil {
			c.queueMessage(s.errorResponse(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, users))
	case msg.Profile != nil:
		u, err := s.lookupUser(ctx, msg.Profile.UserId)
		if err != nil {
			c.queueMessage(s.errorResponse(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, conversation.PublicUser(u)))
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (s *session) lookupUser(ctx context.Context, id string) (database.User, error) {
	u, err := s.db.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return database.User{}, conversation.ErrUnknownUser
	}
	return u, err
}

func (s *session) errorResponse(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrSelfConversation):
		return ErrBadRequest(id, err.Error())
	case errors.Is(err, conversation.ErrUnknownUser):
		return ErrUserNotFound(id)
	}

	s.c.log.Printf("request %d from %q: %v", id, s.c.user.Id, err)
	return ErrInternalError(id)
}

func (s *session) applyDirectory(ctx context.Context, chats []database.Chat) {
	if err := s.directory.Apply(ctx, chats); err != nil {
		s.c.log.Println("apply directory:", err)
		return
	}
	s.c.queueMessage(DirectoryUpdate(s.directory.Listing()))

	if s.restored {
		return
	}
	s.restored = true

	if err := s.restore(ctx); err != nil {
		s.c.log.Printf("restore conversation for %q: %v", s.c.user.Id, err)
	}
}

// restore reopens the last selected conversation, or the most recent one
// when nothing was stored. Restoring leaves the conversation unread.
func (s *session) restore(ctx context.Context) error {
	if s.thread != nil {
		return nil
	}

	partnerId, err := s.c.chatServer.prefs.LastPartner(ctx, s.c.user.Id)
	if err != nil {
		return err
	}

	if partnerId == "" {
		listing := s.directory.Listing()
		if len(listing.Conversations) == 0 {
			return nil
		}
		partnerId = listing.Conversations[0].Partner.Id
	}

	return s.open(ctx, partnerId, false)
}

// open selects partnerId and subscribes to the conversation's messages.
// The thread loads its baseline before the selection moves the stored
// watermark, so messages unread at open time keep their boundary. With
// markRead unset the watermark is left to the dwell timer.
func (s *session) open(ctx context.Context, partnerId string, markRead bool) error {
	if partnerId == s.c.user.Id {
		return conversation.ErrSelfConversation
	}

	partner, err := s.lookupUser(ctx, partnerId)
	if err != nil {
		return err
	}

	if s.thread != nil && s.thread.Partner().Id == partnerId {
		return s.selectPartner(ctx, partnerId, markRead)
	}

	th, err := conversation.OpenThread(ctx, s.db, s.c.user.Id, conversation.PublicUser(partner), s.c.chatServer.dwell)
	if err != nil {
		return fmt.Errorf("open thread: %w", err)
	}

	if err := s.selectPartner(ctx, partnerId, markRead); err != nil {
		th.Close()
		return err
	}

	s.closeThread()
	s.threadGen++
	gen := s.threadGen
	s.thread = th
	s.threadSub = live.Watch(s.db.Changes(), th.Topic(), th.Query,
		func(ctx context.Context, msgs []database.Message) {
			select {
			case s.msgs <- threadSnapshot{gen: gen, msgs: msgs}:
			case <-ctx.Done():
			}
		},
		func(err error) {
			select {
			case s.threadErr <- subscriptionErr{gen: gen, err: err}:
			default:
			}
		},
	)

	return nil
}

func (s *session) selectPartner(ctx context.Context, partnerId string, markRead bool) error {
	if !markRead {
		return s.directory.Remember(ctx, partnerId)
	}

	if err := s.directory.Select(ctx, partnerId); err != nil {
		return fmt.Errorf("select: %w", err)
	}
	s.c.queueMessage(DirectoryUpdate(s.directory.Listing()))
	return nil
}

func (s *session) closeThread() {
	if s.thread == nil {
		return
	}

	s.threadSub.Unsubscribe()
	s.thread.Close()
	s.thread = nil
	s.threadSub = nil
	s.threadGen++
}

func (s *session) advance(ctx context.Context) {
	if err := s.thread.Tracker().Advance(ctx); err != nil {
		s.c.log.Printf("advance watermark for %q: %v", s.c.user.Id, err)
		return
	}

	s.c.chatServer.stats.Incr(stats.WatermarkAdvances)
	s.c.queueMessage(ThreadUpdate(s.thread.View()))
}
