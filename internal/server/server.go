package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/prefs"
	"github.com/npezzotti/go-duochat/internal/stats"
)

type stopReq struct {
	done chan struct{}
}

// ChatServer tracks the connected sessions and stops them on shutdown.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	prefs          prefs.Store
	stats          stats.StatsProvider
	dwell          time.Duration
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, ps prefs.Store, su stats.StatsProvider, dwell time.Duration) (*ChatServer, error) {
	su.RegisterMetric(stats.NumActiveSessions)
	su.RegisterMetric(stats.MessagesSent)
	su.RegisterMetric(stats.WatermarkAdvances)

	return &ChatServer{
		log:            logger,
		db:             db,
		prefs:          ps,
		stats:          su,
		dwell:          dwell,
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding session for %q", client.user.Id)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing session for %q", client.user.Id)
			cs.removeClient(client)
		case req := <-cs.stop:
			cs.log.Println("stopping sessions")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumActiveSessions)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveSessions)
}

// RegisterClient adds c to the set of sessions stopped on shutdown. It
// reports false once the server has stopped.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	select {
	case cs.RegisterChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

// Shutdown stops every session and waits for the server loop to exit or
// for ctx to be done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
