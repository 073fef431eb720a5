package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-duochat/internal/live"
)

// changesChannel is the NOTIFY channel carrying live topics.
const changesChannel = "duochat_changes"

type PgChatRepository struct {
	conn     *sql.DB
	log      *log.Logger
	hub      *live.Hub
	listener *pq.Listener
	done     chan struct{}
}

func NewPgChatRepository(dsn string, logger *log.Logger, hub *live.Hub) (*PgChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	repo := &PgChatRepository{
		conn: db,
		log:  logger,
		hub:  hub,
		done: make(chan struct{}),
	}

	repo.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, repo.listenerEvent)
	if err := repo.listener.Listen(changesChannel); err != nil {
		repo.listener.Close()
		db.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	go repo.dispatchNotifications()

	return repo, nil
}

func (db *PgChatRepository) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		db.log.Println("change listener disconnected:", err)
	case pq.ListenerEventReconnected:
		db.log.Println("change listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		db.log.Println("change listener connect:", err)
	}
}

func (db *PgChatRepository) dispatchNotifications() {
	defer close(db.done)

	for n := range db.listener.Notify {
		if n == nil {
			// the connection was re-established and notifications may
			// have been lost in between
			db.hub.PublishAll()
			continue
		}

		db.hub.Publish(n.Extra)
	}
}

func (db *PgChatRepository) Changes() *live.Hub {
	return db.hub
}

func (db *PgChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgChatRepository) Close() error {
	if db.listener != nil {
		if err := db.listener.Close(); err != nil {
			db.log.Println("close listener:", err)
		}
		<-db.done
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
