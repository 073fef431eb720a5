package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/teris-io/shortid"
)

const selectChatsQuery = `
	SELECT
			c.key,
			c.participants,
			c.last_message_text,
			c.last_message_sender,
			c.last_message_ts,
			c.created_at,
			c.updated_at,
			p.user_id,
			p.username,
			p.last_read,
			p.unread_count
	FROM chats c
	JOIN chat_participants p ON p.chat_key = c.key
`

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (id, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, email, password_hash, created_at",
		params.Id,
		params.Email,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(&a.Id, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if isUniqueViolation(err) {
		return Account{}, ErrDuplicate
	}

	return a, err
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Email, &a.PasswordHash, &a.CreatedAt)

	return a, err
}

func (db *PgChatRepository) DeleteAccount(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM accounts WHERE id = $1", id)
	return err
}

func (db *PgChatRepository) CreateUser(ctx context.Context, user User) (User, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (id, first_name, last_name, email, phone, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"RETURNING id, first_name, last_name, email, phone, created_at",
		user.Id,
		user.FirstName,
		user.LastName,
		user.Email,
		user.Phone,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(&u.Id, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}

	return u, err
}

func (db *PgChatRepository) GetUser(ctx context.Context, id string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, first_name, last_name, email, phone, created_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(&u.Id, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.CreatedAt)

	return u, err
}

func (db *PgChatRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, first_name, last_name, email, phone, created_at FROM users "+
			"ORDER BY first_name, last_name, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatRepository) GetChat(ctx context.Context, key string) (Chat, error) {
	chats, err := db.queryChats(ctx, selectChatsQuery+"WHERE c.key = $1 ORDER BY p.user_id", key)
	if err != nil {
		return Chat{}, err
	}

	if len(chats) == 0 {
		return Chat{}, sql.ErrNoRows
	}

	return chats[0], nil
}

func (db *PgChatRepository) ListChatsForUser(ctx context.Context, userId string) ([]Chat, error) {
	return db.queryChats(ctx,
		selectChatsQuery+"WHERE c.participants @> ARRAY[$1]::text[] "+
			"ORDER BY c.updated_at DESC, c.key, p.user_id",
		userId,
	)
}

// queryChats folds the chat/participant join back into one Chat per key,
// preserving the order in which keys first appear.
func (db *PgChatRepository) queryChats(ctx context.Context, query string, args ...any) ([]Chat, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := make([]Chat, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			key          string
			participants []string
			lmText       sql.NullString
			lmSender     sql.NullString
			lmTimestamp  sql.NullInt64
			createdAt    time.Time
			updatedAt    time.Time
			userId       string
			info         ParticipantInfo
		)

		err := rows.Scan(
			&key,
			pq.Array(&participants),
			&lmText,
			&lmSender,
			&lmTimestamp,
			&createdAt,
			&updatedAt,
			&userId,
			&info.Username,
			&info.LastRead,
			&info.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		i, ok := index[key]
		if !ok {
			chat := Chat{
				Key:             key,
				ParticipantInfo: make(map[string]ParticipantInfo, 2),
				CreatedAt:       createdAt,
				UpdatedAt:       updatedAt,
			}
			copy(chat.Participants[:], participants)
			if lmTimestamp.Valid {
				chat.LastMessage = &LastMessage{
					Text:      lmText.String,
					SenderId:  lmSender.String,
					Timestamp: lmTimestamp.Int64,
				}
			}

			chats = append(chats, chat)
			i = len(chats) - 1
			index[key] = i
		}

		chats[i].ParticipantInfo[userId] = info
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return chats, nil
}

func (db *PgChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	id, err := shortid.Generate()
	if err != nil {
		return Message{}, fmt.Errorf("generate id: %w", err)
	}

	sentAt := params.SentAt.UTC()
	sentMs := sentAt.UnixMilli()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO chats (key, participants, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $3) ON CONFLICT (key) DO NOTHING",
		params.ChatKey,
		pq.Array([]string{params.SenderId, params.ReceiverId}),
		sentAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert chat: %w", err)
	}

	created, err := res.RowsAffected()
	if err != nil {
		return Message{}, err
	}

	if created == 1 {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO chat_participants (chat_key, user_id, username, last_read, unread_count) "+
				"VALUES ($1, $2, $3, $4, 0), ($1, $5, $6, 0, 0)",
			params.ChatKey,
			params.SenderId,
			params.SenderUsername,
			sentMs,
			params.ReceiverId,
			params.ReceiverUsername,
		)
		if err != nil {
			return Message{}, fmt.Errorf("insert participants: %w", err)
		}
	}

	res, err = tx.ExecContext(ctx,
		"UPDATE chat_participants SET unread_count = unread_count + 1 "+
			"WHERE chat_key = $1 AND user_id = $2",
		params.ChatKey,
		params.ReceiverId,
	)
	if err != nil {
		return Message{}, fmt.Errorf("increment unread: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		err = fmt.Errorf("receiver %q is not a participant of %q", params.ReceiverId, params.ChatKey)
		return Message{}, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE chats SET last_message_text = $2, last_message_sender = $3, "+
			"last_message_ts = $4, updated_at = $5 WHERE key = $1",
		params.ChatKey,
		params.Text,
		params.SenderId,
		sentMs,
		sentAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("update preview: %w", err)
	}

	msg := Message{
		Id:         id,
		ChatKey:    params.ChatKey,
		Text:       params.Text,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		CreatedAt:  sentAt,
		Timestamp:  sentMs,
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, chat_key, text, sender_id, receiver_id, created_at, timestamp) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		msg.Id,
		msg.ChatKey,
		msg.Text,
		msg.SenderId,
		msg.ReceiverId,
		msg.CreatedAt,
		msg.Timestamp,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err = notify(ctx, tx, appendTopics(params)...); err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) MarkRead(ctx context.Context, chatKey, userId string, at int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE chat_participants SET last_read = GREATEST(last_read, $3), unread_count = 0 "+
			"WHERE chat_key = $1 AND user_id = $2",
		chatKey,
		userId,
		at,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = notify(ctx, tx, live.UserTopic(userId)); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) ListMessages(ctx context.Context, chatKey string) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, chat_key, text, sender_id, receiver_id, created_at, timestamp FROM messages "+
			"WHERE chat_key = $1 ORDER BY created_at ASC, timestamp ASC, id ASC",
		chatKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Id, &m.ChatKey, &m.Text, &m.SenderId, &m.ReceiverId, &m.CreatedAt, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// notify queues a change notification for each topic. Postgres delivers
// them to listeners only if the transaction commits.
func notify(ctx context.Context, tx *sql.Tx, topics ...string) error {
	for _, topic := range topics {
		if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", changesChannel, topic); err != nil {
			return fmt.Errorf("notify %q: %w", topic, err)
		}
	}
	return nil
}
