// Package prefs persists small per-user settings that must survive a page
// reload, currently the partner of the last opened conversation.
package prefs

import (
	"context"
	"fmt"
	"sync"

	"github.com/mediocregopher/radix/v3"
)

type Store interface {
	// LastPartner returns "" when nothing has been stored.
	LastPartner(ctx context.Context, userId string) (string, error)
	SetLastPartner(ctx context.Context, userId, partnerId string) error
	ClearLastPartner(ctx context.Context, userId string) error
}

func lastPartnerKey(userId string) string {
	return "duochat:last-partner:" + userId
}

type RedisStore struct {
	client radix.Client
}

func NewRedisStore(addr string, poolSize int) (*RedisStore, error) {
	pool, err := radix.NewPool("tcp", addr, poolSize)
	if err != nil {
		return nil, fmt.Errorf("redis pool: %w", err)
	}

	return &RedisStore{client: pool}, nil
}

func (s *RedisStore) LastPartner(_ context.Context, userId string) (string, error) {
	var partnerId string
	mn := radix.MaybeNil{Rcv: &partnerId}
	if err := s.client.Do(radix.Cmd(&mn, "GET", lastPartnerKey(userId))); err != nil {
		return "", fmt.Errorf("get last partner: %w", err)
	}

	if mn.Nil {
		return "", nil
	}
	return partnerId, nil
}

func (s *RedisStore) SetLastPartner(_ context.Context, userId, partnerId string) error {
	if err := s.client.Do(radix.Cmd(nil, "SET", lastPartnerKey(userId), partnerId)); err != nil {
		return fmt.Errorf("set last partner: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearLastPartner(_ context.Context, userId string) error {
	if err := s.client.Do(radix.Cmd(nil, "DEL", lastPartnerKey(userId))); err != nil {
		return fmt.Errorf("clear last partner: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemStore keeps preferences for the life of the process.
type MemStore struct {
	mu       sync.Mutex
	partners map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{partners: make(map[string]string)}
}

func (s *MemStore) LastPartner(_ context.Context, userId string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partners[userId], nil
}

func (s *MemStore) SetLastPartner(_ context.Context, userId, partnerId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[userId] = partnerId
	return nil
}

func (s *MemStore) ClearLastPartner(_ context.Context, userId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partners, userId)
	return nil
}
