package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/npezzotti/go-duochat/internal/database"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("incorrect password")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrEmailInUse         = errors.New("email already registered")
)

const minPasswordLength = 6

type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (string, error)
	SignIn(ctx context.Context, email, password string) (string, error)
	DeleteAccount(ctx context.Context, id string) error
}

// AccountProvider issues user identifiers and checks credentials against
// the accounts stored in the chat repository.
type AccountProvider struct {
	db   database.ChatRepository
	cost int
}

func NewAccountProvider(db database.ChatRepository) *AccountProvider {
	return &AccountProvider{
		db:   db,
		cost: bcrypt.DefaultCost,
	}
}

func (p *AccountProvider) CreateAccount(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}

	pwdHash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	acct, err := p.db.CreateAccount(ctx, database.CreateAccountParams{
		Id:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(pwdHash),
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return "", ErrEmailInUse
		}
		return "", fmt.Errorf("create account: %w", err)
	}

	return acct.Id, nil
}

func (p *AccountProvider) SignIn(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	acct, err := p.db.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("get account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return acct.Id, nil
}

// DeleteAccount removes the credentials for id, so the email can be
// registered again.
func (p *AccountProvider) DeleteAccount(ctx context.Context, id string) error {
	if err := p.db.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// normalizeEmail accepts a bare address only and lowercases it.
func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}

	return strings.ToLower(addr.Address), nil
}
