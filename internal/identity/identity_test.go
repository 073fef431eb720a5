package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/npezzotti/go-duochat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
)

func newTestProvider(t *testing.T) *AccountProvider {
	p := NewAccountProvider(database.NewMemChatRepository(live.NewHub(testutil.TestLogger(t), nil)))
	p.cost = bcrypt.MinCost
	return p
}

func TestCreateAccount(t *testing.T) {
	tcases := []struct {
		name     string
		email    string
		password string
		err      error
	}{
		{name: "valid account", email: "ada@example.com", password: "secret1"},
		{name: "malformed email", email: "ada-at-example", password: "secret1", err: ErrInvalidEmail},
		{name: "display name form is rejected", email: "Ada <ada@example.com>", password: "secret1", err: ErrInvalidEmail},
		{name: "short password", email: "ada@example.com", password: "12345", err: ErrWeakPassword},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProvider(t)
			id, err := p.CreateAccount(context.Background(), tc.email, tc.password)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Empty(t, id)
				return
			}
			assert.NoError(t, err)
			assert.NotEmpty(t, id, "expected an identifier for the new account")
		})
	}

	t.Run("duplicate email", func(t *testing.T) {
		p := newTestProvider(t)
		_, err := p.CreateAccount(context.Background(), "ada@example.com", "secret1")
		assert.NoError(t, err)

		_, err = p.CreateAccount(context.Background(), "ADA@example.com", "secret2")
		assert.ErrorIs(t, err, ErrEmailInUse, "expected emails to be compared case-insensitively")
	})

	t.Run("store error", func(t *testing.T) {
		repo := &database.MockChatRepository{}
		defer repo.AssertExpectations(t)
		repo.On("CreateAccount", mock.Anything, mock.Anything).Return(database.Account{}, errors.New("db error")).Once()

		p := NewAccountProvider(repo)
		p.cost = bcrypt.MinCost
		_, err := p.CreateAccount(context.Background(), "ada@example.com", "secret1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrEmailInUse)
	})
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	id, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	assert.NoError(t, err)
	assert.NoError(t, p.DeleteAccount(ctx, id))

	_, err = p.SignIn(ctx, "ada@example.com", "secret1")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = p.CreateAccount(ctx, "ada@example.com", "secret1")
	assert.NoError(t, err, "expected the email to be reusable")

	t.Run("store error", func(t *testing.T) {
		repo := &database.MockChatRepository{}
		defer repo.AssertExpectations(t)
		repo.On("DeleteAccount", mock.Anything, "d1").Return(errors.New("db error")).Once()

		assert.Error(t, NewAccountProvider(repo).DeleteAccount(ctx, "d1"))
	})
}

func TestSignIn(t *testing.T) {
	p := newTestProvider(t)
	id, err := p.CreateAccount(context.Background(), "ada@example.com", "secret1")
	assert.NoError(t, err)

	tcases := []struct {
		name     string
		email    string
		password string
		err      error
	}{
		{name: "valid credentials", email: "ada@example.com", password: "secret1"},
		{name: "email is case-insensitive", email: " Ada@Example.com ", password: "secret1"},
		{name: "wrong password", email: "ada@example.com", password: "secret2", err: ErrInvalidCredentials},
		{name: "unknown user", email: "bob@example.com", password: "secret1", err: ErrUserNotFound},
		{name: "invalid email", email: "not-an-email", password: "secret1", err: ErrInvalidEmail},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.SignIn(context.Background(), tc.email, tc.password)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}
}
