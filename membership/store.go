package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpd/server"
)

// DefaultBcryptCost is the cost used by HashPassword.
const DefaultBcryptCost = 10

// MaxPasswordLength is the longest password bcrypt accepts.
const MaxPasswordLength = 72

var (
	// ErrPasswordEmpty is returned by HashPassword for an empty password.
	ErrPasswordEmpty = errors.New("password must not be empty")

	// ErrPasswordTooLong is returned by HashPassword for passwords bcrypt
	// would silently truncate.
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	switch {
	case password == "":
		return "", ErrPasswordEmpty
	case len(password) > MaxPasswordLength:
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// User is an account of a Store.
type User struct {
	Name         string `mapstructure:"name" yaml:"name" validate:"required"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash" validate:"required"`
	Home         string `mapstructure:"home" yaml:"home,omitempty"`
	ReadOnly     bool   `mapstructure:"read_only" yaml:"read_only,omitempty"`
}

// Store authenticates users against bcrypt password hashes.
type Store struct {
	mu    sync.RWMutex
	users map[string]User

	// dummy is compared against for unknown users so they take as long to
	// reject as a wrong password.
	dummy []byte
}

// NewStore returns a store holding users. Duplicate names are an error.
func NewStore(users ...User) (*Store, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), DefaultBcryptCost)
	if err != nil {
		return nil, err
	}

	s := &Store{users: make(map[string]User, len(users)), dummy: dummy}
	for _, u := range users {
		if err := s.Add(u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add adds a user.
func (s *Store) Add(u User) error {
	if u.Name == "" {
		return errors.New("user name is required")
	}
	if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
		return fmt.Errorf("user %s: invalid password hash: %w", u.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Name]; ok {
		return fmt.Errorf("user %s already exists", u.Name)
	}
	s.users[u.Name] = u
	return nil
}

// Replace swaps the whole user list, for example after a configuration
// reload.
func (s *Store) Replace(users []User) error {
	next, err := NewStore(users...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.users = next.users
	s.mu.Unlock()
	return nil
}

// Len returns the number of users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) Authenticate(_ context.Context, user, credential string) (*server.Identity, error) {
	s.mu.RLock()
	u, ok := s.users[user]
	s.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(credential))
		return nil, server.ErrLoginFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(credential)); err != nil {
		return nil, server.ErrLoginFailed
	}
	return &server.Identity{
		Name:     u.Name,
		ReadOnly: u.ReadOnly,
		Home:     u.Home,
	}, nil
}
