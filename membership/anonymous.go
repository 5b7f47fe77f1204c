// Package membership provides Membership implementations for the FTP
// server: anonymous access, a bcrypt credential store and a chain that
// combines them.
package membership

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/gonzalop/ftpd/server"
)

// PasswordPolicy validates the password sent by an anonymous user.
type PasswordPolicy func(password string) error

// NoValidation accepts any anonymous password.
func NoValidation(string) error { return nil }

// EmailValidation requires the anonymous password to be an email address,
// as RFC 1635 asks clients to send.
func EmailValidation(password string) error {
	if _, err := mail.ParseAddress(password); err != nil {
		return fmt.Errorf("%w: anonymous password is not an email address", server.ErrLoginFailed)
	}
	return nil
}

// Anonymous accepts the "anonymous" and "ftp" users.
type Anonymous struct {
	policy   PasswordPolicy
	writable bool
	home     string
}

// AnonymousOption configures Anonymous.
type AnonymousOption func(*Anonymous)

// WithPasswordPolicy sets the policy applied to anonymous passwords.
// The default is NoValidation.
func WithPasswordPolicy(p PasswordPolicy) AnonymousOption {
	return func(a *Anonymous) {
		a.policy = p
	}
}

// WithAnonymousWrite lets anonymous users modify the file system.
// Use with caution.
func WithAnonymousWrite(enable bool) AnonymousOption {
	return func(a *Anonymous) {
		a.writable = enable
	}
}

// WithAnonymousHome jails anonymous users to home.
func WithAnonymousHome(home string) AnonymousOption {
	return func(a *Anonymous) {
		a.home = home
	}
}

// NewAnonymous returns an anonymous-only membership. Anonymous users are
// read-only unless WithAnonymousWrite is given.
func NewAnonymous(opts ...AnonymousOption) *Anonymous {
	a := &Anonymous{policy: NoValidation}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsAnonymous reports whether user is one of the anonymous account names.
func IsAnonymous(user string) bool {
	switch strings.ToLower(user) {
	case "anonymous", "ftp":
		return true
	}
	return false
}

func (a *Anonymous) Authenticate(_ context.Context, user, credential string) (*server.Identity, error) {
	if !IsAnonymous(user) {
		return nil, server.ErrLoginFailed
	}
	if err := a.policy(credential); err != nil {
		return nil, err
	}
	return &server.Identity{
		Name:      strings.ToLower(user),
		Anonymous: true,
		ReadOnly:  !a.writable,
		Home:      a.home,
	}, nil
}
