package server

import (
	"context"
	"errors"
	"strings"
)

func (s *Session) handleUSER(_ context.Context, user string) (Reply, error) {
	if user == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	if s.LoggedIn() {
		s.logout()
	}
	s.user = user
	return Reply{Code: 331, Message: "User name okay, need password."}, nil
}

func (s *Session) handlePASS(ctx context.Context, pass string) (Reply, error) {
	if s.user == "" {
		return Reply{Code: 503, Message: "Login with USER first."}, nil
	}
	if s.LoggedIn() {
		return Reply{Code: 230, Message: "Already logged in."}, nil
	}

	id, err := s.server.membership.Authenticate(ContextWithHost(ctx, s.host), s.user, pass)
	if err == nil && id == nil {
		err = ErrLoginFailed
	}
	if err != nil {
		reason := "invalid_credentials"
		if !errors.Is(err, ErrLoginFailed) {
			reason = err.Error()
		}
		s.logger.Warn("authentication_failed", "user", s.user, "host", s.host, "reason", reason)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.user)
		}
		s.user = ""
		return Reply{Code: 530, Message: "Login incorrect."}, nil
	}

	fs, err := s.server.fsProvider.Open(ctx, id)
	if err != nil {
		s.logger.Error("file_system_unavailable", "user", s.user, "error", err)
		s.user = ""
		return Reply{Code: 530, Message: "Login incorrect."}, nil
	}

	s.identity = id
	s.fs = fs
	s.state = StateAuthenticated
	if id.Anonymous {
		s.state = StateAnonymous
	}

	s.logger.Info("authentication_success", "user", s.user, "host", s.host, "anonymous", id.Anonymous, "read_only", id.ReadOnly)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	return Reply{Code: 230, Message: "User logged in, proceed."}, nil
}

// logout returns the session to the unauthenticated state so USER can
// start a new login.
func (s *Session) logout() {
	if s.fs != nil {
		_ = s.fs.Close()
		s.fs = nil
	}
	_ = s.data.Close()
	s.identity = nil
	s.state = StateUnauthenticated
	s.restartOffset = 0
	s.renameFrom = ""
}

func (s *Session) handleQUIT(_ context.Context, _ string) (Reply, error) {
	s.quit = true
	return Reply{Code: 221, Message: "Service closing control connection."}, nil
}

func (s *Session) handleNOOP(_ context.Context, _ string) (Reply, error) {
	return Reply{Code: 200, Message: "OK."}, nil
}

// handleACCT handles the ACCT command. RFC 1123 requires it; no account
// information is needed here.
func (s *Session) handleACCT(_ context.Context, _ string) (Reply, error) {
	return Reply{Code: 202, Message: "Command not implemented, superfluous at this site."}, nil
}

// handleHOST handles RFC 7151 virtual host selection.
func (s *Session) handleHOST(_ context.Context, arg string) (Reply, error) {
	if s.LoggedIn() {
		return Reply{Code: 503, Message: "Cannot change host after login."}, nil
	}
	host := strings.TrimSpace(arg)
	if host == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	s.host = host
	return Reply{Code: 220, Message: "Host accepted."}, nil
}
