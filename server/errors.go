package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

var (
	// ErrServerClosed is returned by Serve and ListenAndServe after a call to
	// Shutdown or Close.
	ErrServerClosed = errors.New("ftp: Server closed")

	// ErrNoDataConnection is returned when a transfer command runs before
	// PASV, EPSV, PORT or EPRT.
	ErrNoDataConnection = errors.New("ftp: no data connection negotiated")

	// ErrLoginFailed is returned by a Membership for bad credentials.
	ErrLoginFailed = errors.New("ftp: login failed")

	// ErrRegistrySealed is returned when registering into a registry that is
	// already owned by a server.
	ErrRegistrySealed = errors.New("ftp: command registry is sealed")

	// ErrUnknownCommand is returned when removing a command that is not
	// registered.
	ErrUnknownCommand = errors.New("ftp: unknown command")

	// ErrInvalidEntry is returned for a registry entry without a name or
	// factory.
	ErrInvalidEntry = errors.New("ftp: invalid command entry")
)

// DecodeError reports a command line that is not valid text in the charset
// that was active when it was decoded.
type DecodeError struct {
	Raw     []byte
	Charset string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ftp: cannot decode %d byte line as %s: %v", len(e.Raw), e.Charset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DuplicateCommandError is returned when two handler sources register the
// same command name.
type DuplicateCommandError struct {
	Name     string
	Source   string
	Existing string
}

func (e *DuplicateCommandError) Error() string {
	return fmt.Sprintf("ftp: command %s from %q already registered by %q", e.Name, e.Source, e.Existing)
}

// ReplyError is a handler error that carries the reply to send.
type ReplyError struct {
	Code    int
	Message string
	Err     error
}

// NewReplyError returns an error that the dispatcher answers with code and
// message.
func NewReplyError(code int, message string) *ReplyError {
	return &ReplyError{Code: code, Message: message}
}

func (e *ReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the control connection itself. It ends
// the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "ftp: control connection " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// isTransportError reports whether err means the control connection is gone.
func isTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// isConnClosed reports whether a read or write failed because the peer or
// the server closed the socket.
func isConnClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// replyForError maps a handler error to the reply sent to the client.
func replyForError(err error) Reply {
	var re *ReplyError
	switch {
	case errors.As(err, &re):
		return Reply{Code: re.Code, Message: re.Message}
	case errors.Is(err, ErrNoDataConnection):
		return Reply{Code: 425, Message: "Use PORT or PASV first."}
	case errors.Is(err, os.ErrNotExist):
		return Reply{Code: 550, Message: "File not found."}
	case errors.Is(err, os.ErrPermission):
		return Reply{Code: 550, Message: "Permission denied."}
	case errors.Is(err, os.ErrExist):
		return Reply{Code: 550, Message: "File already exists."}
	}
	return Reply{Code: 451, Message: "Requested action aborted: local error in processing."}
}
