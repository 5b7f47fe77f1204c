package server

import (
	"context"
	"strconv"
	"strings"
)

// Handler executes one FTP command for a session.
//
// Handle returns the final reply for the command. Preliminary replies (such
// as 150 before a transfer) are written with Session.Reply before returning.
// A non-nil error is mapped to a reply by the dispatcher; errors wrapping a
// *TransportError end the session.
type Handler interface {
	Handle(ctx context.Context, s *Session, arg string) (Reply, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, s *Session, arg string) (Reply, error)

// Handle calls f(ctx, s, arg).
func (f HandlerFunc) Handle(ctx context.Context, s *Session, arg string) (Reply, error) {
	return f(ctx, s, arg)
}

// HandlerFactory creates the handler instance a session uses for one
// command name. It is called at most once per session and name.
type HandlerFactory func() Handler

// Static returns a factory that hands out h to every session.
func Static(h Handler) HandlerFactory {
	return func() Handler { return h }
}

// method adapts a Session method to a shared factory.
func method(fn func(*Session, context.Context, string) (Reply, error)) HandlerFactory {
	return Static(HandlerFunc(func(ctx context.Context, s *Session, arg string) (Reply, error) {
		return fn(s, ctx, arg)
	}))
}

// Reply is an FTP reply.
//
// With no Lines it is written as "Code Message". With Lines it is written
// as a multi-line reply: "Code-Message", each line prefixed by a space, and
// "Code Trailer" ("Code End" when Trailer is empty).
//
// A zero Code means no reply is written.
type Reply struct {
	Code    int
	Message string
	Lines   []string
	Trailer string
}

// String renders the reply with CRLF line endings.
func (r Reply) String() string {
	if r.Code == 0 {
		return ""
	}

	code := strconv.Itoa(r.Code)
	var b strings.Builder
	if len(r.Lines) == 0 {
		b.WriteString(code + " " + r.Message + "\r\n")
		return b.String()
	}

	b.WriteString(code + "-" + r.Message + "\r\n")
	for _, line := range r.Lines {
		b.WriteString(" " + line + "\r\n")
	}
	trailer := r.Trailer
	if trailer == "" {
		trailer = "End"
	}
	b.WriteString(code + " " + trailer + "\r\n")
	return b.String()
}

// Positive reports whether the reply is a 1xx, 2xx or 3xx reply.
func (r Reply) Positive() bool {
	return r.Code > 0 && r.Code < 400
}
