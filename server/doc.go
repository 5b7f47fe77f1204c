// Package server implements the control channel of an FTP server.
//
// # Overview
//
// Every client gets a Session that reads commands from the control
// connection, routes them through a sealed Registry and writes one reply
// per command, in order. Storage and authentication are pluggable:
//   - Membership decides who may log in and returns an Identity
//   - FileSystemProvider opens the per-user FileSystem view
//   - HandlerSource adds commands to the registry
//
// The filesystem and membership packages provide afero backed storage and
// anonymous, bcrypt and chained authentication.
//
// # Getting Started
//
//	fs, err := filesystem.NewOSProvider("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, err := server.NewServer(":21",
//	    server.WithMembership(membership.NewAnonymous()),
//	    server.WithFileSystem(fs),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// # Command Input
//
// Lines end with CRLF, a bare LF or a bare CR. Telnet IAC sequences are
// stripped and blank lines are ignored. A line is decoded only when it is
// dispatched, with the charset the session uses at that moment, so commands
// that follow OPTS UTF8 in the same read are decoded with the charset it
// selects. Lines that do not decode are answered with 501 and the session
// continues.
//
// Dispatch checks, in order:
//   - unknown commands are answered with 500
//   - commands that need TLS are answered with 502 when TLS is not configured
//   - commands that are not public are answered with 530 before login
//
// # Extending the Server
//
// A HandlerSource contributes entries. Names are case-insensitive and must
// be unique across all sources; NewServer fails on a duplicate.
//
//	extras := server.NewHandlerSource("site-extras", server.Entry{
//	    Name:     "XCRC",
//	    Features: []string{"XCRC"},
//	    Help:     "XCRC <sp> path",
//	    Factory:  server.Static(xcrcHandler),
//	})
//	s, err := server.NewServer(":21",
//	    server.WithMembership(m),
//	    server.WithFileSystem(fs),
//	    server.WithHandlerSources(extras),
//	)
//
// Factories run once per session and command name, so handlers may keep
// per-session state. Features of registered commands are listed by FEAT.
//
// Handler errors become replies: a ReplyError carries its own code,
// os.ErrNotExist and os.ErrPermission give 550, ErrNoDataConnection gives
// 425 and anything else 451. A TransportError ends the session.
//
// # FTPS
//
// Explicit FTPS (RFC 4217) is enabled with WithTLS. Anything the client
// sent after AUTH TLS in plaintext is discarded before the handshake.
// Implicit FTPS (port 990) is enabled with WithImplicitTLS.
//
// # Passive Mode
//
// Behind NAT, advertise the public address and restrict the port range:
//
//	s, _ := server.NewServer(":21",
//	    server.WithMembership(m),
//	    server.WithFileSystem(fs),
//	    server.WithPublicHost("ftp.example.com"),
//	    server.WithPassivePorts(server.PortRange{Min: 30000, Max: 30100}),
//	)
//
// # Shutdown
//
// Shutdown closes the listeners at once, tells idle sessions 421 and waits
// for running commands until the shutdown timeout or the context expires.
// Close stops everything immediately.
//
// # RFC Compliance
//
//   - RFC 959 (Base FTP)
//   - RFC 1123 (Requirements for Internet Hosts)
//   - RFC 2389 (Feature Negotiation)
//   - RFC 2428 (IPv6 / NAT)
//   - RFC 2640 (Internationalization)
//   - RFC 3659 (SIZE, MDTM, MLSD, MLST, REST)
//   - RFC 4217 (Securing FTP with TLS)
//   - RFC 7151 (HOST Command)
//   - draft-somers-ftp-mfxx (MFMT Command)
package server
