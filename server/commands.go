package server

// Predefined command groups for use with WithDisableCommands.
//
//	// Passive mode only
//	srv, _ := server.NewServer(":21",
//	    server.WithMembership(m),
//	    server.WithFileSystem(fs),
//	    server.WithDisableCommands(server.ActiveModeCommands...),
//	)
var (
	// LegacyCommands contains the X* aliases from RFC 775.
	LegacyCommands = []string{"XCWD", "XCUP", "XPWD", "XMKD", "XRMD"}

	// ActiveModeCommands contains the commands that make the server dial
	// out to the client.
	ActiveModeCommands = []string{"PORT", "EPRT"}

	// WriteCommands contains every command that modifies the file system.
	// For per-user read-only access set Identity.ReadOnly instead.
	WriteCommands = []string{
		"STOR", "APPE", "STOU", "DELE",
		"RMD", "XRMD", "MKD", "XMKD",
		"RNFR", "RNTO", "MFMT",
	}

	// SiteCommands contains SITE administrative commands.
	SiteCommands = []string{"SITE"}
)

// BuiltinCommands returns the core RFC 959 command set and its common
// extensions (RFC 2389, 2428, 3659, 7151).
func BuiltinCommands() HandlerSource {
	return NewHandlerSource("builtin",
		// Access control
		Entry{Name: "USER", Factory: method((*Session).handleUSER), Public: true, Help: "USER <sp> username"},
		Entry{Name: "PASS", Factory: method((*Session).handlePASS), Public: true, Help: "PASS <sp> password"},
		Entry{Name: "ACCT", Factory: method((*Session).handleACCT), Public: true},
		Entry{Name: "QUIT", Factory: method((*Session).handleQUIT), Public: true},
		Entry{Name: "NOOP", Factory: method((*Session).handleNOOP), Public: true},
		Entry{Name: "HOST", Factory: method((*Session).handleHOST), Public: true, Features: []string{"HOST"}, Help: "HOST <sp> hostname"},

		// Information
		Entry{Name: "SYST", Factory: method((*Session).handleSYST), Public: true},
		Entry{Name: "FEAT", Factory: method((*Session).handleFEAT), Public: true},
		Entry{Name: "OPTS", Factory: method((*Session).handleOPTS), Public: true, Features: []string{"UTF8"}, Help: "OPTS <sp> UTF8 ON|OFF"},
		Entry{Name: "HELP", Factory: method((*Session).handleHELP), Public: true, Help: "HELP [<sp> command]"},
		Entry{Name: "STAT", Factory: method((*Session).handleSTAT), Public: true, Help: "STAT [<sp> path]"},
		Entry{Name: "SIZE", Factory: method((*Session).handleSIZE), Features: []string{"SIZE"}, Help: "SIZE <sp> path"},
		Entry{Name: "MDTM", Factory: method((*Session).handleMDTM), Features: []string{"MDTM"}, Help: "MDTM <sp> path"},
		Entry{Name: "MFMT", Factory: method((*Session).handleMFMT), Features: []string{"MFMT"}, Help: "MFMT <sp> YYYYMMDDHHMMSS <sp> path"},
		Entry{Name: "MLSD", Factory: method((*Session).handleMLSD), Help: "MLSD [<sp> path]"},
		Entry{Name: "MLST", Factory: method((*Session).handleMLST), Features: []string{"MLST type*;size*;modify*;", "TVFS"}, Help: "MLST [<sp> path]"},

		// Transfer parameters
		Entry{Name: "TYPE", Factory: method((*Session).handleTYPE), Help: "TYPE <sp> A|I"},
		Entry{Name: "MODE", Factory: method((*Session).handleMODE), Public: true, Help: "MODE <sp> S"},
		Entry{Name: "STRU", Factory: method((*Session).handleSTRU), Public: true, Help: "STRU <sp> F"},
		Entry{Name: "PASV", Factory: method((*Session).handlePASV)},
		Entry{Name: "EPSV", Factory: method((*Session).handleEPSV), Features: []string{"EPSV"}},
		Entry{Name: "PORT", Factory: method((*Session).handlePORT), Help: "PORT <sp> h1,h2,h3,h4,p1,p2"},
		Entry{Name: "EPRT", Factory: method((*Session).handleEPRT), Features: []string{"EPRT"}, Help: "EPRT <sp> |proto|addr|port|"},
		Entry{Name: "REST", Factory: method((*Session).handleREST), Features: []string{"REST STREAM"}, Help: "REST <sp> offset"},

		// File transfer
		Entry{Name: "RETR", Factory: method((*Session).handleRETR), Help: "RETR <sp> path"},
		Entry{Name: "STOR", Factory: method((*Session).handleSTOR), Help: "STOR <sp> path"},
		Entry{Name: "APPE", Factory: method((*Session).handleAPPE), Help: "APPE <sp> path"},
		Entry{Name: "STOU", Factory: method((*Session).handleSTOU)},
		Entry{Name: "LIST", Factory: method((*Session).handleLIST), Help: "LIST [<sp> path]"},
		Entry{Name: "NLST", Factory: method((*Session).handleNLST), Help: "NLST [<sp> path]"},
		Entry{Name: "ABOR", Factory: method((*Session).handleABOR)},

		// File management
		Entry{Name: "PWD", Factory: method((*Session).handlePWD)},
		Entry{Name: "XPWD", Factory: method((*Session).handlePWD)},
		Entry{Name: "CWD", Factory: method((*Session).handleCWD), Help: "CWD <sp> path"},
		Entry{Name: "XCWD", Factory: method((*Session).handleCWD)},
		Entry{Name: "CDUP", Factory: method((*Session).handleCDUP)},
		Entry{Name: "XCUP", Factory: method((*Session).handleCDUP)},
		Entry{Name: "MKD", Factory: method((*Session).handleMKD), Help: "MKD <sp> path"},
		Entry{Name: "XMKD", Factory: method((*Session).handleMKD)},
		Entry{Name: "RMD", Factory: method((*Session).handleRMD), Help: "RMD <sp> path"},
		Entry{Name: "XRMD", Factory: method((*Session).handleRMD)},
		Entry{Name: "DELE", Factory: method((*Session).handleDELE), Help: "DELE <sp> path"},
		Entry{Name: "RNFR", Factory: method((*Session).handleRNFR), Help: "RNFR <sp> path"},
		Entry{Name: "RNTO", Factory: method((*Session).handleRNTO), Help: "RNTO <sp> path"},
		Entry{Name: "SITE", Factory: method((*Session).handleSITE), Help: "SITE <sp> CHMOD|HELP ..."},
	)
}

// SecurityCommands returns the RFC 4217 command set. Its commands answer
// 502 unless the server has a TLS configuration.
func SecurityCommands() HandlerSource {
	return NewHandlerSource("security",
		Entry{Name: "AUTH", Factory: method((*Session).handleAUTH), Public: true, RequiresTLS: true, Features: []string{"AUTH TLS"}, Help: "AUTH <sp> TLS"},
		Entry{Name: "PBSZ", Factory: method((*Session).handlePBSZ), Public: true, RequiresTLS: true, Features: []string{"PBSZ"}, Help: "PBSZ <sp> 0"},
		Entry{Name: "PROT", Factory: method((*Session).handlePROT), Public: true, RequiresTLS: true, Features: []string{"PROT"}, Help: "PROT <sp> C|P"},
	)
}
