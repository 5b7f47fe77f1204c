package server

import "strings"

// Command is a single decoded FTP command line.
//
// Name is the verb as it was received (not normalized). Argument is the
// remainder of the line after the first space, or "" if the line had no
// space.
type Command struct {
	Name     string
	Argument string
}

// parseCommand splits a decoded line into name and argument.
func parseCommand(line string) Command {
	name, arg, _ := strings.Cut(line, " ")
	return Command{Name: name, Argument: arg}
}

// Equal reports whether c and other name the same command with the same
// argument. Both fields are compared case-insensitively.
func (c Command) Equal(other Command) bool {
	return strings.EqualFold(c.Name, other.Name) &&
		strings.EqualFold(c.Argument, other.Argument)
}

// Verb returns the upper-cased command name used for registry lookups and
// logging.
func (c Command) Verb() string {
	return strings.ToUpper(c.Name)
}

func (c Command) String() string {
	if c.Argument == "" {
		return c.Name
	}
	if strings.EqualFold(c.Name, "PASS") {
		return c.Name + " ***"
	}
	return c.Name + " " + c.Argument
}
