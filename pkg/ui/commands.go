package ui

import "strings"

type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandTurn
	CommandSwitch
	CommandCopy
	CommandQuit
)

// Command is one parsed input line.
type Command struct {
	Kind CommandKind
	Arg  string
}

// ParseInput recognizes the client commands /switch <id>, /copy, /quit and
// /exit. Anything else that is not blank is sent as a turn, slash included.
func ParseInput(line string) Command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: CommandNone}
	}
	name, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return Command{Kind: CommandQuit}
	case "/copy":
		return Command{Kind: CommandCopy}
	case "/switch":
		if arg != "" {
			return Command{Kind: CommandSwitch, Arg: arg}
		}
	}
	return Command{Kind: CommandTurn, Arg: line}
}
