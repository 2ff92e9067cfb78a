package core

import (
	"fmt"
	"strings"
)

// Verbs understood by the interpreter. Matching is case-insensitive.
const (
	VerbCreate = "create"
	VerbMove   = "move"
	VerbDelete = "delete"
	VerbList   = "list"
)

// minArgs is the argument count each verb needs. Lines with fewer are
// treated like unrecognized verbs.
var minArgs = map[string]int{
	VerbCreate: 1,
	VerbMove:   2,
	VerbDelete: 1,
	VerbList:   0,
}

// Command is one parsed script line.
type Command struct {
	Line string
	Verb string
	Args []string
}

// ParseCommand trims line and splits it on whitespace. The verb and the
// arguments are lowercased; Line keeps the original case for echoing.
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	fields := strings.Fields(strings.ToLower(line))

	cmd := Command{Line: line}
	if len(fields) > 0 {
		cmd.Verb = fields[0]
		cmd.Args = fields[1:]
	}
	return cmd
}

// Valid reports whether the verb is known and has enough arguments.
func (c Command) Valid() bool {
	n, ok := minArgs[c.Verb]
	return ok && len(c.Args) >= n
}

// Run executes script against a fresh tree and returns the transcript.
func Run(script string) string {
	return Execute(NewFiletree(), script)
}

// Execute resets ft, runs script against it and returns the transcript.
func Execute(ft *Filetree, script string) string {
	return ExecuteReport(ft, script).Transcript
}

// ExecuteReport is Execute with the per-line outcomes kept.
func ExecuteReport(ft *Filetree, script string) *Result {
	ft.Reset()

	var sb strings.Builder
	lines := strings.Split(script, "\n")
	outcomes := make([]Outcome, 0, len(lines))

	for _, line := range lines {
		cmd := ParseCommand(line)
		sb.WriteString(cmd.Line)
		sb.WriteByte('\n')

		applied := apply(ft, cmd, &sb)
		outcomes = append(outcomes, Outcome{Command: cmd, Applied: applied})
	}

	return NewResult(sb.String(), outcomes, ft)
}

// apply runs one command. Failures are silent except for DELETE, which
// writes a line naming the first missing directory.
func apply(ft *Filetree, cmd Command, out *strings.Builder) bool {
	if !cmd.Valid() {
		return false
	}

	switch cmd.Verb {
	case VerbCreate:
		return ft.Create(cmd.Args[0])

	case VerbMove:
		return ft.Move(cmd.Args[0], cmd.Args[1])

	case VerbDelete:
		path := cmd.Args[0]
		if ft.Delete(path) {
			return true
		}
		missing, _ := ft.MissingDirectory(path)
		fmt.Fprintf(out, "Cannot delete %s - %s does not exist\n", path, missing)
		return false

	case VerbList:
		out.WriteString(ft.List())
	}

	return false
}
