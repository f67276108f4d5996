// Package tool runs the subcommands of the lightrpc command.
package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

type Command struct {
	Name        string
	Description string
	Help        string
	Fn          func(ctx context.Context, args []string) error
}

// Run runs the command named by args[0] with the remaining args. It returns
// the process exit code.
func Run(ctx context.Context, commands map[string]*Command, args []string, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		if len(args) == 2 {
			if cmd, ok := commands[args[1]]; ok {
				_, _ = fmt.Fprintln(stderr, cmd.Help)
				return 0
			}
		}
		_, _ = fmt.Fprint(stderr, Usage(commands))
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "command %q not found\n\n%s", args[0], Usage(commands))
		return 1
	}

	if err := cmd.Fn(ctx, args[1:]); err != nil {
		_, _ = fmt.Fprintf(stderr, "command %q failed: %v\n", cmd.Name, err)
		return 1
	}
	return 0
}

// Usage lists the commands with their descriptions.
func Usage(commands map[string]*Command) string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("USAGE\n\n")
	for _, name := range names {
		_, _ = fmt.Fprintf(&b, "  lightrpc %-10s %s\n", name, commands[name].Description)
	}
	b.WriteString("\nUse \"lightrpc help <command>\" for more information about a command.\n")
	return b.String()
}

// Main runs the command selected by os.Args and exits.
func Main(commands map[string]*Command) {
	os.Exit(Run(context.Background(), commands, os.Args[1:], os.Stderr))
}
