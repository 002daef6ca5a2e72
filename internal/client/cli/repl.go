package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// command runs one REPL command with the tokens that followed its name.
type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

// runREPL reads commands from reader until EOF, "exit" or "quit". The
// first token selects the command; errors are printed and the loop goes on.
// Commands that prompt for more input read from the same reader.
func runREPL(ctx context.Context, commands map[string]command, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "garden %s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "help":
			printHelp(commands, w)
			continue
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		}

		cmd, ok := commands[name]
		if !ok {
			fmt.Fprintln(w, "Unknown command:", name)
			continue
		}
		if err := cmd.run(ctx, args); err != nil {
			fmt.Fprintln(w, "error:", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func printHelp(commands map[string]command, w io.Writer) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Available commands:")
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", commands[n].usage)
	}
	fmt.Fprintln(w, "  help")
	fmt.Fprintln(w, "  exit | quit")
}
