package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run device commands interactively with the buses kept open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          a.board.Name + "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("readline: %w", err)
			}
			defer rl.Close()

			a.inShell = true
			defer func() { a.inShell = false }()
			a.log = a.log.Output(consoleWriter(rl.Stderr()))

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				if done := a.runLine(rl.Stdout(), line); done {
					return nil
				}
			}
		},
	}
}

// runLine executes one shell line and reports whether the shell should
// exit. Errors are printed, not returned, so the session carries on.
func (a *app) runLine(out io.Writer, line string) bool {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return false
	}
	if len(args) == 0 {
		return false
	}
	switch strings.ToLower(args[0]) {
	case "exit", "quit", "q":
		return true
	}

	sh := &cobra.Command{Use: "", SilenceUsage: true, SilenceErrors: true}
	sh.SetOut(out)
	sh.SetErr(out)
	sh.AddCommand(a.deviceCommands()...)
	sh.SetArgs(args)
	if err := sh.Execute(); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}
