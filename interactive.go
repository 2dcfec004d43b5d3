package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
)

// Shell is the interactive command line for a running agent.
type Shell struct {
	agent *Agent
	rl    *readline.Instance
}

// NewShell creates a shell for agent.
func NewShell(agent *Agent) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nfc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("read"),
			readline.PcItem("write"),
			readline.PcItem("payload"),
			readline.PcItem("clear"),
			readline.PcItem("cancel"),
			readline.PcItem("status"),
			readline.PcItem("buffer"),
			readline.PcItem("tags"),
			readline.PcItem("tap"),
			readline.PcItem("lift"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{agent: agent, rl: rl}, nil
}

// Stdout returns a writer that does not garble the prompt. Loggers should
// write through it while the shell runs.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until the user quits or ctx ends.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	runner := s.agent.Runner()
	if runner != nil {
		updates, unsubscribe := runner.Subscribe()
		defer unsubscribe()
		go s.watch(ctx, updates)
	}

	s.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(input, " ")
		if s.exec(strings.ToLower(cmd), strings.TrimSpace(rest)) {
			cancel()
			return
		}
	}
}

// exec runs one command and reports whether the shell should exit.
func (s *Shell) exec(cmd, arg string) bool {
	out := s.rl.Stdout()
	runner := s.agent.Runner()
	if runner == nil && cmd != "help" && cmd != "quit" && cmd != "exit" {
		fmt.Fprintln(out, "Agent is not running")
		return false
	}

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "read", "r":
		s.start(tagsession.ModeRead)
	case "write", "w":
		if arg != "" {
			if err := runner.SetPendingWritePayload(arg); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				return false
			}
		}
		s.start(tagsession.ModeWrite)
	case "payload", "p":
		if err := runner.SetPendingWritePayload(arg); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "Pending payload: %q\n", arg)
	case "clear":
		if err := runner.ClearReadBuffer(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case "cancel", "c":
		if !runner.Cancel() {
			fmt.Fprintln(out, "No session in progress")
		}
	case "status", "s":
		printSnapshot(out, runner.Snapshot())
	case "buffer", "b":
		snap := runner.Snapshot()
		if len(snap.ReadBuffer) == 0 {
			fmt.Fprintln(out, "Read buffer is empty")
		}
		for i, text := range snap.ReadBuffer {
			fmt.Fprintf(out, "  %d: %s\n", i+1, text)
		}
	case "tags", "tap", "lift":
		s.simCommand(cmd, strings.Fields(arg))
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help')\n", cmd)
	}
	return false
}

func (s *Shell) start(mode tagsession.Mode) {
	if err := s.agent.Runner().Start(mode); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Cannot start %s session: %v\n", mode, err)
	}
}

// simCommand drives the simulated radio's field.
func (s *Shell) simCommand(cmd string, uids []string) {
	out := s.rl.Stdout()
	sim := s.agent.Sim()
	if sim == nil {
		fmt.Fprintln(out, "Only available with the sim radio")
		return
	}

	switch cmd {
	case "tags":
		for _, uid := range sim.Tags() {
			fmt.Fprintf(out, "  %s\n", uid)
		}
	case "tap":
		if len(uids) == 0 {
			fmt.Fprintln(out, "Usage: tap <uid> [uid...]")
			return
		}
		if err := sim.Present(uids...); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case "lift":
		if len(uids) == 0 {
			uids = sim.Tags()
		}
		sim.Remove(uids...)
	}
}

// watch prints state changes as they are published.
func (s *Shell) watch(ctx context.Context, updates <-chan tagsession.Snapshot) {
	last := tagsession.StateIdle
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.State == last {
				continue
			}
			last = snap.State
			line := fmt.Sprintf("[%s] %s", snap.Mode, snap.State)
			if snap.Tag != nil {
				line += " " + snap.Tag.UID
			}
			if snap.LastError != 0 {
				line += fmt.Sprintf(" (%s)", snap.LastError)
			}
			fmt.Fprintln(s.rl.Stdout(), line)
			if snap.State == tagsession.StateInvalidated && snap.Mode == tagsession.ModeRead && snap.LastError == 0 {
				for _, text := range snap.ReadBuffer {
					fmt.Fprintf(s.rl.Stdout(), "  %s\n", text)
				}
			}
		}
	}
}

func printSnapshot(w io.Writer, snap tagsession.Snapshot) {
	fmt.Fprintf(w, "State:    %s\n", snap.State)
	fmt.Fprintf(w, "Mode:     %s\n", snap.Mode)
	if snap.Tag != nil {
		fmt.Fprintf(w, "Tag:      %s %s (%s)\n", snap.Tag.UID, snap.Tag.Type, snap.Capability)
	}
	fmt.Fprintf(w, "Payload:  %q\n", snap.PendingWritePayload)
	fmt.Fprintf(w, "Buffer:   %d item(s)\n", len(snap.ReadBuffer))
	if snap.LastError != 0 {
		fmt.Fprintf(w, "Error:    %s: %s\n", snap.LastError, snap.LastErrorMessage)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
NFC Agent Commands:
  Sessions:
    read               - Scan a tag and add its text records to the buffer
    write [text]       - Write the pending payload (or text) to a tag
    cancel             - Cancel the session in progress

  State:
    payload <text>     - Set the pending write payload
    clear              - Empty the read buffer
    buffer             - Show the read buffer
    status             - Show the session state

  Simulated radio:
    tags               - List simulated tags
    tap <uid...>       - Place tags on the reader
    lift [uid...]      - Take tags off the reader (all when none given)

  General:
    help               - Show this help
    quit               - Exit`)
}
