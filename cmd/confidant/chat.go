package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ent0n29/confidant/internal/app"
	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/conversation"
)

var (
	userLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, out io.Writer) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	res, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = res.Cleanup() }()

	s := res.Controller.StartSession(ctx)
	fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("Talking with %s. /clear empties the view, /quit leaves.", res.Profile.Name)))
	printHistory(out, s.History)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          userLabel.Render("You: "),
		HistoryFile:     filepath.Join(os.TempDir(), ".confidant_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, noteStyle.Render("Goodbye."))
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			fmt.Fprintln(out, noteStyle.Render("Goodbye."))
			return nil
		case "/clear":
			res.Controller.Clear(s)
			fmt.Fprintln(out, noteStyle.Render("History cleared."))
			continue
		}

		if err := streamTurn(ctx, out, res.Controller, s, input); err != nil {
			fmt.Fprintln(out)
			fmt.Fprintln(out, noteStyle.Render("Reply interrupted."))
		}
	}
}

// streamTurn prints reply fragments as they arrive. Ctrl+C cancels the
// stream without leaving the chat.
func streamTurn(ctx context.Context, out io.Writer, c *conversation.Controller, s *conversation.Session, input string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprint(out, assistantLabel.Render("Confidant: "))
	printed := false
	err := c.Submit(turnCtx, s, input, func(snap conversation.Snapshot) error {
		if snap.Delta != "" {
			printed = true
			_, err := io.WriteString(out, snap.Delta)
			return err
		}
		// a failed turn records its error reply without streaming it
		if snap.Final && !printed && len(snap.History) > 0 {
			_, err := io.WriteString(out, snap.History[len(snap.History)-1].Assistant)
			return err
		}
		return nil
	})
	fmt.Fprintln(out)
	return err
}

func printHistory(out io.Writer, turns []chat.Turn) {
	for _, t := range turns {
		if !t.WellFormed() {
			continue
		}
		fmt.Fprintln(out, userLabel.Render("You: ")+t.User)
		fmt.Fprintln(out, assistantLabel.Render("Confidant: ")+t.Assistant)
	}
}
