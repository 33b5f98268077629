package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ent0n29/confidant/internal/transcript"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		show  string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored transcripts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := transcript.NewBackend(cmd.Context(), transcript.BackendConfig{
				Kind:        cfg.TranscriptBackend,
				Dir:         cfg.ConversationDir,
				DatabaseURL: cfg.DatabaseURL,
				RedisURL:    cfg.RedisURL,
				SQLitePath:  cfg.SQLitePath,
			})
			if err != nil {
				return fmt.Errorf("transcript backend init failed: %w", err)
			}
			store := transcript.NewStore(backend, transcript.Options{Logger: logger})
			defer store.Close()

			out := cmd.OutOrStdout()
			if show != "" {
				turns, err := store.Get(cmd.Context(), show)
				if err != nil {
					return err
				}
				printHistory(out, turns)
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("KEY", "MODIFIED")
			for _, info := range store.Recent(cmd.Context(), limit) {
				t.Row(info.Key, info.ModifiedAt.Local().Format("2006-01-02 15:04:05"))
			}
			_, err = fmt.Fprintln(out, t.Render())
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 30, "number of transcripts to list (0 lists all)")
	cmd.Flags().StringVar(&show, "show", "", "print the transcript with this key")
	return cmd
}
