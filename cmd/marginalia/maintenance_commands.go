package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"marginalia/internal/notifications"
)

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run the stuck-session recovery sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Recover(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			switch result.Recovered {
			case 0:
				fmt.Fprintln(out, "No stuck sessions to recover")
			case 1:
				fmt.Fprintln(out, "Scheduled 1 session for reprocessing")
			default:
				fmt.Fprintf(out, "Scheduled %d sessions for reprocessing\n", result.Recovered)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newPackCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var bookID string
	var budget int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Preview the synthesis context packed for a book",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID = strings.TrimSpace(userID)
			bookID = strings.TrimSpace(bookID)
			if userID == "" || bookID == "" {
				return fmt.Errorf("--user and --book are required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			packed, err := client.Pack(cmd.Context(), userID, bookID, budget)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, packed.Context)
			}
			summary := packed.Context.Summary
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, packed.Rendered)
			fmt.Fprintf(out, "\n%d/%d tokens, %d of %d notes, %d redactions (%s)\n",
				summary.TokensUsed, summary.Budget,
				summary.NotesIncluded, summary.NotesConsidered,
				summary.Redactions, summary.Strategy,
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the book")
	cmd.Flags().StringVarP(&bookID, "book", "b", "", "Book to pack context for")
	cmd.Flags().IntVar(&budget, "budget", 0, "Token budget (defaults to context.token_budget)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the structured context as JSON")
	return cmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			svc := notifications.NewService(cfg)
			if !svc.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "Notifications are not configured (set notifications.ntfy_topic)")
				return nil
			}
			if err := svc.Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
