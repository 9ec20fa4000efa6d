package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"marginalia/internal/api"
	"marginalia/internal/listening"
	"marginalia/internal/logging"
	"marginalia/internal/store"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and manage listening sessions",
	}
	sessionsCmd.AddCommand(newSessionsListCommand(ctx))
	sessionsCmd.AddCommand(newSessionsShowCommand(ctx))
	sessionsCmd.AddCommand(newSessionsStuckCommand(ctx))
	sessionsCmd.AddCommand(newSessionsFailCommand(ctx))
	return sessionsCmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				sessions, err := st.ListSessions(cmd.Context(), limit, statuses...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, api.FromSessions(sessions))
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions found")
					return nil
				}
				fmt.Fprintln(out, renderSessionTable(sessions, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum sessions to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func parseStatuses(values []string) ([]listening.Status, error) {
	statuses := make([]listening.Status, 0, len(values))
	for _, raw := range values {
		status, ok := listening.ParseStatus(strings.ToLower(strings.TrimSpace(raw)))
		if !ok {
			return nil, fmt.Errorf("unknown status %q", raw)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func renderSessionTable(sessions []*listening.Session, colorize bool) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.UserID,
			s.BookID,
			renderSessionStatus(s.Status, colorize),
			strconv.Itoa(s.RetryCount),
			relativeTime(s.UpdatedAt),
			truncate(valueOrDash(s.LastError), 40),
		})
	}
	return renderTable(
		[]string{"ID", "User", "Book", "Status", "Retries", "Updated", "Last Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session with its transcript and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				detail, err := loadSessionDetail(cmd.Context(), st, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, detail)
				}
				out := cmd.OutOrStdout()
				for _, line := range sessionDetailLines(detail, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// sessionDetail is the operator view of one session. Unlike the client view
// it includes the owner.
type sessionDetail struct {
	Session    *listening.Session    `json:"session"`
	Transcript *listening.Transcript `json:"transcript,omitempty"`
	Artifacts  []listening.Artifact  `json:"artifacts"`
}

func loadSessionDetail(ctx context.Context, st *store.Store, id string) (sessionDetail, error) {
	session, err := st.GetSession(ctx, id)
	if err != nil {
		return sessionDetail{}, err
	}
	if session == nil {
		return sessionDetail{}, fmt.Errorf("session %s not found", id)
	}
	transcript, err := st.TranscriptForSession(ctx, id)
	if err != nil {
		return sessionDetail{}, err
	}
	artifacts, err := st.ArtifactsForSession(ctx, id)
	if err != nil {
		return sessionDetail{}, err
	}
	if artifacts == nil {
		artifacts = []listening.Artifact{}
	}
	return sessionDetail{Session: session.ClientView(), Transcript: transcript, Artifacts: artifacts}, nil
}

func sessionDetailLines(detail sessionDetail, colorize bool) []string {
	s := detail.Session
	lines := renderSectionHeader("Session "+s.ID, colorize)
	field := func(label, value string) {
		lines = append(lines, fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", value))
	}
	field("User", s.UserID)
	field("Book", s.BookID)
	field("Status", renderSessionStatus(s.Status, colorize))
	field("Started", fmt.Sprintf("%s (%s)", s.StartedAt.Format("2006-01-02 15:04:05"), relativeTime(s.StartedAt)))
	if s.EndedAt != nil {
		field("Ended", s.EndedAt.Format("2006-01-02 15:04:05"))
	}
	if s.DurationMs != nil {
		field("Duration", fmt.Sprintf("%.1fs", float64(*s.DurationMs)/1000))
	}
	field("Cap reached", yesNo(s.CapReached))
	field("Retries", strconv.Itoa(s.RetryCount))
	if s.FailedStage != "" {
		field("Failed stage", s.FailedStage)
	}
	if s.LastError != "" {
		field("Last error", s.LastError)
	}
	if s.TranscriptProvider != "" {
		field("Transcript provider", s.TranscriptProvider)
	}
	if s.TranscribeFallbackUsed != nil {
		field("Fallback used", yesNo(*s.TranscribeFallbackUsed))
	}
	if s.SynthesisProvider != "" {
		field("Synthesis provider", s.SynthesisProvider)
	}
	if s.DegradedMode != nil {
		field("Degraded mode", yesNo(*s.DegradedMode))
	}
	if s.EstimatedCostUSD != nil {
		field("Estimated cost", fmt.Sprintf("$%.4f", *s.EstimatedCostUSD))
	}
	if s.RawNoteID != "" {
		field("Raw note", s.RawNoteID)
	}
	if len(s.SynthesizedNoteIDs) > 0 {
		field("Synthesized notes", strings.Join(s.SynthesizedNoteIDs, ", "))
	}

	if detail.Transcript != nil {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Transcript", colorize)...)
		lines = append(lines, statusIndent+truncate(detail.Transcript.Content, 400))
	}
	if len(detail.Artifacts) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Artifacts", colorize)...)
		rows := make([][]string, 0, len(detail.Artifacts))
		for _, artifact := range detail.Artifacts {
			rows = append(rows, []string{string(artifact.Kind), truncate(artifact.Title, 40), truncate(artifact.Content, 60)})
		}
		lines = append(lines, renderTable([]string{"Kind", "Title", "Content"}, rows, nil))
	}
	return lines
}

func newSessionsStuckCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List processing sessions the recovery sweep would pick up",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			sessions, err := client.Stuck(cmd.Context(), all)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, sessions)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No stuck sessions")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					s.ID,
					s.BookID,
					renderSessionStatus(listening.Status(s.Status), colorize),
					strconv.Itoa(s.RetryCount),
					relativeTimestamp(s.UpdatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Book", "Status", "Retries", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include sessions that exhausted their retry budget")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newSessionsFailCommand(ctx *commandContext) *cobra.Command {
	var message string
	var stage string

	cmd := &cobra.Command{
		Use:   "fail <session-id>",
		Short: "Mark a session failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}
			id := strings.TrimSpace(args[0])
			return ctx.withStore(func(st *store.Store) error {
				existing, err := st.GetSession(cmd.Context(), id)
				if err != nil {
					return err
				}
				if existing == nil {
					return fmt.Errorf("session %s not found", id)
				}
				service := listening.NewService(st, listening.WithLogger(logging.NewNop()))
				session, err := service.Fail(cmd.Context(), listening.FailRequest{
					UserID:      existing.UserID,
					SessionID:   id,
					Message:     message,
					FailedStage: stage,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s marked failed (%s)\n", session.ID, valueOrDash(session.FailedStage))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Failure message recorded on the session")
	cmd.Flags().StringVar(&stage, "stage", "operator", "Failed stage label")
	return cmd
}
