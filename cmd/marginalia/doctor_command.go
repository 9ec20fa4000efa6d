package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"marginalia/internal/preflight"
	"marginalia/internal/store"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, providers, database, and daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			problems := 0

			printLines(out, renderSectionHeader("Preflight", colorize))
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					problems++
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			fmt.Fprintln(out)
			printLines(out, renderSectionHeader("Database", colorize))
			err = ctx.withStore(func(st *store.Store) error {
				health, err := st.CheckHealth(cmd.Context())
				lines, failed := databaseLines(health, err, colorize)
				problems += failed
				printLines(out, lines)
				return nil
			})
			if err != nil {
				problems++
				fmt.Fprintln(out, renderStatusLine("Database", statusError, err.Error(), colorize))
			}

			fmt.Fprintln(out)
			printLines(out, renderSectionHeader("Daemon", colorize))
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			switch {
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("API", statusWarn, err.Error(), colorize))
			case health.Status != "ok":
				problems++
				fmt.Fprintln(out, renderStatusLine("API", statusError, health.Status, colorize))
			default:
				fmt.Fprintln(out, renderStatusLine("API", statusOK, client.baseURL, colorize))
				fmt.Fprintln(out, renderStatusLine("Sessions", statusInfo, formatSessionCounts(health.Sessions), colorize))
				staleKind := statusOK
				if health.Stale > 0 {
					staleKind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Stale", staleKind, fmt.Sprintf("%d", health.Stale), colorize))
			}

			if problems > 0 {
				return fmt.Errorf("doctor found %d problem(s)", problems)
			}
			return nil
		},
	}
}

func databaseLines(health store.DatabaseHealth, err error, colorize bool) ([]string, int) {
	var lines []string
	problems := 0
	add := func(label string, kind statusKind, message string) {
		if kind == statusError {
			problems++
		}
		lines = append(lines, renderStatusLine(label, kind, message, colorize))
	}

	add("Path", statusInfo, health.DBPath)
	if err != nil {
		add("Health", statusError, err.Error())
		return lines, problems
	}
	if !health.DatabaseExists {
		add("Exists", statusWarn, "not created yet")
		return lines, problems
	}
	add("Readable", boolKind(health.DatabaseReadable), yesNo(health.DatabaseReadable))
	add("Schema version", statusInfo, fmt.Sprintf("%d", health.SchemaVersion))
	if len(health.MissingTables) > 0 {
		add("Tables", statusError, "missing "+strings.Join(health.MissingTables, ", "))
	} else {
		add("Tables", statusOK, "")
	}
	add("Integrity", boolKind(health.IntegrityCheck), yesNo(health.IntegrityCheck))
	add("Sessions", statusInfo, fmt.Sprintf("%d", health.TotalSessions))
	return lines, problems
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func formatSessionCounts(counts map[string]int) string {
	order := []string{"total", "active", "processing", "complete", "failed"}
	parts := make([]string, 0, len(order))
	for _, key := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", key, counts[key]))
	}
	return strings.Join(parts, " ")
}

func printLines(out io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}
