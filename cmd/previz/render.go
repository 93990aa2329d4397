package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lamim/previz/internal/jobs"
	"github.com/lamim/previz/internal/writer"
	"github.com/lamim/previz/pkg/models"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderViews lists the cube faces in canonical order followed by explorations
func renderViews(w *models.GeneratedWorld, explorations []writer.Exploration) string {
	var rows [][]string
	for _, d := range models.CanonicalDirections {
		if v, ok := w.View(d); ok {
			rows = append(rows, viewRow("face", v))
		}
	}
	for _, e := range explorations {
		rows = append(rows, viewRow("explored", e.View))
	}
	return renderTable(
		[]string{"KIND", "DIRECTION", "POSITION", "ASSET"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func viewRow(kind string, v models.DirectionalView) []string {
	return []string{
		kind,
		string(v.Direction),
		fmt.Sprintf("(%.2f, %.2f, %.2f)", v.Position.X, v.Position.Y, v.Position.Z),
		v.Asset,
	}
}

func outputDir(cmd *cobra.Command) (string, error) {
	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
	}
	cfg, _, _, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.Output.Dir, nil
}

// listSessions lists all sessions in the output directory
func listSessions(cmd *cobra.Command, args []string) error {
	dir, err := outputDir(cmd)
	if err != nil {
		return err
	}
	sessions, err := writer.ListSessions(dir)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found. Run `previz world` first.")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		hasWorld := "No"
		if s.HasWorld {
			hasWorld = "Yes"
		}
		rows = append(rows, []string{s.Name, hasWorld, s.ModTime.Format("2006-01-02 15:04:05")})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"SESSION", "WORLD", "MODIFIED"}, rows, nil))
	return nil
}

// inspectSession displays the world and explorations stored in a session
func inspectSession(cmd *cobra.Command, args []string) error {
	dir, err := outputDir(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session, err := writer.OpenSessionManager(dir, args[0], logger)
	if err != nil {
		return err
	}
	store := writer.NewWorldStore(session, logger)

	w, err := store.LoadWorld()
	if err != nil {
		return fmt.Errorf("session has no world: %w", err)
	}
	explorations, err := store.LoadExplorations()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "World:    %s\n", w.ID)
	fmt.Fprintf(out, "Prompt:   %s\n", w.Prompt)
	fmt.Fprintf(out, "Created:  %s\n", w.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, renderViews(w, explorations))
	return nil
}

// listJobs displays the job ledger of a session
func listJobs(cmd *cobra.Command, args []string) error {
	dir, err := outputDir(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session, err := writer.OpenSessionManager(dir, args[0], logger)
	if err != nil {
		return err
	}
	ledger, err := jobs.Load(session.GetSessionDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to load job ledger: %w", err)
	}

	rows := make([][]string, 0, len(ledger.Jobs))
	for _, j := range ledger.Jobs {
		rows = append(rows, []string{
			j.ID,
			j.Direction,
			string(j.Status),
			j.UpdatedAt.Sub(j.CreatedAt).Round(time.Second).String(),
			j.Error,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable(
		[]string{"JOB", "DIRECTION", "STATUS", "DURATION", "ERROR"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))

	counts := ledger.CountByStatus()
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	summary := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		summary = append(summary, []string{s, strconv.Itoa(counts[models.JobStatus(s)])})
	}
	fmt.Fprintln(out, renderTable([]string{"STATUS", "COUNT"}, summary, []columnAlignment{alignLeft, alignRight}))
	return nil
}
