package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lamim/previz/internal/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath  string
	envFile     string
	verbose     bool
	metricsAddr string
	noBar       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "previz",
		Short: "previz - cube-map world previsualization",
		Long: `previz turns a text prompt into a six-face cube-map world by driving an
asynchronous image-generation API, and extends generated worlds with
additional views in arbitrary directions.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file (defaults apply when missing)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	worldCmd := &cobra.Command{
		Use:   "world <prompt>",
		Short: "Generate a full cube-map world",
		Long: `Generate all six faces of a world (front, back, left, right, up, down)
in the configured batch groups and save the assembled world to a new session.`,
		Args: cobra.ExactArgs(1),
		RunE: runWorld,
	}

	previewCmd := &cobra.Command{
		Use:   "preview <prompt>",
		Short: "Generate a single front-facing preview image",
		Args:  cobra.ExactArgs(1),
		RunE:  runPreview,
	}

	exploreCmd := &cobra.Command{
		Use:   "explore <session> <direction>",
		Short: "Generate an additional view of a saved world",
		Long: `Generate one more view of the world stored in a session. Any heading is
accepted, e.g. "north-east" or "behind the lighthouse". The view is appended
to the session's exploration log; the saved world is not modified.`,
		Args: cobra.ExactArgs(2),
		RunE: runExplore,
	}

	for _, cmd := range []*cobra.Command{worldCmd, previewCmd, exploreCmd} {
		cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
		cmd.Flags().BoolVar(&noBar, "no-progress-bar", false, "Log progress lines instead of drawing a bar")
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect saved sessions",
	}

	sessionsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions in the output directory",
		Args:  cobra.NoArgs,
		RunE:  listSessions,
	}

	sessionsInspectCmd := &cobra.Command{
		Use:   "inspect <session>",
		Short: "Show the world and explorations of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSession,
	}

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsInspectCmd)

	jobsCmd := &cobra.Command{
		Use:   "jobs <session>",
		Short: "Show the provider jobs recorded for a session",
		Long: `Show every provider job submitted during a session, including jobs whose
results were discarded because their batch failed.`,
		Args: cobra.ExactArgs(1),
		RunE: listJobs,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Print a commented configuration template",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.GetDefaultConfigTemplate())
		},
	}
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(worldCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to defaults only when
// the default path does not exist
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Secrets, bool, error) {
	cfg, secrets, err := config.Load(configPath)
	if err == nil {
		return cfg, secrets, true, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		secrets, serr := config.LoadSecrets()
		if serr != nil {
			return nil, nil, false, serr
		}
		return config.Default(), secrets, false, nil
	}
	return nil, nil, false, fmt.Errorf("failed to load configuration: %w", err)
}
