package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamim/previz/internal/config"
	"github.com/lamim/previz/internal/jobs"
	"github.com/lamim/previz/internal/metrics"
	"github.com/lamim/previz/internal/orchestrator"
	"github.com/lamim/previz/internal/progress"
	"github.com/lamim/previz/internal/provider"
	"github.com/lamim/previz/internal/writer"
	"github.com/lamim/previz/pkg/models"
)

// runtime bundles everything a generating command needs for one session
type runtime struct {
	cfg      *config.Config
	session  *writer.SessionManager
	store    *writer.WorldStore
	logger   *slog.Logger
	logFile  *os.File
	registry *jobs.Registry
	orch     *orchestrator.Orchestrator
}

// setup prepares a session, logging, metrics and the orchestrator. An empty
// sessionName creates a new session; otherwise the named one is reopened and
// its job ledger extended.
func setup(cmd *cobra.Command, sessionName string) (*runtime, error) {
	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
	}

	cfg, secrets, fromFile, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if secrets.APIKey == "" {
		return nil, fmt.Errorf("no API key: set PREVIZ_API_KEY or REPLICATE_API_TOKEN")
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	var sessionMgr *writer.SessionManager
	if sessionName == "" {
		sessionMgr, err = writer.NewSessionManager(cfg.Output.Dir, slog.Default())
	} else {
		sessionMgr, err = writer.OpenSessionManager(cfg.Output.Dir, sessionName, slog.Default())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, os.Stderr, logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	logger.Info("previz starting",
		"version", Version,
		"config", configPath,
		"session_dir", sessionMgr.GetSessionDir())

	if fromFile && sessionName == "" {
		if err := sessionMgr.BackupConfig(configPath); err != nil {
			_ = logFile.Close()
			return nil, fmt.Errorf("failed to backup config: %w", err)
		}
	}

	collector := metrics.NewCollector(logger)
	addr := cfg.Metrics.Addr
	if metricsAddr != "" {
		addr = metricsAddr
	}
	if addr != "" {
		go func() {
			if err := collector.Serve(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	registry, err := openRegistry(sessionMgr, logger)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}

	client := provider.NewHTTPClient(provider.ClientOptions{
		BaseURL:             cfg.Provider.BaseURL,
		APIKey:              secrets.APIKey,
		Timeout:             cfg.HTTPTimeout(),
		SubmitRatePerMinute: cfg.Provider.SubmitRateLimitPerMinute,
		StatusRatePerMinute: cfg.Provider.StatusRateLimitPerMinute,
		Logger:              logger,
		Metrics:             collector,
	})

	return &runtime{
		cfg:      cfg,
		session:  sessionMgr,
		store:    writer.NewWorldStore(sessionMgr, logger),
		logger:   logger,
		logFile:  logFile,
		registry: registry,
		orch:     orchestrator.New(cfg, client, registry, logger, collector),
	}, nil
}

// openRegistry continues an existing job ledger so earlier jobs are kept
func openRegistry(sessionMgr *writer.SessionManager, logger *slog.Logger) (*jobs.Registry, error) {
	opts := jobs.Options{Dir: sessionMgr.GetSessionDir(), SessionID: sessionMgr.Name()}
	ledger, err := jobs.Load(sessionMgr.GetSessionDir(), logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return jobs.NewRegistry(opts, logger), nil
		}
		return nil, fmt.Errorf("failed to load job ledger: %w", err)
	}
	return jobs.NewRegistryFromLedger(opts, ledger, logger), nil
}

func (rt *runtime) close() {
	if err := rt.registry.Close(); err != nil {
		rt.logger.Error("Failed to save job ledger", "error", err)
	}
	stats := rt.orch.GetStats()
	rt.logger.Info("Session summary",
		"successful", stats.SuccessCount,
		"failed", stats.FailureCount,
		"duration", stats.EndTime.Sub(stats.StartTime).Round(time.Second),
		"session_dir", rt.session.GetSessionDir())
	if rt.logFile != nil {
		_ = rt.logFile.Sync()
		_ = rt.logFile.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runWorld(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, "")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	sink := newProgressSink(cmd.OutOrStdout(), "world", rt.logger)
	w, err := rt.orch.GenerateWorld(ctx, args[0], sink.fn)
	sink.finish(err == nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("generation interrupted")
		}
		return fmt.Errorf("world generation failed: %w", err)
	}

	if err := rt.store.SaveWorld(w); err != nil {
		return fmt.Errorf("failed to save world: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderViews(w, nil))
	fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n", rt.session.Name())
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, "")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	sink := newProgressSink(cmd.OutOrStdout(), "preview", rt.logger)
	asset, err := rt.orch.GeneratePreview(ctx, args[0], sink.fn)
	sink.finish(err == nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("preview interrupted")
		}
		return fmt.Errorf("preview failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), asset)
	return nil
}

func runExplore(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, args[0])
	if err != nil {
		return err
	}
	defer rt.close()

	w, err := rt.store.LoadWorld()
	if err != nil {
		return fmt.Errorf("session has no world: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	sink := newProgressSink(cmd.OutOrStdout(), "explore", rt.logger)
	view, err := rt.orch.ExploreDirection(ctx, w, models.Direction(args[1]), sink.fn)
	sink.finish(err == nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("exploration interrupted")
		}
		return fmt.Errorf("exploration failed: %w", err)
	}

	if err := rt.store.AppendExploration(w.ID, view); err != nil {
		return fmt.Errorf("failed to record exploration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", view.Direction, view.Asset)
	return nil
}

// progressSink draws a bar on terminals and logs sampled lines elsewhere
type progressSink struct {
	fn  progress.Func
	bar *progress.BarSink
	out io.Writer
}

func newProgressSink(out io.Writer, label string, logger *slog.Logger) *progressSink {
	sink := &progressSink{out: out}
	if !noBar && isTerminal(out) {
		sink.bar = progress.NewBarSink(out, label)
		sink.fn = sink.bar.Func()
		return sink
	}
	sink.fn = progress.LogFunc(logger.With("operation", label), progress.NewSampler(10))
	return sink
}

func (s *progressSink) finish(ok bool) {
	if s.bar == nil {
		return
	}
	if ok {
		s.bar.Finish()
	}
	fmt.Fprintln(s.out)
}
