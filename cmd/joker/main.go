package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Quertz/joker/internal/config"
	"github.com/Quertz/joker/internal/content"
	"github.com/Quertz/joker/internal/health"
	"github.com/Quertz/joker/internal/httputil"
	"github.com/Quertz/joker/internal/logging"
	"github.com/Quertz/joker/internal/metrics"
	"github.com/Quertz/joker/internal/server"
	"github.com/Quertz/joker/internal/updater"
)

var (
	version      = "2.1.0"
	cfgFile      string
	outputFormat string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "joker",
	Short: "Joker joke API",
	Long:  `Joker - a small HTTP API serving random jokes that keeps itself up to date from git`,
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"run"},
	Short:   "Start the API server and the auto-updater",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Joker v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the auto-update status of a running server",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the local revision with the tracked branch, without applying",
	Run: func(cmd *cobra.Command, args []string) {
		checkForUpdate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/joker/joker.yaml or ./joker.yaml)")
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config, exiting on fatal problems.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Fatals {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
	}
	if result.HasFatals() {
		os.Exit(1)
	}
	for _, w := range result.Warnings {
		log.Warn("config adjusted", logging.KeyError, w)
	}
	return cfg
}

func jokesDir(cfg *config.Config) string {
	if filepath.IsAbs(cfg.JokesDir) {
		return cfg.JokesDir
	}
	return filepath.Join(cfg.RepoDir, cfg.JokesDir)
}

func runServer() {
	cfg := loadConfig()

	output, rotator, err := logging.OpenOutput(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	if rotator != nil {
		defer rotator.Close()
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)

	m := metrics.New(prometheus.NewRegistry())
	logging.SetObserver(m)
	monitor := health.NewMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := content.NewStore(jokesDir(cfg), cfg.Languages, cfg.Categories, m)
	if err := store.Preload(ctx); err != nil {
		log.Warn("preloading jokes failed", logging.KeyError, err)
	}
	go func() {
		if err := store.Watch(ctx); err != nil {
			log.Warn("joke file watcher stopped", logging.KeyError, err)
		}
	}()

	upd, err := newUpdater(ctx, cfg, m, monitor)
	if err != nil {
		log.Error("failed to configure auto-updater", logging.KeyError, err)
		os.Exit(1)
	}

	srv, err := server.New(server.Options{
		Config:  cfg,
		Store:   store,
		Health:  monitor,
		Updater: upd,
		Metrics: m,
		Version: version,
	})
	if err != nil {
		log.Error("failed to build server", logging.KeyError, err)
		os.Exit(1)
	}

	log.Info("starting Joker", "version", version, "addr", cfg.Addr(), "autoUpdate", cfg.AutoUpdateEnabled)
	upd.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	exitCode := 0
	for running := true; running; {
		select {
		case sig := <-sigChan:
			if isReopenSignal(sig) {
				if rotator != nil {
					if err := rotator.Reopen(); err != nil {
						log.Error("failed to reopen log file", logging.KeyError, err)
					}
				}
				continue
			}
			log.Info("shutting down", "signal", sig.String())
			running = false
		case err := <-errCh:
			if err != nil {
				log.Error("server stopped", logging.KeyError, err)
				exitCode = 1
			}
			errCh = nil
			running = false
		}
	}

	upd.Stop()
	cancel()
	if errCh != nil {
		if err := <-errCh; err != nil {
			log.Error("server shutdown failed", logging.KeyError, err)
			exitCode = 1
		}
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func newUpdater(ctx context.Context, cfg *config.Config, m *metrics.Metrics, monitor *health.Monitor) (*updater.Updater, error) {
	vcs := updater.NewGit(cfg.RepoDir, cfg.GitRemote)

	reconciler, err := updater.NewCommandReconciler(cfg.RepoDir, cfg.ReconcileCommands)
	if err != nil {
		return nil, fmt.Errorf("reconcile commands: %w", err)
	}

	supervisor, err := updater.NewSupervisor(updater.SupervisorConfig{
		Mode:          cfg.RestartMode,
		ReloadCommand: cfg.ReloadCommand,
		ReloadSignal:  cfg.ReloadSignal,
		Dir:           cfg.RepoDir,
	})
	if err != nil {
		return nil, err
	}

	return updater.New(ctx, updater.Config{
		Enabled:       cfg.AutoUpdateEnabled,
		Branch:        cfg.GitBranch,
		CheckInterval: cfg.CheckInterval(),
	}, vcs, reconciler, supervisor,
		updater.WithObserver(m),
		updater.WithHealth(monitor),
	), nil
}

// statusResponse mirrors the /update-status body.
type statusResponse struct {
	Success    bool            `json:"success" yaml:"success"`
	Message    string          `json:"message,omitempty" yaml:"message,omitempty"`
	AutoUpdate *updater.Status `json:"auto_update,omitempty" yaml:"auto_update,omitempty"`
	Timestamp  string          `json:"timestamp" yaml:"timestamp"`
}

func checkStatus() {
	cfg := loadConfig()

	host := cfg.Host
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)) + "/update-status"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := httputil.Get(ctx, client, url, nil, httputil.DefaultRetryConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach server at %s: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Server returned %s\n", resp.Status)
		os.Exit(1)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}

	if err := printStatus(os.Stdout, status, outputFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printStatus(w io.Writer, status statusResponse, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(status)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if !status.Success || status.AutoUpdate == nil {
		fmt.Fprintf(w, "Auto-update: unavailable (%s)\n", status.Message)
		return nil
	}
	s := status.AutoUpdate
	commit, lastCheck := "unknown", "never"
	if s.CurrentCommit != nil {
		commit = *s.CurrentCommit
	}
	if s.LastCheck != nil {
		lastCheck = s.LastCheck.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "Enabled:        %t\n", s.Enabled)
	fmt.Fprintf(w, "Running:        %t\n", s.Running)
	fmt.Fprintf(w, "Branch:         %s\n", s.Branch)
	fmt.Fprintf(w, "Current commit: %s\n", commit)
	fmt.Fprintf(w, "Last check:     %s\n", lastCheck)
	fmt.Fprintf(w, "Check interval: %gh\n", s.CheckIntervalHours)
	fmt.Fprintf(w, "Restart mode:   %s\n", s.RestartMode)
	return nil
}

func checkForUpdate() {
	cfg := loadConfig()
	ctx := context.Background()

	vcs := updater.NewGit(cfg.RepoDir, cfg.GitRemote)
	if !vcs.IsWorkingCopy(ctx) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cfg.RepoDir, updater.ErrNotWorkingCopy)
		os.Exit(1)
	}

	probe := updater.NewProbe(vcs)
	local, err := probe.LocalRevision(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve local revision: %v\n", err)
		os.Exit(1)
	}
	remote, err := probe.RemoteRevision(ctx, cfg.GitBranch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve %s/%s: %v\n", cfg.GitRemote, cfg.GitBranch, err)
		os.Exit(1)
	}

	fmt.Printf("Local:  %s\n", local.Short())
	fmt.Printf("Remote: %s (%s/%s)\n", remote.Short(), cfg.GitRemote, cfg.GitBranch)
	if updater.UpdateAvailable(local, remote) {
		fmt.Println("Update available.")
		return
	}
	fmt.Println("Up to date.")
}
