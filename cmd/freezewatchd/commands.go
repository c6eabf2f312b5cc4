package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	rootpkg "tools.zach/dev/freezewatch"
	"tools.zach/dev/freezewatch/internal/collector"
	"tools.zach/dev/freezewatch/internal/config"
	"tools.zach/dev/freezewatch/internal/host"
	"tools.zach/dev/freezewatch/internal/logger"
	"tools.zach/dev/freezewatch/internal/paths"
)

// errReported marks failures already written to the log; main exits
// without printing them again.
var errReported = errors.New("see log for details")

// ///////////////////////////////////////////////
// Root Command
// ///////////////////////////////////////////////

func newRootCmd() *cobra.Command {
	var (
		dataDir    string
		foreground bool
		adminAddr  string
	)

	root := &cobra.Command{
		Use:   "freezewatchd",
		Short: "Collect and deliver freeze reports from monitored processes",
		Long: `freezewatchd accepts connections from processes running the freeze handler,
turns every freeze notification into a report in the spool, and delivers the
spool to the configured endpoint.`,
		Version:       resolveVersion(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var echo io.Writer
			if foreground {
				echo = cmd.ErrOrStderr()
			}
			return runDaemon(cmd.Context(), paths.DataDir{Root: dataDir}, echo, adminAddr)
		},
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", paths.DefaultDataDir().Root,
		"Data directory for config, spool, socket, and logs")
	root.Flags().BoolVar(&foreground, "foreground", false, "Also write log lines to stderr")
	root.Flags().StringVar(&adminAddr, "admin-addr", "",
		"Serve metrics and spool inspection over HTTP on this address (disabled when empty)")

	root.AddCommand(newTailCmd(&dataDir), newSpoolCmd(&dataDir))
	return root
}

// runDaemon is the root command: it holds the PID lock and serves until
// ctx is done or a shutdown signal arrives.
func runDaemon(ctx context.Context, dir paths.DataDir, echo io.Writer, adminAddr string) error {
	if err := os.MkdirAll(dir.Root, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pid, err := acquirePIDFile(dir)
	if err != nil {
		return err
	}
	defer pid.Release()

	if _, err := os.Stat(dir.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dir.Config(), rootpkg.DefaultConfigTOML, 0o600); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dir.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logger.NewLogger(logger.Options{
		Path:      dir.Log(),
		Level:     logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Echo:      echo,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("freezewatchd starting", "version", resolveVersion(), "data_dir", dir.Root)
	if cfg.Collector.Endpoint == "" {
		slog.Warn("no collector endpoint configured, reports stay in the spool")
	}

	d, err := newDaemon(dir, cfg)
	if err != nil {
		logger.Fail(log, "failed to start collector", "error", err)
		return errReported
	}

	addr := host.DefaultAddress(dir)
	ln, err := host.ListenCollector(addr)
	if err != nil {
		logger.Fail(log, "failed to listen", "address", addr, "error", err)
		return errReported
	}
	slog.Info("listening for monitored processes", "address", addr)

	var admin net.Listener
	if adminAddr != "" {
		admin, err = net.Listen("tcp", adminAddr)
		if err != nil {
			ln.Close()
			logger.Fail(log, "failed to listen for admin requests", "address", adminAddr, "error", err)
			return errReported
		}
	}

	ctx, stop := shutdownContext(ctx)
	defer stop()

	if err := d.run(ctx, ln, admin); err != nil {
		slog.Error("collector server stopped", "error", err)
	}
	slog.Info("freezewatchd stopped")
	return nil
}

// ///////////////////////////////////////////////
// tail
// ///////////////////////////////////////////////

func newTailCmd(dataDir *string) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the last lines of the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := logger.ReadTail(paths.DataDir{Root: *dataDir}.Log(), lines)
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to print")
	return cmd
}

// ///////////////////////////////////////////////
// spool
// ///////////////////////////////////////////////

func newSpoolCmd(dataDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Inspect undelivered freeze reports",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List spooled reports, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := paths.DataDir{Root: *dataDir}
			cfg, err := config.Load(dir.Root)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			spool, err := collector.NewSpool(dir.Spool(), cfg.Spool.MaxReports)
			if err != nil {
				return err
			}
			sums, err := spool.Summaries()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sums)
			}
			return renderSummaries(cmd.OutOrStdout(), sums, cfg.ShouldNotify)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	show := &cobra.Command{
		Use:   "show FILE",
		Short: "Print one spooled report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := paths.DataDir{Root: *dataDir}
			spool, err := collector.NewSpool(dir.Spool(), config.DefaultConfig().Spool.MaxReports)
			if err != nil {
				return err
			}
			e, err := spool.Load(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(e)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// renderSummaries writes sums as a table. The last column says whether the
// report's release stage is delivered.
func renderSummaries(w io.Writer, sums []collector.Summary, shouldNotify func(string) bool) error {
	if len(sums) == 0 {
		_, err := fmt.Fprintln(w, "spool is empty")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("File", "Time", "App", "Version", "Stage", "Delivery")
	for _, s := range sums {
		if s.Err != "" {
			table.Append([]string{s.File, "-", "-", "-", "-", "unreadable"})
			continue
		}
		delivery := "pending"
		if !shouldNotify(s.ReleaseStage) {
			delivery = "held"
		}
		table.Append([]string{
			s.File,
			s.Time.Local().Format("2006-01-02 15:04:05"),
			s.App,
			s.Version,
			s.ReleaseStage,
			delivery,
		})
	}
	return table.Render()
}
