package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convpool/internal/intake"
	"github.com/ppiankov/convpool/internal/server"
	"github.com/ppiankov/convpool/internal/systemd"
)

var (
	serveConfigPath string
	serveAddr       string
	serveIntake     string
	serveStaleness  time.Duration
	serveJournal    string
	serveHistoryDB  string
	serveLogFile    string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8000", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveIntake, "intake", "intake", "Intake directory watched for new files")
	serveCmd.Flags().DurationVar(&serveStaleness, "staleness", 60*time.Second, "Heartbeat age after which a worker's job is reclaimed")
	serveCmd.Flags().StringVar(&serveJournal, "journal", "", "Path to hash-chained dispatch journal (disabled when empty)")
	serveCmd.Flags().StringVar(&serveHistoryDB, "history-db", "", "Path to SQLite dispatch history (disabled when empty)")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Also append logs to this file")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator",
	Long: "Seeds the pending queue from the intake directory, watches it for new\n" +
		"files, and serves the worker-facing dispatch endpoints. Conversion\n" +
		"settings (FFMPEG_COMMAND, FILE_EXTENSION, COMPLETED_PATH, RSYNC_USER)\n" +
		"are read from the environment on every request.",
	RunE: runServe,
}

// serveConfig merges the optional config file with any flags the
// operator set; flags win.
func serveConfig(cmd *cobra.Command) (ServeConfig, error) {
	cfg, err := LoadServeConfig(serveConfigPath)
	if err != nil {
		return ServeConfig{}, err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = serveAddr
	}
	if cmd.Flags().Changed("intake") {
		cfg.Intake = serveIntake
	}
	if cmd.Flags().Changed("staleness") {
		cfg.Staleness = serveStaleness
	}
	if cmd.Flags().Changed("journal") {
		cfg.Journal = serveJournal
	}
	if cmd.Flags().Changed("history-db") {
		cfg.HistoryDB = serveHistoryDB
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = serveLogFile
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := serveConfig(cmd)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	var logFile *os.File
	if cfg.LogFile != "" {
		logFile, err = os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		out = io.MultiWriter(os.Stderr, logFile)
	}
	logger := log.New(out, "", log.LstdFlags)

	if warn := systemd.CheckUnitFileIntegrity(); warn != "" {
		logger.Printf("serve: warning: %s", warn)
	}

	srv, err := server.New(server.Config{
		Addr:          cfg.Addr,
		Staleness:     cfg.Staleness,
		JournalPath:   cfg.Journal,
		HistoryDBPath: cfg.HistoryDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	watcher, err := intake.New(cfg.Intake, srv.Registry().Enqueue, logger)
	if err != nil {
		return err
	}
	if err := watcher.EnsureDir(); err != nil {
		return err
	}
	if err := watcher.ScanExisting(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("serve: shutting down")
		cancel()
	}()

	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(ctx) }()

	// A dead intake watcher is fatal: a coordinator that stops noticing
	// new files must not keep serving.
	select {
	case err := <-watchErr:
		if err != nil {
			cancel()
			<-serveErr
			return fmt.Errorf("intake watcher: %w", err)
		}
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}
