// convnode — a conversion worker node.
//
// The agent registers with a convpool coordinator, heartbeats, and runs
// the transcoding pipeline for each pulled job: rsync the input in, run
// the converter, rsync the output out, push. On a failed conversion it
// posts a failure report and exits 1; a supervisor restart gives it a
// fresh registration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convpool/internal/worker"
)

var (
	nodeJobsDir      string
	nodePingInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "convnode <coordinator-url>",
	Short: "Convpool conversion worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runNode,

	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&nodeJobsDir, "jobs-dir", "jobs", "Local staging directory for inputs and outputs")
	rootCmd.Flags().DurationVar(&nodePingInterval, "ping-interval", worker.DefaultPingInterval,
		"Heartbeat period; must stay below the coordinator's staleness bound")
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	agent, err := worker.New(args[0],
		worker.WithJobsDir(nodeJobsDir),
		worker.WithPingInterval(nodePingInterval),
		worker.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("convnode: shutting down")
		cancel()
	}()

	if err := agent.Run(ctx); err != nil {
		if errors.Is(err, worker.ErrFailureReported) {
			// The coordinator already re-queued the job; exit so the
			// supervisor restarts us with a fresh registration.
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
