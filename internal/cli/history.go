package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/convpool/internal/store"
)

var (
	historyDBPath string
	historyLimit  int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDBPath, "db", "history.db", "Path to the dispatch history database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of recent jobs to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List settled jobs from the dispatch history",
	Long: "Reads the SQLite history written by serve --history-db and prints the\n" +
		"most recently settled jobs with their outcome.",
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := store.Open(historyDBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	counts, err := s.Counts()
	if err != nil {
		return err
	}
	fmt.Printf("Settled: %d completed, %d requeued, %d failed\n\n",
		counts[store.OutcomeCompleted], counts[store.OutcomeRequeued], counts[store.OutcomeFailed])

	jobs, err := s.Recent(historyLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No settled jobs yet.")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%-10s %-14s %s  worker %s\n",
			j.Outcome, humanize.Time(j.SettledAt), j.Path, j.Worker)
	}
	return nil
}
