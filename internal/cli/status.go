package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/convpool/internal/conv"
)

var statusAddr string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8000", "Coordinator base URL")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the coordinator's queue and conversion settings",
	Long: "Fetches the pending queue and the /info settings from a running\n" +
		"coordinator. When run on the coordinator host the queued files are\n" +
		"also sized from disk.",
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(statusAddr, "/")
	client := &http.Client{Timeout: 10 * time.Second}

	queue, err := fetchBody(client, base+"/")
	if err != nil {
		return fmt.Errorf("fetch queue: %w", err)
	}
	var pending []string
	for _, line := range strings.Split(queue, "\n") {
		if line != "" {
			pending = append(pending, line)
		}
	}

	fmt.Printf("Pending jobs: %d\n", len(pending))
	var total uint64
	var sized int
	for _, path := range pending {
		fmt.Printf("  %s", path)
		// Paths are local to the coordinator host; sizing only works
		// when status runs there.
		if info, err := os.Stat(path); err == nil {
			fmt.Printf("  (%s)", humanize.IBytes(uint64(info.Size())))
			total += uint64(info.Size())
			sized++
		}
		fmt.Println()
	}
	if sized > 0 {
		fmt.Printf("Queued on disk: %s\n", humanize.IBytes(total))
	}
	fmt.Println()

	info, err := fetchBody(client, base+"/info")
	if err != nil {
		fmt.Printf("Conversion settings unavailable: %v\n", err)
		return nil
	}
	settings, err := conv.ParseInfo(info)
	if err != nil {
		return err
	}
	fmt.Println("Conversion settings:")
	fmt.Printf("  command:    %s\n", settings.FFmpegCommand)
	fmt.Printf("  extension:  %s\n", settings.FileExtension)
	fmt.Printf("  completed:  %s\n", settings.CompletedPath)
	fmt.Printf("  rsync user: %s\n", settings.RsyncUser)
	return nil
}

func fetchBody(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
