package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convpool/internal/systemd"
)

var (
	initDir            string
	initInstallSystemd bool
	initForce          bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initDir, "dir", "deploy", "Directory to write the deployment templates into")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install the units under /etc/systemd/system (requires root)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write deployment templates for the coordinator and workers",
	Long: `Writes systemd units and environment files for the convpool coordinator
and convnode workers.

Default:               writes templates into --dir for review
With --install-systemd: installs the units into /etc/systemd/system and
                        the environment files into /etc/convpool (root)`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	unitDir, envDir := initDir, initDir
	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}
		unitDir = "/etc/systemd/system"
		envDir = "/etc/convpool"
	}

	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(unitDir, "convpool.service"), systemd.CoordinatorUnit()},
		{filepath.Join(unitDir, "convnode.service"), systemd.WorkerUnit()},
		{filepath.Join(envDir, "coordinator.env"), systemd.CoordinatorEnvFile()},
		{filepath.Join(envDir, "worker.env"), systemd.WorkerEnvFile()},
	}

	var created []string
	for _, f := range files {
		wrote, err := writeIfMissing(f.path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, f.path)
		}
	}

	if initInstallSystemd {
		if err := systemd.RecordUnitFileHash(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: record unit hash: %v\n", err)
		}
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	fmt.Println("convpool init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
	}
	fmt.Println()
	fmt.Println("Edit the environment files, then:")
	if initInstallSystemd {
		fmt.Println("  sudo systemctl enable --now convpool")
		fmt.Println("  sudo systemctl enable --now convnode   (on each worker host)")
	} else {
		fmt.Printf("  review %s and re-run with --install-systemd\n", initDir)
	}
	return nil
}

// writeIfMissing writes content to path unless it already exists and
// --force is not set. Reports whether the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
