package cli

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semfs/semfs/internal/config"
	"github.com/semfs/semfs/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running SemFS daemon",
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	lifecycle := daemon.NewLifecycleManager(cfg.DataDir)
	if !lifecycle.IsRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, err := lifecycle.GetPID()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon (pid %d): %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to daemon (pid %d)\n", pid)
	return nil
}
