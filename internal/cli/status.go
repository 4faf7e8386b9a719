package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semfs/semfs/internal/config"
	"github.com/semfs/semfs/internal/daemon"
	"github.com/semfs/semfs/pkg/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and registry status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	lifecycle := daemon.NewLifecycleManager(cfg.DataDir)
	if lifecycle.IsRunning() {
		pid, _ := lifecycle.GetPID()
		fmt.Printf("Daemon: running (pid %d)\n", pid)
	} else {
		fmt.Println("Daemon: not running")
	}
	fmt.Printf("Managed root: %s\n", cfg.ManagedRoot)
	fmt.Printf("Database: %s\n", cfg.DatabasePath)

	// Registry counts are available whether or not the daemon is up.
	reg, err := registry.New(registry.Config{DBPath: cfg.DatabasePath})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	stats, err := reg.Counts(cmd.Context())
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	fmt.Printf("Files registered: %d\n", stats.Files)
	fmt.Printf("Files embedded: %d\n", stats.Embedded)
	fmt.Printf("Clusters: %d\n", stats.Clusters)
	return nil
}
