package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semfs/semfs/internal/config"
	"github.com/semfs/semfs/internal/daemon"
	"github.com/semfs/semfs/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the SemFS daemon",
	Long: `Start the SemFS daemon in the foreground. The daemon scans the
managed root, watches it for changes, and keeps files organized into
semantic cluster folders until it receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  true,
		Pretty:   true,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer lg.Close()

	d, err := daemon.New(cfg, lg.GetZerolog())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
