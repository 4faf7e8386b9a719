package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semfs/semfs/internal/config"
)

var configureRoot string

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	RunE:  runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureRoot, "root", "", "directory to watch and organize")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if configureRoot != "" {
		cfg.ManagedRoot = configureRoot
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}

	fmt.Println("Configuration written:")
	fmt.Println(cfg.String())
	return nil
}
