package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"wraith/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Long:  "Writes the default configuration to path, or to ~/.config/wraith/config.yaml when no path is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		if cfgSource == "" {
			cmd.Println("no config file found, using built-in defaults")
			return
		}
		cmd.Println(cfgSource)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		p, err := config.DefaultUserConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if !configForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := config.Save(path, config.Default()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	cmd.Printf("Wrote default configuration to %s\n", path)
	return nil
}
