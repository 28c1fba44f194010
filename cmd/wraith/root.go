package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wraith/internal/config"
	"wraith/internal/logger"
)

var (
	cfgPath  string
	logLevel string

	cfg       *config.AppConfig
	cfgSource string
)

var rootCmd = &cobra.Command{
	Use:   "wraith",
	Short: "Ask questions about your documents",
	Long: `wraith ingests PDF, text and markdown files into a vector store and
answers questions about them with a language model grounded on the most
similar passages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		loaded, path, err := config.LoadDefault(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		cfg, cfgSource = loaded, path
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (default ./config.yaml or ~/.config/wraith/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
}

// newLogger builds the command logger. Interactive commands log to a file so
// the terminal UI is not overwritten.
func newLogger(interactive bool) (*zap.Logger, error) {
	file := cfg.Logging.File
	if interactive && file == "" {
		file = logger.DefaultFile()
	}
	l, err := logger.New(cfg.Logging.Env, cfg.Logging.Level, file)
	if err != nil {
		return nil, err
	}
	source := cfgSource
	if source == "" {
		source = "built-in defaults"
	}
	l.Debug("config loaded", zap.String("source", source))
	return l, nil
}
