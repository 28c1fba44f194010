package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wraith/internal/metrics"
	"wraith/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query and ingest API over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(false)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	query, err := a.queryService()
	if err != nil {
		return err
	}
	ingest, err := a.ingestService()
	if err != nil {
		return err
	}
	metrics.Register()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	logger.Info("starting wraith", zap.String("version", version), zap.String("vector_store", cfg.VectorStore.Type))
	srv := server.New(query, ingest, a.store, cfg.Chunker.ChunkSize, logger)
	return srv.ListenAndServe(cmd.Context(), addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
}
