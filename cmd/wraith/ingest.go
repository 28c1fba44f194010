package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"wraith/internal/service"
	"wraith/internal/tui"
)

var (
	ingestPlain     bool
	ingestChunkSize int
	ingestWorkers   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a file or directory into the vector store",
	Long: `Extracts text from PDF, text and markdown files, splits it into
chunks, embeds every chunk and stores it. Directories are walked
recursively; hidden directories are skipped. Without a path the
interactive view asks for one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestPlain, "plain", false, "print progress lines instead of the interactive view")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", 0, "chunk size in characters (default from config)")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "files processed concurrently (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	if ingestPlain && path == "" {
		return errors.New("a path is required with --plain")
	}
	chunkSize := cfg.Chunker.ChunkSize
	if ingestChunkSize != 0 {
		chunkSize = ingestChunkSize
	}

	logger, err := newLogger(!ingestPlain)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	run := func(ctx context.Context, path string, progress func(service.IngestEvent)) (service.IngestReport, error) {
		opts := []service.IngestOption{service.WithProgress(progress)}
		if ingestWorkers > 0 {
			opts = append(opts, service.WithWorkers(ingestWorkers))
		}
		svc, err := a.ingestService(opts...)
		if err != nil {
			return service.IngestReport{}, err
		}
		return svc.Run(ctx, path, chunkSize)
	}

	if ingestPlain {
		report, err := run(cmd.Context(), path, func(ev service.IngestEvent) { printEvent(cmd, ev) })
		cmd.Println(tui.FormatReport(report, err))
		return err
	}

	model := tui.NewIngest(cmd.Context(), run, path)
	final, err := tea.NewProgram(model, tea.WithContext(cmd.Context())).Run()
	if err != nil {
		return fmt.Errorf("ingest view: %w", err)
	}
	_, err = final.(tui.IngestModel).Report()
	return err
}

func printEvent(cmd *cobra.Command, ev service.IngestEvent) {
	name := filepath.Base(ev.Path)
	switch ev.Kind {
	case service.RunStarted:
		cmd.Printf("Found %d files\n", ev.Total)
	case service.FileStarted:
		cmd.Printf("[%d/%d] %s\n", ev.Index, ev.Total, name)
	case service.FileIngested:
		cmd.Printf("  ingested %d chunks\n", ev.Chunks)
		if ev.Summary != "" {
			cmd.Printf("  summary: %s\n", ev.Summary)
		}
	case service.FileSkipped:
		if ev.Err != nil {
			cmd.Printf("  skipped %s (%s): %v\n", name, ev.Reason, ev.Err)
			return
		}
		cmd.Printf("  skipped %s (%s)\n", name, ev.Reason)
	}
}
