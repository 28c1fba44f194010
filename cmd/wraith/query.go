package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"wraith/internal/tui"
)

var queryQuestion string

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask questions about the ingested documents",
	Long: `Answers questions with the language model, grounded on the most
similar stored chunks. Without --question an interactive prompt opens;
type "exit" to leave.`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryQuestion, "question", "q", "", "ask a single question and print the answer")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, _ []string) error {
	interactive := queryQuestion == ""
	logger, err := newLogger(interactive)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.queryService()
	if err != nil {
		return err
	}

	if !interactive {
		res, err := svc.Run(cmd.Context(), queryQuestion)
		if err != nil {
			return err
		}
		cmd.Println(res.Answer)
		if len(res.Sources) > 0 {
			cmd.Println()
			cmd.Println(tui.FormatSources(res.Sources))
		}
		return nil
	}

	p := tea.NewProgram(tui.NewQuery(cmd.Context(), svc), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("query view: %w", err)
	}
	return nil
}
