package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/passagedev/passage/internal/app"
	"github.com/passagedev/passage/internal/config"
	"github.com/passagedev/passage/internal/log"
	"github.com/passagedev/passage/internal/retrieve"
)

var (
	queryTopK    int
	queryFilters []string
	showPrompt   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question against the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of passages to retrieve (default from config)")
	queryCmd.Flags().StringArrayVar(&queryFilters, "filter", nil, "metadata filter as key=value (repeatable)")
	queryCmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "print the composed prompt before the answer")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	opts, err := parseFilters(queryFilters)
	if err != nil {
		return err
	}

	topK := queryTopK
	if topK == 0 {
		topK = cfg.TopK
	}

	question := strings.Join(args, " ")
	resp, err := a.Answer.Answer(ctx, question, topK, opts...)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	if showPrompt {
		fmt.Println("--- prompt ---")
		fmt.Println(resp.Prompt)
		fmt.Println("--- answer ---")
	}
	fmt.Println(resp.Answer)

	if len(resp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, src := range resp.Sources {
			fmt.Printf("  [%d] %s (score %.3f)\n", i+1, src.Title, src.Score)
		}
	}
	return nil
}

// parseFilters converts key=value arguments into retrieval options.
func parseFilters(raw []string) ([]retrieve.QueryOption, error) {
	opts := make([]retrieve.QueryOption, 0, len(raw))
	for _, f := range raw {
		key, value, found := strings.Cut(f, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value", f)
		}
		opts = append(opts, retrieve.WithFilter(key, value))
	}
	return opts, nil
}
