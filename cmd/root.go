// Package cmd implements the passage command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "passage",
	Short: "passage - retrieval-augmented question answering over your documents",
	Long: `Passage ingests documents into a vector index and answers questions
grounded in the retrieved passages, with citations back to the sources.

Typical usage:

  passage ingest ./docs            index all documents under ./docs
  passage query "how do I deploy?" ask a question against the index
  passage serve                    expose the HTTP API`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
