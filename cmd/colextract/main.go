// Package main implements the colextract CLI, a client for the colextract
// HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

const defaultServer = "http://localhost:8080"

func main() {
	// A .env file is optional; existing environment variables win.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalOptions are the flags shared by every command.
type globalOptions struct {
	server string
	apiKey string
}

func (o *globalOptions) client() *client {
	return newClient(o.server, o.apiKey)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "colextract",
		Short: "Extract values from CSV columns with configurable services",
		Long: `colextract is a command-line client for the colextract server.

It imports CSV files as projects, runs extraction services over a column
and writes the results into new columns, with undo and redo.

Examples:
  colextract import contacts.csv
  colextract extract <project> --column Notes --service emails --wait
  colextract export <project> -o contacts-extracted.csv`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("COLEXTRACT_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "colextract server URL (env COLEXTRACT_SERVER)")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("COLEXTRACT_API_KEY"), "API key (env COLEXTRACT_API_KEY)")

	root.AddCommand(
		newImportCmd(opts),
		newProjectsCmd(opts),
		newShowCmd(opts),
		newDeleteCmd(opts),
		newExportCmd(opts),
		newExtractCmd(opts),
		newJobCmd(opts),
		newCancelCmd(opts),
		newHistoryCmd(opts),
		newUndoCmd(opts),
		newRedoCmd(opts),
		newServicesCmd(opts),
	)
	return root
}
