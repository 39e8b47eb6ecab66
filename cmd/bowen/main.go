// Command bowen is the entry point for Bowen, a legal information assistant
// over New Zealand legislation. It provides the offline ingestion pipeline
// (parse, chunk, embed), local search and ask commands, and the HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/joedaviesio/magna/cmd/bowen/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
