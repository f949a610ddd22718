// Command ingestor is the CLI surface over the ingestion core: schema
// init, historical backfill, real-time streaming, health checks and error
// monitoring, each mapped to the exit codes a supervisor can branch on.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ingestor:", err)
		os.Exit(exitCodeFor(err))
	}
}
