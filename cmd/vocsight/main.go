// Command vocsight is the entry point for the VocSight VOC classification
// pipeline. It provides a CLI interface (via Cobra) and an optional HTTP
// server exposing the processing engine over a REST/SSE API.
package main

import (
	"fmt"
	"os"

	"github.com/vocsight/vocsight-go/cmd/vocsight/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
