// Command aidgraph runs financial-aid discovery workflows from the command
// line or as an HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/aidgraph/cmd/aidgraph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
