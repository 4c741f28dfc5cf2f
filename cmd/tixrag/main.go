// Command tixrag indexes historical IT helpdesk tickets and turns the most
// similar ones into troubleshooting guides. It provides a CLI (via Cobra) and
// an HTTP API for use behind a helpdesk front end.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/tixrag/cmd/tixrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
