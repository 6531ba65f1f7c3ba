// displayctl is a small CLI that queries a running displayworkerd's
// admin socket and prints the result: a one-shot inspection tool for
// operators rather than a long-running dashboard.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spicectl/displaycore/internal/admin"
)

func main() {
	sock := os.Getenv("DISPLAY_ADMIN_SOCKET")
	if sock == "" {
		sock = "/run/displaycore/admin.sock"
	}
	if len(os.Args) > 1 {
		sock = os.Args[1]
	}

	report, err := admin.Query(sock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "displayctl: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "displayctl: failed to print report: %v\n", err)
		os.Exit(1)
	}
}
