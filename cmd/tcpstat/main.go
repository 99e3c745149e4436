// Command tcpstat prints a point-in-time JSON snapshot of every live
// connection in a tcpip.Stack, for operators debugging a running kernel
// image over its exposed debug socket.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lucidkernel/tcpip/internal/tcpip"
)

func run() error {
	addr := flag.String("addr", "", "fetch a snapshot from a running stack's debug endpoint instead of printing an empty one")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP request timeout when -addr is set")
	pretty := flag.Bool("pretty", true, "pretty-print the JSON output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `tcpstat - inspect a tcpip.Stack's live connections

USAGE:
  tcpstat [flags]

FLAGS:
  -addr HOST:PORT   Fetch JSON from a running stack's debug endpoint
  -timeout DURATION HTTP timeout when -addr is set (default 5s)
  -pretty           Pretty-print JSON output (default true)

Without -addr, tcpstat prints an empty snapshot; it is meant to be run
against a live stack's debug listener.
`)
	}
	flag.Parse()

	var snapshots []tcpip.TCBSnapshot

	if *addr != "" {
		client := &http.Client{Timeout: *timeout}
		resp, err := client.Get("http://" + *addr + "/debug/tcb")
		if err != nil {
			return fmt.Errorf("fetching snapshot from %s: %w", *addr, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("debug endpoint %s returned %s", *addr, resp.Status)
		}
		if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
			return fmt.Errorf("decoding snapshot from %s: %w", *addr, err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(snapshots)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tcpstat: %v\n", err)
		os.Exit(1)
	}
}
