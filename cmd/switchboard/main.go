// Command switchboard routes each message to the agent best suited to
// answer it.
//
// Usage:
//
//	switchboard [--config PATH] [command]
//
// Commands:
//
//	chat     - interactive terminal chat (default)
//	serve    - HTTP API
//	encrypt  - encrypt a secret for the config file
//	doctor   - check configuration and connectivity
//
// Configuration comes from config.yaml, overridden by SWITCHBOARD_*
// environment variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
