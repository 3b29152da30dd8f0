// Command agentcore runs configured agents under the lifecycle manager and
// the coordination service.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
