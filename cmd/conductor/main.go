// Command conductor is the entry point for the agent orchestrator.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
