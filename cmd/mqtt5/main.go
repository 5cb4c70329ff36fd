// Command mqtt5 publishes and subscribes through the mqtt5 engine.
//
// Usage:
//
//	mqtt5 [flags] <command> [args]
//
// Commands:
//
//	pub      - Publish messages to a topic
//	sub      - Subscribe to topic filters and print messages
//	version  - Show version information
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
