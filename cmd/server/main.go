// cmd/server/main.go
//
// scenechronicle runs the roleplay conversation engine.
//
// Usage:
//
//	scenechronicle serve                     HTTP + WebSocket API
//	scenechronicle chat --scenario <id>      interactive console session
//	scenechronicle presets                   list the built-in presets
//
// Configuration comes from the environment (and an optional .env file);
// see internal/config for the variable names.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
