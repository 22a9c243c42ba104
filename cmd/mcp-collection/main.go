// Package main is the entry point for the mcp-collection binary.
package main

import "github.com/sdesani/mcp-server-collection/internal/cli"

func main() {
	cli.Execute()
}
