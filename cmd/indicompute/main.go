// Package main is the single-binary entrypoint for IndiCompute.
package main

import "github.com/indicompute/indicompute/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
