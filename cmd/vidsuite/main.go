// Package main provides the entry point for the vidsuite command line.
package main

import "github.com/maauso/vidsuite/internal/cli"

func main() {
	cli.Main()
}
