// Package main provides the epirec CLI.
package main

import "github.com/mesh-intelligence/epirec/internal/cli"

func main() {
	cli.Execute()
}
