// Package main is the entry point for the crawld binary.
package main

import (
	"github.com/newsharvest/crawld/cmd"
)

func main() {
	cmd.Execute()
}
